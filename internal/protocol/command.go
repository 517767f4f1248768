package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadFormat marks every rejected command line. The dispatcher reports it
// to clients as "bad_format".
var ErrBadFormat = errors.New("bad_format")

// Prefix starts every command line.
const Prefix = "CMD "

// Type is the kind of a parsed command.
type Type string

const (
	TypeMove    Type = "move"
	TypeHome    Type = "home"
	TypeConfirm Type = "confirm"
)

// Mode selects how strictly command lines are validated.
type Mode string

const (
	// ModeLenient only requires an id.
	ModeLenient Mode = "lenient"
	// ModeStrict requires id, notation, from, to and piece, and only accepts moves.
	ModeStrict Mode = "strict"
	// ModeRecovery accepts move, home and confirm. Moves need from, to and piece.
	ModeRecovery Mode = "recovery"
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeLenient, ModeStrict, ModeRecovery:
		return m, nil
	case "":
		return ModeRecovery, nil
	default:
		return "", fmt.Errorf("unknown parser mode %q", s)
	}
}

// Command is a validated client request.
type Command struct {
	ID        string
	Type      Type
	Notation  string
	From      string
	To        string
	Piece     string
	Source    string
	Timestamp string
}

// IsMove reports whether the command requests carriage motion.
func (c Command) IsMove() bool {
	return c.Type == TypeMove
}

// Line renders the command back into the wire grammar. Empty fields are omitted.
func (c Command) Line() string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteString("id=")
	b.WriteString(c.ID)

	for _, kv := range [][2]string{
		{"type", string(c.Type)},
		{"notation", c.Notation},
		{"from", c.From},
		{"to", c.To},
		{"piece", c.Piece},
		{"source", c.Source},
		{"timestamp", c.Timestamp},
	} {
		if kv[1] == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(kv[1])
	}
	return b.String()
}
