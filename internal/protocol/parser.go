package protocol

import (
	"fmt"
	"strings"

	"github.com/KevinKickass/VibeChessCore/internal/board"
)

const pieces = "PNBRQK"

// Parse converts one input line into a Command. It never panics and never
// returns a partially filled command: on error the Command is the zero value
// and the error wraps ErrBadFormat.
func Parse(line string, mode Mode) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, Prefix) {
		return Command{}, fmt.Errorf("%w: missing %q prefix", ErrBadFormat, strings.TrimSpace(Prefix))
	}

	fields := map[string]string{}
	for _, tok := range strings.Fields(line[len(Prefix):]) {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return Command{}, fmt.Errorf("%w: malformed token %q", ErrBadFormat, tok)
		}
		fields[strings.ToLower(key)] = value
	}

	cmd := Command{
		ID:        fields["id"],
		Type:      Type(strings.ToLower(fields["type"])),
		Notation:  fields["notation"],
		From:      fields["from"],
		To:        fields["to"],
		Piece:     strings.ToUpper(fields["piece"]),
		Source:    fields["source"],
		Timestamp: fields["timestamp"],
	}

	if err := validate(&cmd, mode); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	return cmd, nil
}

func validate(cmd *Command, mode Mode) error {
	if cmd.ID == "" {
		return fmt.Errorf("missing id")
	}

	switch mode {
	case ModeStrict:
		if cmd.Type != "" && cmd.Type != TypeMove {
			return fmt.Errorf("unsupported type %q", cmd.Type)
		}
	case ModeRecovery, ModeLenient:
		switch cmd.Type {
		case "", TypeMove, TypeHome, TypeConfirm:
		default:
			return fmt.Errorf("unsupported type %q", cmd.Type)
		}
	default:
		return fmt.Errorf("unknown parser mode %q", mode)
	}
	if cmd.Type == "" {
		cmd.Type = TypeMove
	}

	var required []string
	switch {
	case mode == ModeStrict:
		required = []string{"notation", "from", "to", "piece"}
	case mode == ModeRecovery && cmd.Type == TypeMove:
		required = []string{"from", "to", "piece"}
	}
	for _, key := range required {
		if cmd.field(key) == "" {
			return fmt.Errorf("missing %s", key)
		}
	}

	for _, key := range []string{"from", "to"} {
		if sq := cmd.field(key); sq != "" && !board.ValidSquare(sq) {
			return fmt.Errorf("%s=%q is not a square", key, sq)
		}
	}
	if cmd.Piece != "" && (len(cmd.Piece) != 1 || !strings.Contains(pieces, cmd.Piece)) {
		return fmt.Errorf("piece=%q is not one of %s", cmd.Piece, pieces)
	}
	return nil
}

func (c *Command) field(key string) string {
	switch key {
	case "notation":
		return c.Notation
	case "from":
		return c.From
	case "to":
		return c.To
	case "piece":
		return c.Piece
	}
	return ""
}
