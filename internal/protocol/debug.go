package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// DebugOp is a manual jog command from the diagnostic port.
type DebugOp byte

const (
	DebugJogForward DebugOp = 'f'
	DebugJogReverse DebugOp = 'r'
	DebugStop       DebugOp = 's'
	DebugZero       DebugOp = 'z'
	DebugInvert     DebugOp = 'i'
	DebugSelectX    DebugOp = 'x'
	DebugSelectY    DebugOp = 'y'
	DebugSquare     DebugOp = '#'
	DebugCounts     DebugOp = '='
)

var debugOps = map[byte]DebugOp{
	'f': DebugJogForward,
	'r': DebugJogReverse,
	's': DebugStop,
	'z': DebugZero,
	'i': DebugInvert,
	'x': DebugSelectX,
	'y': DebugSelectY,
}

// DebugCommand is a parsed diagnostic line.
type DebugCommand struct {
	Op DebugOp
	// Value holds the square index for DebugSquare and raw counts for DebugCounts.
	Value int64
}

// ParseDebug parses a diagnostic line: a single command letter, or a
// digit-only line where 1-8 addresses a square and larger values are raw
// encoder counts.
func ParseDebug(line string) (DebugCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return DebugCommand{}, fmt.Errorf("%w: empty line", ErrBadFormat)
	}

	if len(line) == 1 {
		if op, ok := debugOps[strings.ToLower(line)[0]]; ok {
			return DebugCommand{Op: op}, nil
		}
	}

	for i := 0; i < len(line); i++ {
		if line[i] < '0' || line[i] > '9' {
			return DebugCommand{}, fmt.Errorf("%w: unknown debug command %q", ErrBadFormat, line)
		}
	}
	n, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return DebugCommand{}, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	switch {
	case n == 0:
		return DebugCommand{}, fmt.Errorf("%w: square 0 does not exist", ErrBadFormat)
	case n <= 8:
		return DebugCommand{Op: DebugSquare, Value: n}, nil
	default:
		return DebugCommand{Op: DebugCounts, Value: n}, nil
	}
}

// IsStop reports whether a raw diagnostic line requests an abort. Transports
// call it before queueing so a running move can observe the stop.
func IsStop(line string) bool {
	l := strings.TrimSpace(line)
	return l == "s" || l == "S"
}
