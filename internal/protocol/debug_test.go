package protocol

import (
	"errors"
	"testing"
)

func TestParseDebug(t *testing.T) {
	tests := []struct {
		line  string
		op    DebugOp
		value int64
		err   bool
	}{
		{"f", DebugJogForward, 0, false},
		{"R", DebugJogReverse, 0, false},
		{" s \r\n", DebugStop, 0, false},
		{"z", DebugZero, 0, false},
		{"i", DebugInvert, 0, false},
		{"x", DebugSelectX, 0, false},
		{"y", DebugSelectY, 0, false},
		{"1", DebugSquare, 1, false},
		{"8", DebugSquare, 8, false},
		{"9", DebugCounts, 9, false},
		{"12000", DebugCounts, 12000, false},
		{"0", 0, 0, true},
		{"-5", 0, 0, true},
		{"q", 0, 0, true},
		{"fr", 0, 0, true},
		{"", 0, 0, true},
		{"99999999999999999999999", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseDebug(tt.line)
			if tt.err {
				if !errors.Is(err, ErrBadFormat) {
					t.Fatalf("expected ErrBadFormat, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Op != tt.op || got.Value != tt.value {
				t.Errorf("got %+v, want op=%c value=%d", got, tt.op, tt.value)
			}
		})
	}
}

func TestIsStop(t *testing.T) {
	for _, line := range []string{"s", "S", " s\n"} {
		if !IsStop(line) {
			t.Errorf("IsStop(%q) = false", line)
		}
	}
	for _, line := range []string{"", "stop", "CMD id=1 type=stop", "z"} {
		if IsStop(line) {
			t.Errorf("IsStop(%q) = true", line)
		}
	}
}
