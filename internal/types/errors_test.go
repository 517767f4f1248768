package types

import "testing"

func TestCodeStatus(t *testing.T) {
	tests := map[Code]int{
		CodeCommandBusy:     503,
		CodeAuthRejected:    401,
		CodeJournalDisabled: 404,
		Code("BROKEN"):      500,
		Code("X_999"):       500,
		Code("X_abc"):       500,
	}
	for code, want := range tests {
		if got := code.Status(); got != want {
			t.Errorf("%s.Status() = %d, want %d", code, got, want)
		}
	}
}
