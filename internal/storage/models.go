package storage

import (
	"time"

	"github.com/google/uuid"
)

// Move outcomes as stored in the journal.
const (
	OutcomeDone    = "done"
	OutcomeAborted = "aborted"
	OutcomeFailed  = "failed"
)

// Fault events as stored in the journal.
const (
	FaultLatched   = "latched"
	FaultHomed     = "homed"
	FaultConfirmed = "confirmed"
	FaultZeroed    = "zeroed"
)

// StepDetail is the per-axis part of a move record.
type StepDetail struct {
	Axis      string `json:"axis"`
	Status    string `json:"status"`
	Target    int64  `json:"target"`
	Final     int64  `json:"final"`
	Deviation int64  `json:"deviation"`
	Error     string `json:"error,omitempty"`
}

type MoveRecord struct {
	ID         uuid.UUID    `json:"id"`
	CommandID  string       `json:"command_id"`
	Source     string       `json:"source"`
	From       string       `json:"from"`
	To         string       `json:"to"`
	Piece      string       `json:"piece"`
	Outcome    string       `json:"outcome"`
	Steps      []StepDetail `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// FaultRecord journals a fault latch or a recovery. Verified is false for
// operator confirms, which re-seed positions without a hardware check.
type FaultRecord struct {
	ID         uuid.UUID        `json:"id"`
	Event      string           `json:"event"`
	Reason     string           `json:"reason"`
	Verified   bool             `json:"verified"`
	Positions  map[string]int64 `json:"positions"`
	RecordedAt time.Time        `json:"recorded_at"`
}
