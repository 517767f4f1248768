package machine

import "time"

// State is the fault latch.
type State string

const (
	StateNormal  State = "normal"
	StateFaulted State = "faulted"
)

// Coordinate selects which part of a square an axis positions on.
type Coordinate string

const (
	CoordinateFile Coordinate = "file"
	CoordinateRank Coordinate = "rank"
)

// Fault reasons as reported in acknowledgements.
const (
	ReasonFaultHomingRequired = "FAULT_HOMING_REQUIRED"
	ReasonHomingFailed        = "HOMING_FAILED"
	ReasonConfirmDisabled     = "CONFIRM_DISABLED"
)

type AxisStatus struct {
	Name                string `json:"name"`
	Position            int64  `json:"position"`
	LastCommandedTarget int64  `json:"last_commanded_target"`
	LastFailedTarget    *int64 `json:"last_failed_target,omitempty"`
	Invert              bool   `json:"invert"`
	Error               string `json:"error,omitempty"`
}

type MachineStatus struct {
	State           State        `json:"state"`
	FaultReason     string       `json:"fault_reason,omitempty"`
	Axes            []AxisStatus `json:"axes"`
	Connected       bool         `json:"connected"`
	Stage           string       `json:"stage,omitempty"`
	LastStateChange time.Time    `json:"last_state_change"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
