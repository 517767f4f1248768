package hw

import "context"

// Direction is the sign of a motor command.
type Direction int

const (
	Reverse Direction = -1
	Forward Direction = +1
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	return -d
}

func (d Direction) String() string {
	if d < 0 {
		return "reverse"
	}
	return "forward"
}

// StopMode selects how a motor is stopped.
type StopMode string

const (
	StopCoast StopMode = "coast"
	StopBrake StopMode = "brake"
)

// MaxDuty is the full-scale PWM magnitude accepted by Motor.Drive.
const MaxDuty = 255

// Motor drives one axis. Implementations are not required to be safe for
// concurrent use; the control loop is the only caller.
type Motor interface {
	Drive(ctx context.Context, duty uint8, dir Direction) error
	Stop(ctx context.Context, mode StopMode) error
}

// Encoder exposes the signed position counter of one axis.
type Encoder interface {
	Position(ctx context.Context) (int64, error)
	// SetPosition overwrites the counter. Used for zeroing and for
	// re-seeding after a manual correction.
	SetPosition(ctx context.Context, counts int64) error
}

// Axis bundles the motor and encoder of one physical axis.
type Axis interface {
	Motor
	Encoder
}

// Switch is a digital input such as a home limit switch.
type Switch interface {
	Triggered(ctx context.Context) (bool, error)
}

// Output is a digital output such as the busy LED or the electromagnet.
type Output interface {
	Set(ctx context.Context, on bool) error
}

// NopOutput discards all writes. Used when an output is not wired.
type NopOutput struct{}

func (NopOutput) Set(context.Context, bool) error { return nil }
