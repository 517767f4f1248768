package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/hw"
)

// Clock is the time source of the simulated plant.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Config describes the simulated axis mechanics.
type Config struct {
	// CountsPerSecond is the encoder rate at full duty.
	CountsPerSecond float64
	// StallDuty is the duty at or below which the motor does not turn.
	StallDuty uint8
	// Coast is how many counts the axis keeps travelling after a coast stop.
	Coast int64
}

// Axis is a simulated DC motor with a quadrature encoder. Position is
// integrated lazily from the commanded velocity whenever it is observed.
type Axis struct {
	mu       sync.Mutex
	cfg      Config
	clock    Clock
	position float64
	velocity float64
	last     time.Time
	stuck    bool

	drives int
	stops  []hw.StopMode
}

// NewAxis creates a simulated axis at position 0. A nil clock uses wall time.
func NewAxis(cfg Config, clock Clock) *Axis {
	if clock == nil {
		clock = wallClock{}
	}
	if cfg.CountsPerSecond <= 0 {
		cfg.CountsPerSecond = 4000
	}
	return &Axis{cfg: cfg, clock: clock, last: clock.Now()}
}

func (a *Axis) advance() {
	now := a.clock.Now()
	dt := now.Sub(a.last).Seconds()
	a.last = now
	if dt <= 0 || a.stuck {
		return
	}
	a.position += a.velocity * dt
}

// Drive implements hw.Motor.
func (a *Axis) Drive(_ context.Context, duty uint8, dir hw.Direction) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.advance()
	a.drives++
	if duty <= a.cfg.StallDuty {
		a.velocity = 0
		return nil
	}
	a.velocity = float64(dir) * a.cfg.CountsPerSecond * float64(duty) / hw.MaxDuty
	return nil
}

// Stop implements hw.Motor.
func (a *Axis) Stop(_ context.Context, mode hw.StopMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.advance()
	if mode == hw.StopCoast && a.velocity != 0 && !a.stuck {
		a.position += math.Copysign(float64(a.cfg.Coast), a.velocity)
	}
	a.velocity = 0
	a.stops = append(a.stops, mode)
	return nil
}

// Position implements hw.Encoder.
func (a *Axis) Position(context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.advance()
	return int64(math.Round(a.position)), nil
}

// SetPosition implements hw.Encoder.
func (a *Axis) SetPosition(_ context.Context, counts int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.advance()
	a.position = float64(counts)
	return nil
}

// Jam makes the axis ignore drive commands, e.g. to simulate a stall.
func (a *Axis) Jam(stuck bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance()
	a.stuck = stuck
}

// Moving reports whether the motor is currently commanded to turn.
func (a *Axis) Moving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.velocity != 0
}

// Drives returns the number of Drive calls seen so far.
func (a *Axis) Drives() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drives
}

// Stops returns the stop modes seen so far.
func (a *Axis) Stops() []hw.StopMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]hw.StopMode(nil), a.stops...)
}

// Switch is a simulated home switch that trips when the axis is at or below
// a threshold.
type Switch struct {
	Axis      *Axis
	Threshold int64
}

// Triggered implements hw.Switch.
func (s *Switch) Triggered(ctx context.Context) (bool, error) {
	pos, err := s.Axis.Position(ctx)
	if err != nil {
		return false, err
	}
	return pos <= s.Threshold, nil
}

// Output records the last value written to a simulated digital output.
type Output struct {
	mu     sync.Mutex
	on     bool
	writes int
}

// Set implements hw.Output.
func (o *Output) Set(_ context.Context, on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.on = on
	o.writes++
	return nil
}

// On reports the last written value.
func (o *Output) On() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.on
}

// Writes reports how many times Set was called.
func (o *Output) Writes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes
}
