package servo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"go.uber.org/zap"
)

// Status is the state of a move after a tick.
type Status int

const (
	Running Status = iota
	Arrived
	TimedOut
	Aborted
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Arrived:
		return "arrived"
	case TimedOut:
		return "timed_out"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

var errNotStarted = errors.New("no move in progress")

// Config tunes the two-speed position loop of one axis.
type Config struct {
	SpeedFast uint8
	SpeedSlow uint8
	// SlowZone is the error below which SpeedSlow is used.
	SlowZone int64
	// Tolerance is the arrival radius in counts.
	Tolerance int64
	// CriticalThreshold is the post-stop deviation beyond which an arrived
	// move still counts as failed. Zero disables the check.
	CriticalThreshold int64
	Timeout           time.Duration
	PollInterval      time.Duration
	// PreStopMargin cuts power this many counts early on travels longer than
	// LongTravel, relying on the brake. Zero disables early cutoff.
	PreStopMargin int64
	LongTravel    int64
	// Settle delays the post-stop encoder read so coast is included in the
	// validated position.
	Settle time.Duration
	Invert bool
	Brake  hw.StopMode
}

// Clock abstracts time for MoveTo.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

type wallClock struct{}

func (wallClock) Now() time.Time        { return time.Now() }
func (wallClock) Sleep(d time.Duration) { time.Sleep(d) }

// WallClock is the real-time Clock.
var WallClock Clock = wallClock{}

// AbortSignal is polled once per tick.
type AbortSignal interface {
	AbortRequested() bool
}

// Result describes a finished move.
type Result struct {
	Status    Status
	Target    int64
	Final     int64
	Deviation int64
	Elapsed   time.Duration
	// Valid is false when the post-stop deviation exceeded the critical threshold.
	Valid bool
}

// Succeeded reports whether the axis arrived and passed post-stop validation.
func (r Result) Succeeded() bool {
	return r.Status == Arrived && r.Valid
}

// Servo drives one axis to encoder targets with bang-bang control.
type Servo struct {
	name   string
	axis   hw.Axis
	cfg    Config
	logger *zap.Logger

	active  bool
	target  int64
	started time.Time
	cutoff  bool

	lastDuty uint8
	lastDir  hw.Direction
}

// New creates a servo for axis.
func New(name string, axis hw.Axis, cfg Config, logger *zap.Logger) *Servo {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Millisecond
	}
	if cfg.Brake == "" {
		cfg.Brake = hw.StopCoast
	}
	return &Servo{
		name:   name,
		axis:   axis,
		cfg:    cfg,
		logger: logger.With(zap.String("axis", name)),
	}
}

func (s *Servo) Name() string   { return s.name }
func (s *Servo) Config() Config { return s.cfg }
func (s *Servo) Axis() hw.Axis  { return s.axis }

// Active reports whether a move has been started and not yet terminated.
func (s *Servo) Active() bool { return s.active }

// Target returns the target of the current or last move.
func (s *Servo) Target() int64 { return s.target }

// ToggleInvert flips the direction inversion flag and returns the new value.
func (s *Servo) ToggleInvert() bool {
	s.cfg.Invert = !s.cfg.Invert
	return s.cfg.Invert
}

// Start begins a move toward target. The early-cutoff variant is armed when
// the travel from the current position exceeds LongTravel.
func (s *Servo) Start(ctx context.Context, target int64, now time.Time) error {
	pos, err := s.axis.Position(ctx)
	if err != nil {
		return fmt.Errorf("read %s encoder: %w", s.name, err)
	}

	s.active = true
	s.target = target
	s.started = now
	s.lastDuty = 0
	s.lastDir = 0
	s.cutoff = s.cfg.PreStopMargin > 0 && abs(target-pos) > s.cfg.LongTravel

	s.logger.Debug("Move started",
		zap.Int64("position", pos),
		zap.Int64("target", target),
		zap.Bool("early_cutoff", s.cutoff))
	return nil
}

// Tick runs one iteration of the control loop. It returns Running until a
// terminal condition is reached; the motor is stopped before any terminal
// status is returned.
func (s *Servo) Tick(ctx context.Context, now time.Time, abort bool) (Status, error) {
	if !s.active {
		return Running, errNotStarted
	}

	if abort {
		return Aborted, s.halt(ctx, hw.StopBrake)
	}

	pos, err := s.axis.Position(ctx)
	if err != nil {
		_ = s.halt(ctx, hw.StopBrake)
		return Running, fmt.Errorf("read %s encoder: %w", s.name, err)
	}

	delta := s.target - pos
	dist := abs(delta)

	if dist <= s.cfg.Tolerance {
		return Arrived, s.halt(ctx, s.cfg.Brake)
	}
	if s.cutoff && dist <= s.cfg.PreStopMargin {
		return Arrived, s.halt(ctx, hw.StopBrake)
	}
	if now.Sub(s.started) > s.cfg.Timeout {
		return TimedOut, s.halt(ctx, s.cfg.Brake)
	}

	duty := s.cfg.SpeedSlow
	if dist > s.cfg.SlowZone {
		duty = s.cfg.SpeedFast
	}
	dir := hw.Forward
	if delta < 0 {
		dir = hw.Reverse
	}
	if s.cfg.Invert {
		dir = dir.Flip()
	}

	if duty != s.lastDuty || dir != s.lastDir {
		if err := s.axis.Drive(ctx, duty, dir); err != nil {
			_ = s.halt(ctx, hw.StopBrake)
			return Running, fmt.Errorf("drive %s: %w", s.name, err)
		}
		s.lastDuty, s.lastDir = duty, dir
	}
	return Running, nil
}

// Stop ends any move in progress with a hard stop.
func (s *Servo) Stop(ctx context.Context) error {
	return s.halt(ctx, hw.StopBrake)
}

func (s *Servo) halt(ctx context.Context, mode hw.StopMode) error {
	s.active = false
	s.lastDuty = 0
	s.lastDir = 0
	if err := s.axis.Stop(ctx, mode); err != nil {
		return fmt.Errorf("stop %s: %w", s.name, err)
	}
	return nil
}

// MoveTo blocks until the axis reaches target, times out or is aborted, then
// validates the resting position against the critical threshold. Context
// cancellation stops the motor and is reported as Aborted with ctx.Err().
func (s *Servo) MoveTo(ctx context.Context, target int64, clock Clock, abort AbortSignal) (Result, error) {
	if clock == nil {
		clock = WallClock
	}

	start := clock.Now()
	if err := s.Start(ctx, target, start); err != nil {
		return Result{Target: target}, err
	}

	var status Status
	for {
		if err := ctx.Err(); err != nil {
			_ = s.halt(context.WithoutCancel(ctx), hw.StopBrake)
			return Result{Status: Aborted, Target: target, Elapsed: clock.Now().Sub(start)}, err
		}

		st, err := s.Tick(ctx, clock.Now(), abort != nil && abort.AbortRequested())
		if err != nil {
			return Result{Status: st, Target: target, Elapsed: clock.Now().Sub(start)}, err
		}
		if st != Running {
			status = st
			break
		}
		clock.Sleep(s.cfg.PollInterval)
	}

	res := Result{Status: status, Target: target, Elapsed: clock.Now().Sub(start)}

	if status != Aborted && s.cfg.Settle > 0 {
		clock.Sleep(s.cfg.Settle)
	}
	final, err := s.axis.Position(ctx)
	if err != nil {
		return res, fmt.Errorf("read %s encoder: %w", s.name, err)
	}
	res.Final = final
	res.Deviation = abs(target - final)
	res.Valid = s.cfg.CriticalThreshold <= 0 || res.Deviation <= s.cfg.CriticalThreshold

	fields := []zap.Field{
		zap.String("status", status.String()),
		zap.Int64("target", target),
		zap.Int64("final", final),
		zap.Int64("deviation", res.Deviation),
		zap.Duration("elapsed", res.Elapsed),
	}
	switch {
	case status == Arrived && !res.Valid:
		s.logger.Warn("Move arrived outside critical threshold", fields...)
	case status == TimedOut:
		s.logger.Warn("Move timed out", fields...)
	default:
		s.logger.Info("Move finished", fields...)
	}
	return res, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
