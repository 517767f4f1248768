package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/board"
	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"github.com/KevinKickass/VibeChessCore/internal/motion"
	"github.com/KevinKickass/VibeChessCore/internal/servo"
	"github.com/KevinKickass/VibeChessCore/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrConfirmDisabled = errors.New("confirm recovery disabled")
	ErrHomingFailed    = errors.New("homing failed")
	ErrAborted         = errors.New("aborted")
	ErrUnknownAxis     = errors.New("unknown axis")
)

// HomingConfig drives one axis toward its zero wall.
type HomingConfig struct {
	Speed    uint8
	Duration time.Duration
}

// AxisState is one physical axis. Position lives in the encoder; only the
// encoder, Home, Confirm and Zero change it.
type AxisState struct {
	Name        string
	Coordinate  Coordinate
	Servo       *servo.Servo
	Calibration board.Calibration
	Homing      HomingConfig
	// HomeSwitch is optional. When set, homing stops as soon as it trips and
	// fails if it never does.
	HomeSwitch hw.Switch

	LastCommandedTarget int64
	lastFailedTarget    int64
	hasFailedTarget     bool
}

// LastFailedTarget returns the target of the last failed move on this axis.
func (a *AxisState) LastFailedTarget() (int64, bool) {
	return a.lastFailedTarget, a.hasFailedTarget
}

// StateListener is notified on every fault latch transition.
type StateListener func(prev, next State, reason string)

// Options configure a Controller.
type Options struct {
	AllowConfirm bool
	Clock        servo.Clock
	Abort        servo.AbortSignal
	Journal      storage.Journal
}

// Controller is the controller state: axes, fault latch and connection flag.
// Motion methods must only be called from the control loop; the fault state
// and connection flag may be read from any goroutine.
type Controller struct {
	logger       *zap.Logger
	axes         []*AxisState
	clock        servo.Clock
	abort        servo.AbortSignal
	journal      storage.Journal
	allowConfirm bool

	mu              sync.RWMutex
	state           State
	faultReason     string
	lastStateChange time.Time
	listeners       []StateListener

	connected atomic.Bool
}

func NewController(logger *zap.Logger, axes []*AxisState, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = servo.WallClock
	}
	if opts.Journal == nil {
		opts.Journal = storage.NopJournal{}
	}
	return &Controller{
		logger:          logger,
		axes:            axes,
		clock:           opts.Clock,
		abort:           opts.Abort,
		journal:         opts.Journal,
		allowConfirm:    opts.AllowConfirm,
		state:           StateNormal,
		lastStateChange: opts.Clock.Now(),
	}
}

func (c *Controller) Axes() []*AxisState { return c.axes }

// Axis looks up an axis by name.
func (c *Controller) Axis(name string) (*AxisState, error) {
	for _, a := range c.axes {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAxis, name)
}

// AddListener registers fn for state changes. Not safe to call concurrently
// with state changes; register during startup.
func (c *Controller) AddListener(fn StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Faulted() bool { return c.State() == StateFaulted }

func (c *Controller) FaultReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.faultReason
}

// SetConnected records whether a wireless client is attached.
func (c *Controller) SetConnected(on bool) { c.connected.Store(on) }

func (c *Controller) Connected() bool { return c.connected.Load() }

// Plan maps a destination square to one servo step per axis, X before Y in
// configuration order, and records the targets as last commanded.
func (c *Controller) Plan(to board.Square) []motion.Step {
	steps := make([]motion.Step, 0, len(c.axes))
	for _, a := range c.axes {
		index := to.File
		if a.Coordinate == CoordinateRank {
			index = to.Rank
		}
		target := a.Calibration.Target(index)
		a.LastCommandedTarget = target
		steps = append(steps, motion.Step{Servo: a.Servo, Target: target})
	}
	return steps
}

// Fail latches the fault and remembers the attempted target of every axis
// in steps for a later Confirm.
func (c *Controller) Fail(ctx context.Context, reason string, steps []motion.Step) {
	for _, step := range steps {
		for _, a := range c.axes {
			if a.Servo == step.Servo {
				a.lastFailedTarget = step.Target
				a.hasFailedTarget = true
			}
		}
	}

	c.setState(StateFaulted, reason)
	c.record(ctx, storage.FaultLatched, reason, true)
}

func (c *Controller) setState(next State, reason string) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.faultReason = reason
	c.lastStateChange = c.clock.Now()
	listeners := append([]StateListener(nil), c.listeners...)
	c.mu.Unlock()

	if prev == next && next == StateNormal {
		return
	}
	if next == StateFaulted {
		c.logger.Warn("Fault latched", zap.String("reason", reason))
	} else {
		c.logger.Info("Machine state changed", zap.String("state", string(next)), zap.String("previous", string(prev)))
	}
	for _, fn := range listeners {
		fn(prev, next, reason)
	}
}

func (c *Controller) record(ctx context.Context, event, reason string, verified bool) {
	rec := &storage.FaultRecord{
		Event:      event,
		Reason:     reason,
		Verified:   verified,
		Positions:  c.positions(ctx),
		RecordedAt: c.clock.Now(),
	}
	if err := c.journal.RecordFault(ctx, rec); err != nil {
		c.logger.Error("Failed to journal fault event", zap.String("event", event), zap.Error(err))
	}
}

func (c *Controller) positions(ctx context.Context) map[string]int64 {
	out := make(map[string]int64, len(c.axes))
	for _, a := range c.axes {
		if pos, err := a.Servo.Axis().Position(ctx); err == nil {
			out[a.Name] = pos
		}
	}
	return out
}

// Status reads every encoder and returns a snapshot.
func (c *Controller) Status(ctx context.Context) MachineStatus {
	c.mu.RLock()
	st := MachineStatus{
		State:           c.state,
		FaultReason:     c.faultReason,
		LastStateChange: c.lastStateChange,
	}
	c.mu.RUnlock()

	st.Connected = c.Connected()
	st.UpdatedAt = c.clock.Now()
	for _, a := range c.axes {
		as := AxisStatus{
			Name:                a.Name,
			LastCommandedTarget: a.LastCommandedTarget,
			Invert:              a.Servo.Config().Invert,
		}
		if t, ok := a.LastFailedTarget(); ok {
			as.LastFailedTarget = &t
		}
		pos, err := a.Servo.Axis().Position(ctx)
		if err != nil {
			as.Error = err.Error()
		}
		as.Position = pos
		st.Axes = append(st.Axes, as)
	}
	return st
}
