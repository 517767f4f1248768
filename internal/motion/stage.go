package motion

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"github.com/KevinKickass/VibeChessCore/internal/servo"
	"go.uber.org/zap"
)

// Stage is the state of the timed move cycle.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageTravelToColumn Stage = "travel_to_column"
	StagePickPlace      Stage = "pick_place"
	StageCooldown       Stage = "cooldown"
)

// ErrStageBusy is returned by Begin when a cycle is already running.
var ErrStageBusy = errors.New("stage cycle in progress")

// StageDurations sets how long each stage lasts. Transitions depend on
// elapsed time only, never on servo completion.
type StageDurations struct {
	Travel    time.Duration `mapstructure:"travel" yaml:"travel"`
	PickPlace time.Duration `mapstructure:"pick_place" yaml:"pick_place"`
	Cooldown  time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// StageMachine is the non-blocking travel -> pick/place -> cooldown cycle.
// It must be ticked from the control loop.
type StageMachine struct {
	durations StageDurations
	magnet    hw.Output
	busy      hw.Output
	events    EventSink
	logger    *zap.Logger

	stage   Stage
	entered time.Time
	tag     string
	travel  Step
}

func NewStageMachine(d StageDurations, magnet, busy hw.Output, events EventSink, logger *zap.Logger) *StageMachine {
	if magnet == nil {
		magnet = hw.NopOutput{}
	}
	if busy == nil {
		busy = hw.NopOutput{}
	}
	if events == nil {
		events = nopSink{}
	}
	return &StageMachine{
		durations: d,
		magnet:    magnet,
		busy:      busy,
		events:    events,
		logger:    logger,
		stage:     StageIdle,
	}
}

func (m *StageMachine) Stage() Stage { return m.stage }

// Busy reports whether a cycle is running.
func (m *StageMachine) Busy() bool { return m.stage != StageIdle }

// Tag returns the tag passed to Begin for the running cycle.
func (m *StageMachine) Tag() string { return m.tag }

// Begin starts a cycle from Idle. tag identifies the cycle to the caller and
// is returned by Tick when the cycle completes. travel.Servo may be nil.
func (m *StageMachine) Begin(ctx context.Context, tag string, travel Step, now time.Time) error {
	if m.Busy() {
		return ErrStageBusy
	}
	m.tag = tag
	m.travel = travel
	m.set(ctx, m.busy, true)
	m.enter(ctx, StageTravelToColumn, now)

	if travel.Servo != nil {
		if err := travel.Servo.Start(ctx, travel.Target, now); err != nil {
			m.logger.Warn("Travel servo failed to start", zap.Error(err))
		}
	}
	return nil
}

// Tick advances the cycle. It returns the cycle tag and true exactly once,
// on the transition from Cooldown back to Idle.
func (m *StageMachine) Tick(ctx context.Context, now time.Time) (string, bool) {
	elapsed := now.Sub(m.entered)

	switch m.stage {
	case StageTravelToColumn:
		m.tickTravel(ctx, now)
		if elapsed >= m.durations.Travel {
			m.stopTravel(ctx)
			m.enter(ctx, StagePickPlace, now)
		}
	case StagePickPlace:
		if elapsed >= m.durations.PickPlace {
			m.enter(ctx, StageCooldown, now)
		}
	case StageCooldown:
		if elapsed >= m.durations.Cooldown {
			tag := m.tag
			m.enter(ctx, StageIdle, now)
			m.set(ctx, m.busy, false)
			m.tag = ""
			return tag, true
		}
	}
	return "", false
}

// Cancel stops the cycle immediately and returns to Idle. It returns the tag
// of the cancelled cycle, if one was running.
func (m *StageMachine) Cancel(ctx context.Context, now time.Time) (string, bool) {
	if !m.Busy() {
		return "", false
	}
	tag := m.tag
	m.stopTravel(ctx)
	m.enter(ctx, StageIdle, now)
	m.set(ctx, m.magnet, false)
	m.set(ctx, m.busy, false)
	m.tag = ""
	return tag, true
}

func (m *StageMachine) tickTravel(ctx context.Context, now time.Time) {
	s := m.travel.Servo
	if s == nil || !s.Active() {
		return
	}
	st, err := s.Tick(ctx, now, false)
	if err != nil {
		m.logger.Warn("Travel servo error", zap.String("axis", s.Name()), zap.Error(err))
		return
	}
	if st != servo.Running {
		m.logger.Debug("Travel servo finished", zap.String("axis", s.Name()), zap.String("status", st.String()))
	}
}

func (m *StageMachine) stopTravel(ctx context.Context) {
	s := m.travel.Servo
	if s == nil || !s.Active() {
		return
	}
	if err := s.Stop(ctx); err != nil {
		m.logger.Warn("Failed to stop travel servo", zap.Error(err))
	}
}

func (m *StageMachine) enter(ctx context.Context, next Stage, now time.Time) {
	prev := m.stage
	m.stage = next
	m.entered = now

	switch next {
	case StagePickPlace:
		m.set(ctx, m.magnet, true)
	case StageCooldown:
		m.set(ctx, m.magnet, false)
	}

	m.logger.Debug("Stage changed", zap.String("from", string(prev)), zap.String("to", string(next)))
	m.events.Publish(EventStageChanged, map[string]any{
		"stage":    string(next),
		"previous": string(prev),
		"tag":      m.tag,
	})
}

func (m *StageMachine) set(ctx context.Context, out hw.Output, on bool) {
	if err := out.Set(ctx, on); err != nil {
		m.logger.Warn("Output write failed", zap.Bool("on", on), zap.Error(err))
	}
}
