package motion

import (
	"context"

	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"github.com/KevinKickass/VibeChessCore/internal/servo"
	"go.uber.org/zap"
)

// Event kinds published by the sequencer and the stage machine.
const (
	EventSequenceStarted   = "sequence_started"
	EventSequenceCompleted = "sequence_completed"
	EventSequenceFailed    = "sequence_failed"
	EventStepStarted       = "step_started"
	EventStepCompleted     = "step_completed"
	EventStepFailed        = "step_failed"
	EventStageChanged      = "stage_changed"
)

// EventSink receives progress events, e.g. the websocket status hub.
type EventSink interface {
	Publish(kind string, data any)
}

type nopSink struct{}

func (nopSink) Publish(string, any) {}

// Step moves one axis to an absolute target.
type Step struct {
	Servo  *servo.Servo
	Target int64
}

// StepResult is the outcome of one step.
type StepResult struct {
	Axis   string
	Result servo.Result
	Err    error
}

func (r StepResult) Succeeded() bool {
	return r.Err == nil && r.Result.Succeeded()
}

// Outcome aggregates the steps that were actually executed. Steps after the
// first failure are never started and do not appear.
type Outcome struct {
	Steps []StepResult
}

// Succeeded is true only when every executed step succeeded.
func (o Outcome) Succeeded() bool {
	_, failed := o.Failed()
	return !failed
}

// Failed returns the failing step, if any.
func (o Outcome) Failed() (StepResult, bool) {
	for _, s := range o.Steps {
		if !s.Succeeded() {
			return s, true
		}
	}
	return StepResult{}, false
}

// Aborted reports whether the sequence ended because of an operator stop.
func (o Outcome) Aborted() bool {
	s, failed := o.Failed()
	return failed && s.Result.Status == servo.Aborted
}

// Sequencer runs blocking servo steps in order and stops at the first failure.
type Sequencer struct {
	clock  servo.Clock
	abort  servo.AbortSignal
	busy   hw.Output
	events EventSink
	logger *zap.Logger
}

func NewSequencer(clock servo.Clock, abort servo.AbortSignal, busy hw.Output, events EventSink, logger *zap.Logger) *Sequencer {
	if clock == nil {
		clock = servo.WallClock
	}
	if busy == nil {
		busy = hw.NopOutput{}
	}
	if events == nil {
		events = nopSink{}
	}
	return &Sequencer{clock: clock, abort: abort, busy: busy, events: events, logger: logger}
}

// Run executes steps in order. The busy output is held on for the duration.
func (s *Sequencer) Run(ctx context.Context, steps []Step) Outcome {
	s.setBusy(ctx, true)
	defer s.setBusy(context.WithoutCancel(ctx), false)

	s.events.Publish(EventSequenceStarted, map[string]any{"steps": len(steps)})

	var out Outcome
	for i, step := range steps {
		axis := step.Servo.Name()
		s.events.Publish(EventStepStarted, map[string]any{
			"step_index": i,
			"axis":       axis,
			"target":     step.Target,
		})

		res, err := step.Servo.MoveTo(ctx, step.Target, s.clock, s.abort)
		sr := StepResult{Axis: axis, Result: res, Err: err}
		out.Steps = append(out.Steps, sr)

		payload := map[string]any{
			"step_index": i,
			"axis":       axis,
			"status":     res.Status.String(),
			"final":      res.Final,
			"deviation":  res.Deviation,
		}
		if !sr.Succeeded() {
			if err != nil {
				payload["error"] = err.Error()
			}
			s.events.Publish(EventStepFailed, payload)
			s.events.Publish(EventSequenceFailed, map[string]any{"axis": axis, "status": res.Status.String()})
			s.logger.Warn("Sequence stopped",
				zap.String("axis", axis),
				zap.Int("step", i),
				zap.String("status", res.Status.String()),
				zap.Bool("valid", res.Valid),
				zap.Error(err))
			return out
		}
		s.events.Publish(EventStepCompleted, payload)
	}

	s.events.Publish(EventSequenceCompleted, map[string]any{"steps": len(steps)})
	return out
}

func (s *Sequencer) setBusy(ctx context.Context, on bool) {
	if err := s.busy.Set(ctx, on); err != nil {
		s.logger.Warn("Failed to set busy indicator", zap.Bool("on", on), zap.Error(err))
	}
}
