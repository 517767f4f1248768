package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/board"
	"github.com/KevinKickass/VibeChessCore/internal/machine"
	"github.com/KevinKickass/VibeChessCore/internal/motion"
	"github.com/KevinKickass/VibeChessCore/internal/protocol"
	"github.com/KevinKickass/VibeChessCore/internal/servo"
	"github.com/KevinKickass/VibeChessCore/internal/storage"
	"go.uber.org/zap"
)

// Channel is a transport that carries acknowledgements to a client.
// Implementations must be safe for concurrent use.
type Channel interface {
	Send(line string) error
}

// Options configure a Dispatcher.
type Options struct {
	Mode protocol.Mode
	// Files restricts destination files. Zero value means a-h.
	Files board.FileRange
	// Stages enables the timed stage cycle instead of the blocking sequencer.
	Stages   *motion.StageMachine
	Journal  storage.Journal
	Clock    servo.Clock
	JogSpeed uint8
	// Diagnostic receives every ack plus jog status lines; Notify receives acks.
	Diagnostic Channel
	Notify     Channel
}

// Dispatcher turns parsed lines into controller actions and acknowledgements.
// Everything except Emit must run on the control loop.
type Dispatcher struct {
	ctrl    *machine.Controller
	seq     *motion.Sequencer
	stages  *motion.StageMachine
	mode    protocol.Mode
	files   board.FileRange
	journal storage.Journal
	clock   servo.Clock
	diag    Channel
	notify  Channel
	logger  *zap.Logger

	jog jogState
}

func New(ctrl *machine.Controller, seq *motion.Sequencer, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.Files == (board.FileRange{}) {
		opts.Files = board.FullRange
	}
	if opts.Journal == nil {
		opts.Journal = storage.NopJournal{}
	}
	if opts.Clock == nil {
		opts.Clock = servo.WallClock
	}
	if opts.Mode == "" {
		opts.Mode = protocol.ModeRecovery
	}
	return &Dispatcher{
		ctrl:    ctrl,
		seq:     seq,
		stages:  opts.Stages,
		mode:    opts.Mode,
		files:   opts.Files,
		journal: opts.Journal,
		clock:   opts.Clock,
		diag:    opts.Diagnostic,
		notify:  opts.Notify,
		logger:  logger,
		jog:     jogState{speed: opts.JogSpeed},
	}
}

// Emit mirrors an acknowledgement to both transports. A missing or failing
// transport is skipped.
func (d *Dispatcher) Emit(ack Ack) {
	line := ack.String()
	d.logger.Debug("Ack", zap.String("line", line))
	d.send(d.diag, line)
	d.send(d.notify, line)
}

func (d *Dispatcher) send(ch Channel, line string) {
	if ch == nil {
		return
	}
	if err := ch.Send(line); err != nil {
		d.logger.Debug("Transport send failed", zap.String("line", line), zap.Error(err))
	}
}

// Busy reports whether a staged cycle is running.
func (d *Dispatcher) Busy() bool {
	return d.stages != nil && d.stages.Busy()
}

// Dispatch handles one command line.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) {
	cmd, err := protocol.Parse(line, d.mode)
	if err != nil {
		d.logger.Info("Rejected command line", zap.String("line", line), zap.Error(err))
		d.Emit(BadFormatError())
		return
	}

	switch cmd.Type {
	case protocol.TypeHome:
		d.home(ctx, cmd)
		return
	case protocol.TypeConfirm:
		d.confirm(ctx, cmd)
		return
	}

	if d.ctrl.Faulted() {
		d.Emit(Error(cmd.ID, machine.ReasonFaultHomingRequired))
		return
	}
	if d.Busy() {
		d.Emit(Error(cmd.ID, ReasonBusy))
		return
	}

	var steps []motion.Step
	if cmd.To != "" {
		to, err := board.ParseSquare(cmd.To)
		if err == nil {
			err = d.files.Check(to)
		}
		if err != nil {
			d.logger.Info("Destination rejected", zap.String("id", cmd.ID), zap.String("to", cmd.To), zap.Error(err))
			d.Emit(Error(cmd.ID, ReasonInvalidFile))
			return
		}
		steps = d.ctrl.Plan(to)
	}

	d.Emit(Accepted(cmd.ID))

	if d.stages != nil {
		var travel motion.Step
		if len(steps) > 0 {
			travel = steps[0]
		}
		if err := d.stages.Begin(ctx, cmd.ID, travel, d.clock.Now()); err != nil {
			d.Emit(Error(cmd.ID, ReasonBusy))
		}
		return
	}

	d.runSequence(ctx, cmd, steps)
}

func (d *Dispatcher) runSequence(ctx context.Context, cmd protocol.Command, steps []motion.Step) {
	started := d.clock.Now()
	out := d.seq.Run(ctx, steps)

	rec := &storage.MoveRecord{
		CommandID:  cmd.ID,
		Source:     cmd.Source,
		From:       cmd.From,
		To:         cmd.To,
		Piece:      cmd.Piece,
		StartedAt:  started,
		FinishedAt: d.clock.Now(),
	}
	for _, s := range out.Steps {
		detail := storage.StepDetail{
			Axis:      s.Axis,
			Status:    s.Result.Status.String(),
			Target:    s.Result.Target,
			Final:     s.Result.Final,
			Deviation: s.Result.Deviation,
		}
		if s.Err != nil {
			detail.Error = s.Err.Error()
		}
		rec.Steps = append(rec.Steps, detail)
	}

	switch {
	case out.Succeeded():
		rec.Outcome = storage.OutcomeDone
		d.Emit(Done(cmd.ID))
	case out.Aborted():
		rec.Outcome = storage.OutcomeAborted
		d.Emit(Error(cmd.ID, ReasonAborted))
	default:
		rec.Outcome = storage.OutcomeFailed
		failed, _ := out.Failed()
		reason := fmt.Sprintf("%s %s", failed.Axis, failed.Result.Status)
		if failed.Err != nil {
			reason = fmt.Sprintf("%s: %v", failed.Axis, failed.Err)
		} else if failed.Result.Status == servo.Arrived {
			reason = fmt.Sprintf("%s deviation %d", failed.Axis, failed.Result.Deviation)
		}
		d.ctrl.Fail(ctx, reason, steps)
		d.Emit(Error(cmd.ID, machine.ReasonFaultHomingRequired))
	}

	if err := d.journal.RecordMove(ctx, rec); err != nil {
		d.logger.Error("Failed to journal move", zap.String("id", cmd.ID), zap.Error(err))
	}
}

func (d *Dispatcher) home(ctx context.Context, cmd protocol.Command) {
	d.cancelStages(ctx)
	d.Emit(Accepted(cmd.ID))

	err := d.ctrl.Home(ctx)
	switch {
	case err == nil:
		d.Emit(Done(cmd.ID))
	case errors.Is(err, machine.ErrAborted):
		d.Emit(Error(cmd.ID, ReasonAborted))
	default:
		d.Emit(Error(cmd.ID, machine.ReasonHomingFailed))
	}
}

func (d *Dispatcher) confirm(ctx context.Context, cmd protocol.Command) {
	d.Emit(Accepted(cmd.ID))

	err := d.ctrl.Confirm(ctx)
	switch {
	case err == nil:
		d.Emit(Done(cmd.ID))
	case errors.Is(err, machine.ErrConfirmDisabled):
		d.Emit(Error(cmd.ID, machine.ReasonConfirmDisabled))
	default:
		d.logger.Error("Confirm failed", zap.Error(err))
		d.Emit(Error(cmd.ID, machine.ReasonFaultHomingRequired))
	}
}

// Tick advances the staged cycle. An abort cancels a running cycle.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time, abort bool) {
	if d.stages == nil || !d.stages.Busy() {
		return
	}
	if abort {
		if id, ok := d.stages.Cancel(ctx, now); ok {
			d.Emit(Error(id, ReasonAborted))
		}
		return
	}
	if id, done := d.stages.Tick(ctx, now); done {
		d.Emit(Done(id))
	}
}

func (d *Dispatcher) cancelStages(ctx context.Context) {
	if d.stages == nil {
		return
	}
	if id, ok := d.stages.Cancel(ctx, d.clock.Now()); ok {
		d.Emit(Error(id, ReasonAborted))
	}
}

// Stage returns the current stage, or empty in closed-loop mode.
func (d *Dispatcher) Stage() string {
	if d.stages == nil {
		return ""
	}
	return string(d.stages.Stage())
}
