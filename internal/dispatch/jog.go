package dispatch

import (
	"context"
	"strconv"
	"strings"

	"github.com/KevinKickass/VibeChessCore/internal/board"
	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"github.com/KevinKickass/VibeChessCore/internal/machine"
	"github.com/KevinKickass/VibeChessCore/internal/motion"
	"github.com/KevinKickass/VibeChessCore/internal/protocol"
	"go.uber.org/zap"
)

type jogState struct {
	selected int
	speed    uint8
}

// HandleDiagnostic handles a line from the diagnostic port: command lines go
// through Dispatch, everything else is a jog command.
func (d *Dispatcher) HandleDiagnostic(ctx context.Context, line string) {
	if strings.HasPrefix(line, protocol.Prefix) {
		d.Dispatch(ctx, line)
		return
	}
	cmd, err := protocol.ParseDebug(line)
	if err != nil {
		d.reply(Status("error " + ReasonBadFormat))
		return
	}
	d.DispatchDebug(ctx, cmd)
}

// reply goes to the diagnostic transport only.
func (d *Dispatcher) reply(ack Ack) {
	d.logger.Debug("Diagnostic reply", zap.String("line", ack.String()))
	d.send(d.diag, ack.String())
}

func (d *Dispatcher) selectedAxis() *machine.AxisState {
	axes := d.ctrl.Axes()
	if d.jog.selected >= len(axes) {
		d.jog.selected = 0
	}
	return axes[d.jog.selected]
}

// DispatchDebug runs one jog command.
func (d *Dispatcher) DispatchDebug(ctx context.Context, cmd protocol.DebugCommand) {
	if len(d.ctrl.Axes()) == 0 {
		d.reply(Status("error no axes"))
		return
	}
	a := d.selectedAxis()

	switch cmd.Op {
	case protocol.DebugStop:
		d.stopAll(ctx)
		d.cancelStages(ctx)
		d.reply(Status("stopped"))

	case protocol.DebugJogForward, protocol.DebugJogReverse:
		if d.Busy() {
			d.reply(Status(ReasonBusy))
			return
		}
		dir := hw.Forward
		if cmd.Op == protocol.DebugJogReverse {
			dir = hw.Reverse
		}
		if a.Servo.Config().Invert {
			dir = dir.Flip()
		}
		if err := a.Servo.Axis().Drive(ctx, d.jog.speed, dir); err != nil {
			d.reply(Status("error " + err.Error()))
			return
		}
		word := "forward"
		if cmd.Op == protocol.DebugJogReverse {
			word = "reverse"
		}
		d.reply(statusf("jog", word, a.Name))

	case protocol.DebugZero:
		if err := d.ctrl.Zero(ctx); err != nil {
			d.reply(Status("error " + err.Error()))
			return
		}
		d.reply(Status("zeroed"))

	case protocol.DebugInvert:
		state := "off"
		if a.Servo.ToggleInvert() {
			state = "on"
		}
		d.reply(statusf("invert", a.Name, state))

	case protocol.DebugSelectX, protocol.DebugSelectY:
		name := string(rune(cmd.Op))
		for i, ax := range d.ctrl.Axes() {
			if ax.Name == name {
				d.jog.selected = i
				d.reply(statusf("axis", name))
				return
			}
		}
		d.reply(statusf("error unknown axis", name))

	case protocol.DebugSquare, protocol.DebugCounts:
		if d.ctrl.Faulted() {
			d.reply(Status("error " + machine.ReasonFaultHomingRequired))
			return
		}
		if d.Busy() {
			d.reply(Status(ReasonBusy))
			return
		}
		target := cmd.Value
		if cmd.Op == protocol.DebugSquare {
			target = a.Calibration.Target(board.Clamp(int(cmd.Value)))
		}
		d.jogTo(ctx, a, target)
	}
}

func (d *Dispatcher) jogTo(ctx context.Context, a *machine.AxisState, target int64) {
	a.LastCommandedTarget = target
	steps := []motion.Step{{Servo: a.Servo, Target: target}}
	out := d.seq.Run(ctx, steps)

	if len(out.Steps) == 0 {
		return
	}
	res := out.Steps[0]
	d.reply(statusf(res.Result.Status.String(), a.Name, strconv.FormatInt(res.Result.Final, 10)))

	if !out.Succeeded() && !out.Aborted() {
		d.ctrl.Fail(ctx, a.Name+" "+res.Result.Status.String(), steps)
		d.reply(Status("error " + machine.ReasonFaultHomingRequired))
	}
}

func (d *Dispatcher) stopAll(ctx context.Context) {
	for _, a := range d.ctrl.Axes() {
		if err := a.Servo.Stop(ctx); err != nil {
			d.logger.Warn("Failed to stop axis", zap.String("axis", a.Name), zap.Error(err))
		}
	}
}
