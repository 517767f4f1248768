package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/board"
	"github.com/KevinKickass/VibeChessCore/internal/dispatch"
	"github.com/KevinKickass/VibeChessCore/internal/hw/sim"
	"github.com/KevinKickass/VibeChessCore/internal/machine"
	"github.com/KevinKickass/VibeChessCore/internal/motion"
	"github.com/KevinKickass/VibeChessCore/internal/servo"
	"go.uber.org/zap/zaptest"
)

type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) Send(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, line)
	return nil
}

func (l *lines) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.got
	l.got = nil
	return out
}

type fixture struct {
	loop   *Loop
	inbox  *Inbox
	abort  *AbortLatch
	clock  *sim.ManualClock
	axis   *sim.Axis
	ctrl   *machine.Controller
	notify *lines
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := sim.NewManualClock()
	axis := sim.NewAxis(sim.Config{CountsPerSecond: 4000}, clock)
	abort := &AbortLatch{}

	cfg := servo.Config{SpeedFast: 255, SpeedSlow: 90, SlowZone: 200, Tolerance: 12, Timeout: time.Second, PollInterval: 2 * time.Millisecond}
	axes := []*machine.AxisState{{
		Name:        "x",
		Coordinate:  machine.CoordinateFile,
		Servo:       servo.New("x", axis, cfg, logger),
		Calibration: board.Calibration{DistanceToSquareOne: 0.5, SquarePitch: 1, CountsPerInch: 200},
	}}
	ctrl := machine.NewController(logger, axes, machine.Options{Clock: clock, Abort: abort, AllowConfirm: true})
	seq := motion.NewSequencer(clock, abort, nil, nil, logger)

	notify := &lines{}
	d := dispatch.New(ctrl, seq, dispatch.Options{Clock: clock, Notify: notify}, logger)
	inbox := NewInbox(2)
	loop := NewLoop(Config{HeartbeatInterval: 5 * time.Second}, inbox, abort, d, ctrl, clock, logger)

	return &fixture{loop: loop, inbox: inbox, abort: abort, clock: clock, axis: axis, ctrl: ctrl, notify: notify}
}

func TestInbox_TryPush(t *testing.T) {
	in := NewInbox(2)
	if !in.TryPush(Line{Text: "a"}) || !in.TryPush(Line{Text: "b"}) {
		t.Fatal("pushes within capacity must succeed")
	}
	if in.TryPush(Line{Text: "c"}) {
		t.Error("push into a full inbox must fail")
	}
	if in.Len() != 2 {
		t.Errorf("Len = %d", in.Len())
	}
}

func TestAbortLatch(t *testing.T) {
	var a AbortLatch
	if a.AbortRequested() {
		t.Fatal("new latch must be clear")
	}
	a.Trigger()
	if !a.AbortRequested() {
		t.Error("trigger not observed")
	}
	a.Reset()
	if a.AbortRequested() {
		t.Error("reset not observed")
	}
}

func TestIntake_StopTripsLatch(t *testing.T) {
	in := NewInbox(1)
	abort := &AbortLatch{}
	intake := NewIntake(in, abort)

	if !intake.Submit(Line{Text: "CMD id=1 type=home", Source: SourceWireless}) {
		t.Fatal("submit into empty inbox failed")
	}
	if abort.AbortRequested() {
		t.Error("command line must not trip the latch")
	}

	// Inbox is full now, the latch still trips.
	if intake.Submit(Line{Text: "s", Source: SourceSerial}) {
		t.Error("expected full inbox")
	}
	if !abort.AbortRequested() {
		t.Error("serial stop should trip the latch")
	}

	abort.Reset()
	<-in.lines
	intake.Submit(Line{Text: "s", Source: SourceWireless})
	if abort.AbortRequested() {
		t.Error("stop letters are only honoured on the diagnostic port")
	}
}

func TestLoop_StepDispatchesAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.loop.Step(ctx, Line{Text: "CMD id=1 from=a1 to=c1 piece=r", Source: SourceWireless})
	got := f.notify.take()
	if len(got) < 2 || got[0] != "ack:accepted 1" || got[1] != "ack:done 1" {
		t.Fatalf("acks = %q", got)
	}

	st := f.loop.Status()
	if st.State != machine.StateNormal || len(st.Axes) != 1 {
		t.Fatalf("status = %+v", st)
	}
	// c -> (0.5+2)*200 = 500
	if p := st.Axes[0].Position; p < 488 || p > 512 {
		t.Errorf("published position = %d", p)
	}
}

func TestLoop_Heartbeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.loop.Idle(ctx)
	if got := f.notify.take(); len(got) != 1 || got[0] != "status:ready" {
		t.Fatalf("first idle should emit heartbeat, got %q", got)
	}

	f.clock.Advance(4 * time.Second)
	f.loop.Idle(ctx)
	if got := f.notify.take(); len(got) != 0 {
		t.Errorf("heartbeat too early: %q", got)
	}

	f.clock.Advance(time.Second)
	f.loop.Idle(ctx)
	if got := f.notify.take(); len(got) != 1 || got[0] != "status:ready" {
		t.Errorf("expected heartbeat after interval, got %q", got)
	}
}

func TestLoop_StaleAbortDoesNotCancelNextMove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.abort.Trigger()

	f.loop.Step(ctx, Line{Text: "CMD id=2 from=a1 to=b1 piece=r", Source: SourceREST})
	got := f.notify.take()
	if len(got) < 2 || got[1] != "ack:done 2" {
		t.Fatalf("acks = %q", got)
	}
}

func TestLoop_SerialLinesAreDiagnostic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.loop.Step(ctx, Line{Text: "z", Source: SourceSerial})
	if f.ctrl.Faulted() {
		t.Fatal("zero must leave the machine normal")
	}
	f.loop.Step(ctx, Line{Text: "z", Source: SourceWireless})
	got := f.notify.take()
	if !contains(got, "ack:error unknown bad_format") {
		t.Errorf("jog letters are only valid on the diagnostic port, got %q", got)
	}
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	f.inbox.TryPush(Line{Text: "CMD id=3 from=a1 to=a1 piece=k", Source: SourceWireless})
	deadline := time.After(5 * time.Second)
	var seen []string
	for !contains(seen, "ack:done 3") {
		select {
		case <-deadline:
			t.Fatalf("loop did not process the line, got %q", seen)
		case <-time.After(5 * time.Millisecond):
			seen = append(seen, f.notify.take()...)
		}
	}
	if seen[0] != "status:ready" {
		t.Errorf("Run should start with a heartbeat, got %q", seen)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
