package servo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"github.com/KevinKickass/VibeChessCore/internal/hw/sim"
	"go.uber.org/zap/zaptest"
)

func testConfig() Config {
	return Config{
		SpeedFast:         255,
		SpeedSlow:         80,
		SlowZone:          200,
		Tolerance:         12,
		CriticalThreshold: 60,
		Timeout:           5 * time.Second,
		PollInterval:      2 * time.Millisecond,
		Brake:             hw.StopCoast,
	}
}

// recordingAxis never moves; it records what the servo commands.
type recordingAxis struct {
	position int64
	drives   []drive
	stops    []hw.StopMode
	readErr  error
}

type drive struct {
	duty uint8
	dir  hw.Direction
}

func (a *recordingAxis) Drive(_ context.Context, duty uint8, dir hw.Direction) error {
	a.drives = append(a.drives, drive{duty, dir})
	return nil
}

func (a *recordingAxis) Stop(_ context.Context, mode hw.StopMode) error {
	a.stops = append(a.stops, mode)
	return nil
}

func (a *recordingAxis) Position(context.Context) (int64, error) {
	return a.position, a.readErr
}

func (a *recordingAxis) SetPosition(_ context.Context, counts int64) error {
	a.position = counts
	return nil
}

// abortAfter requests an abort once it has been polled n times.
type abortAfter struct {
	n     int
	polls int
}

func (a *abortAfter) AbortRequested() bool {
	a.polls++
	return a.polls > a.n
}

func TestServo_MoveToArrives(t *testing.T) {
	ctx := context.Background()
	clock := sim.NewManualClock()
	axis := sim.NewAxis(sim.Config{CountsPerSecond: 4000}, clock)
	s := New("x", axis, testConfig(), zaptest.NewLogger(t))

	res, err := s.MoveTo(ctx, 3000, clock, nil)
	if err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if res.Status != Arrived || !res.Succeeded() {
		t.Fatalf("expected arrived, got %+v", res)
	}
	if res.Deviation > 12 {
		t.Errorf("deviation %d exceeds tolerance", res.Deviation)
	}
	if axis.Moving() {
		t.Error("motor still driven after arrival")
	}
	if s.Active() {
		t.Error("servo still active after arrival")
	}

	// And back toward zero.
	res, err = s.MoveTo(ctx, 250, clock, nil)
	if err != nil || !res.Succeeded() {
		t.Fatalf("return move failed: %+v %v", res, err)
	}
}

func TestServo_MoveToTimesOut(t *testing.T) {
	ctx := context.Background()
	clock := sim.NewManualClock()
	axis := sim.NewAxis(sim.Config{CountsPerSecond: 4000}, clock)
	axis.Jam(true)

	cfg := testConfig()
	cfg.Timeout = 500 * time.Millisecond
	s := New("x", axis, cfg, zaptest.NewLogger(t))

	res, err := s.MoveTo(ctx, 3000, clock, nil)
	if err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if res.Status != TimedOut {
		t.Fatalf("expected timed_out, got %s", res.Status)
	}
	if res.Succeeded() {
		t.Error("timed out move must not succeed")
	}
	if res.Elapsed <= cfg.Timeout {
		t.Errorf("elapsed %v should exceed timeout %v", res.Elapsed, cfg.Timeout)
	}
	if axis.Moving() {
		t.Error("motor still driven after timeout")
	}
}

func TestServo_AbortStopsWithinOneTick(t *testing.T) {
	ctx := context.Background()
	clock := sim.NewManualClock()
	axis := sim.NewAxis(sim.Config{CountsPerSecond: 4000}, clock)
	s := New("x", axis, testConfig(), zaptest.NewLogger(t))

	abort := &abortAfter{n: 10}
	res, err := s.MoveTo(ctx, 30000, clock, abort)
	if err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if res.Status != Aborted {
		t.Fatalf("expected aborted, got %s", res.Status)
	}
	if abort.polls != 11 {
		t.Errorf("servo kept polling after abort: %d polls", abort.polls)
	}
	if res.Elapsed != 10*testConfig().PollInterval {
		t.Errorf("abort took %v, want one poll interval after request", res.Elapsed)
	}
	if axis.Moving() {
		t.Error("motor still driven after abort")
	}
	stops := axis.Stops()
	if len(stops) == 0 || stops[len(stops)-1] != hw.StopBrake {
		t.Errorf("abort should hard-brake, stops=%v", stops)
	}
}

func TestServo_CriticalDeviationAfterCoast(t *testing.T) {
	ctx := context.Background()
	clock := sim.NewManualClock()
	axis := sim.NewAxis(sim.Config{CountsPerSecond: 4000, Coast: 150}, clock)
	s := New("x", axis, testConfig(), zaptest.NewLogger(t))

	res, err := s.MoveTo(ctx, 2000, clock, nil)
	if err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if res.Status != Arrived {
		t.Fatalf("expected nominal arrival, got %s", res.Status)
	}
	if res.Valid || res.Succeeded() {
		t.Errorf("deviation %d beyond critical threshold should fail validation", res.Deviation)
	}
}

func TestServo_EarlyCutoffOnLongTravel(t *testing.T) {
	ctx := context.Background()
	clock := sim.NewManualClock()
	axis := sim.NewAxis(sim.Config{CountsPerSecond: 4000}, clock)

	cfg := testConfig()
	cfg.PreStopMargin = 300
	cfg.LongTravel = 1000
	cfg.SlowZone = 100
	cfg.CriticalThreshold = 0
	s := New("y", axis, cfg, zaptest.NewLogger(t))

	res, err := s.MoveTo(ctx, 5000, clock, nil)
	if err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if res.Status != Arrived {
		t.Fatalf("expected arrived, got %s", res.Status)
	}
	if res.Deviation <= cfg.Tolerance || res.Deviation > cfg.PreStopMargin {
		t.Errorf("expected power cut inside pre-stop margin, deviation=%d", res.Deviation)
	}
	stops := axis.Stops()
	if stops[len(stops)-1] != hw.StopBrake {
		t.Errorf("early cutoff should brake, got %v", stops)
	}

	// A short move ignores the margin and settles within tolerance.
	short := res.Final + 500
	res, err = s.MoveTo(ctx, short, clock, nil)
	if err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if res.Deviation > cfg.Tolerance {
		t.Errorf("short move should use tolerance stop, deviation=%d", res.Deviation)
	}
}

// coastingAxis keeps running for a while after Stop, like a carriage with
// momentum the simulator's instant coast does not model.
type coastingAxis struct {
	*sim.Axis
	clock  *sim.ManualClock
	drift  int64
	over   time.Duration
	halted bool
	at     time.Time
}

func (a *coastingAxis) Stop(ctx context.Context, mode hw.StopMode) error {
	if !a.halted {
		a.halted = true
		a.at = a.clock.Now()
	}
	return a.Axis.Stop(ctx, mode)
}

func (a *coastingAxis) Position(ctx context.Context) (int64, error) {
	pos, err := a.Axis.Position(ctx)
	if err != nil || !a.halted {
		return pos, err
	}
	frac := float64(a.clock.Now().Sub(a.at)) / float64(a.over)
	if frac > 1 {
		frac = 1
	}
	return pos + int64(frac*float64(a.drift)), nil
}

func TestServo_SettleCatchesCoast(t *testing.T) {
	tests := []struct {
		name   string
		settle time.Duration
		valid  bool
	}{
		{"read at stop", 0, true},
		{"read after settle", 100 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := sim.NewManualClock()
			axis := &coastingAxis{
				Axis:  sim.NewAxis(sim.Config{CountsPerSecond: 4000}, clock),
				clock: clock,
				drift: 200,
				over:  50 * time.Millisecond,
			}
			cfg := testConfig()
			cfg.Settle = tt.settle
			s := New("x", axis, cfg, zaptest.NewLogger(t))

			res, err := s.MoveTo(context.Background(), 2000, clock, nil)
			if err != nil {
				t.Fatalf("MoveTo: %v", err)
			}
			if res.Status != Arrived {
				t.Fatalf("status = %s", res.Status)
			}
			if res.Valid != tt.valid {
				t.Errorf("valid = %v, want %v (deviation %d)", res.Valid, tt.valid, res.Deviation)
			}
		})
	}
}

func TestServo_TickSpeedAndDirection(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name   string
		target int64
		invert bool
		want   drive
	}{
		{"far forward", 1000, false, drive{255, hw.Forward}},
		{"near forward", 150, false, drive{80, hw.Forward}},
		{"far reverse", -1000, false, drive{255, hw.Reverse}},
		{"inverted far forward", 1000, true, drive{255, hw.Reverse}},
		{"inverted near reverse", -50, true, drive{80, hw.Forward}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			axis := &recordingAxis{}
			cfg := testConfig()
			cfg.Invert = tt.invert
			s := New("x", axis, cfg, zaptest.NewLogger(t))

			if err := s.Start(ctx, tt.target, now); err != nil {
				t.Fatalf("Start: %v", err)
			}
			st, err := s.Tick(ctx, now, false)
			if err != nil || st != Running {
				t.Fatalf("Tick = %s, %v", st, err)
			}
			if len(axis.drives) != 1 || axis.drives[0] != tt.want {
				t.Errorf("drives = %+v, want %+v", axis.drives, tt.want)
			}

			// Unchanged command is not re-sent.
			_, _ = s.Tick(ctx, now.Add(time.Millisecond), false)
			if len(axis.drives) != 1 {
				t.Errorf("expected no repeated drive, got %d", len(axis.drives))
			}
		})
	}
}

func TestServo_TickTerminalConditions(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	axis := &recordingAxis{position: 990}
	s := New("x", axis, testConfig(), zaptest.NewLogger(t))

	if _, err := s.Tick(ctx, now, false); !errors.Is(err, errNotStarted) {
		t.Fatalf("expected errNotStarted, got %v", err)
	}

	_ = s.Start(ctx, 1000, now)
	if st, _ := s.Tick(ctx, now, false); st != Arrived {
		t.Errorf("within tolerance should arrive, got %s", st)
	}
	if len(axis.stops) != 1 || axis.stops[0] != hw.StopCoast {
		t.Errorf("arrival should use configured stop, got %v", axis.stops)
	}

	axis.position = 0
	_ = s.Start(ctx, 1000, now)
	if st, _ := s.Tick(ctx, now.Add(6*time.Second), false); st != TimedOut {
		t.Errorf("expected timed_out, got %s", st)
	}

	_ = s.Start(ctx, 1000, now)
	if st, _ := s.Tick(ctx, now, true); st != Aborted {
		t.Errorf("expected aborted, got %s", st)
	}
	if s.Active() {
		t.Error("servo active after abort")
	}
}

func TestServo_EncoderErrorStopsMotor(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	axis := &recordingAxis{}
	s := New("x", axis, testConfig(), zaptest.NewLogger(t))

	_ = s.Start(ctx, 1000, now)
	axis.readErr = errors.New("bus fault")
	if _, err := s.Tick(ctx, now, false); err == nil {
		t.Fatal("expected encoder error")
	}
	if len(axis.stops) != 1 {
		t.Errorf("motor should be stopped on encoder error, stops=%v", axis.stops)
	}
}

func TestServo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	axis := &recordingAxis{}
	s := New("x", axis, testConfig(), zaptest.NewLogger(t))
	res, err := s.MoveTo(ctx, 1000, sim.NewManualClock(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Status != Aborted {
		t.Errorf("expected aborted, got %s", res.Status)
	}
	if len(axis.stops) != 1 {
		t.Errorf("expected motor stop, got %v", axis.stops)
	}
}

func TestServo_ToggleInvert(t *testing.T) {
	s := New("x", &recordingAxis{}, testConfig(), zaptest.NewLogger(t))
	if !s.ToggleInvert() || !s.Config().Invert {
		t.Error("expected invert on")
	}
	if s.ToggleInvert() {
		t.Error("expected invert off")
	}
}
