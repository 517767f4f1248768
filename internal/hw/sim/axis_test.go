package sim

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/hw"
)

func TestAxis_DriveIntegratesPosition(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock()
	a := NewAxis(Config{CountsPerSecond: 1000}, clock)

	if err := a.Drive(ctx, hw.MaxDuty, hw.Forward); err != nil {
		t.Fatalf("Drive: %v", err)
	}
	clock.Advance(500 * time.Millisecond)

	pos, err := a.Position(ctx)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 500 {
		t.Errorf("expected 500 counts, got %d", pos)
	}

	if err := a.Drive(ctx, hw.MaxDuty, hw.Reverse); err != nil {
		t.Fatalf("Drive: %v", err)
	}
	clock.Advance(200 * time.Millisecond)
	pos, _ = a.Position(ctx)
	if pos != 300 {
		t.Errorf("expected 300 counts after reversing, got %d", pos)
	}
}

func TestAxis_StallDuty(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock()
	a := NewAxis(Config{CountsPerSecond: 1000, StallDuty: 40}, clock)

	_ = a.Drive(ctx, 40, hw.Forward)
	clock.Advance(time.Second)

	pos, _ := a.Position(ctx)
	if pos != 0 {
		t.Errorf("motor below stall duty should not move, got %d", pos)
	}
	if a.Moving() {
		t.Error("expected axis not moving")
	}
}

func TestAxis_CoastAndBrake(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock()
	a := NewAxis(Config{CountsPerSecond: 1000, Coast: 25}, clock)

	_ = a.Drive(ctx, hw.MaxDuty, hw.Forward)
	clock.Advance(100 * time.Millisecond)
	_ = a.Stop(ctx, hw.StopCoast)

	pos, _ := a.Position(ctx)
	if pos != 125 {
		t.Errorf("expected coast to add 25 counts, got %d", pos)
	}

	_ = a.Drive(ctx, hw.MaxDuty, hw.Forward)
	clock.Advance(100 * time.Millisecond)
	_ = a.Stop(ctx, hw.StopBrake)

	pos, _ = a.Position(ctx)
	if pos != 225 {
		t.Errorf("expected brake to stop dead, got %d", pos)
	}

	stops := a.Stops()
	if len(stops) != 2 || stops[0] != hw.StopCoast || stops[1] != hw.StopBrake {
		t.Errorf("unexpected stop history: %v", stops)
	}
}

func TestAxis_JamAndSetPosition(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock()
	a := NewAxis(Config{CountsPerSecond: 1000}, clock)

	a.Jam(true)
	_ = a.Drive(ctx, hw.MaxDuty, hw.Forward)
	clock.Advance(time.Second)
	if pos, _ := a.Position(ctx); pos != 0 {
		t.Errorf("jammed axis moved to %d", pos)
	}

	if err := a.SetPosition(ctx, 1234); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if pos, _ := a.Position(ctx); pos != 1234 {
		t.Errorf("expected 1234, got %d", pos)
	}
}

func TestSwitch_Triggered(t *testing.T) {
	ctx := context.Background()
	a := NewAxis(Config{}, NewManualClock())
	sw := &Switch{Axis: a, Threshold: 0}

	_ = a.SetPosition(ctx, 10)
	if on, _ := sw.Triggered(ctx); on {
		t.Error("switch should be open at 10")
	}
	_ = a.SetPosition(ctx, -3)
	if on, _ := sw.Triggered(ctx); !on {
		t.Error("switch should be closed below threshold")
	}
}
