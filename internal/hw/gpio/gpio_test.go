package gpio

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestOutputPin_ActiveLow(t *testing.T) {
	drv := NewMockDriver(zaptest.NewLogger(t))
	out, err := NewOutput(drv, 17, true)
	if err != nil {
		t.Fatalf("NewOutput: %v", err)
	}
	if mode, ok := drv.Mode(17); !ok || mode != Output {
		t.Errorf("pin not configured as output")
	}
	if lvl, _ := drv.ReadPin(17); lvl != High {
		t.Error("active-low output should idle high")
	}

	if err := out.Set(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if lvl, _ := drv.ReadPin(17); lvl != Low {
		t.Error("active-low output should drive low when on")
	}
}

func TestInputPin(t *testing.T) {
	ctx := context.Background()
	drv := NewMockDriver(zaptest.NewLogger(t))

	sw, err := NewInput(drv, 22, true)
	if err != nil {
		t.Fatalf("NewInput: %v", err)
	}
	drv.Force(22, High)
	if on, _ := sw.Triggered(ctx); on {
		t.Error("pulled-up input should not be triggered")
	}
	drv.Force(22, Low)
	if on, _ := sw.Triggered(ctx); !on {
		t.Error("grounded input should be triggered")
	}

	hi, _ := NewInput(drv, 23, false)
	drv.Force(23, High)
	if on, _ := hi.Triggered(ctx); !on {
		t.Error("active-high input should trigger on high")
	}
}

func TestNewDriver_Mock(t *testing.T) {
	drv, err := NewDriver(true, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := drv.(*MockDriver); !ok {
		t.Errorf("expected mock driver, got %T", drv)
	}
	if err := drv.Close(); err != nil {
		t.Error(err)
	}
}
