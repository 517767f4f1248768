package system

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/config"
	"github.com/KevinKickass/VibeChessCore/internal/control"
	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"github.com/KevinKickass/VibeChessCore/internal/hw/gpio"
	"github.com/KevinKickass/VibeChessCore/internal/hw/sim"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const benchProfile = `name: bench
file_range: a-h
axes:
  - name: x
    coordinate: file
    home_switch_pin: 5
    servo:
      speed_fast: 255
      speed_slow: 80
      slow_zone: 100
      tolerance: 12
      timeout: 5s
      poll_interval: 2ms
    calibration:
      distance_to_square_one: 0.5
      square_pitch: 1
      counts_per_inch: 200
    homing:
      speed: 120
      duration: 1s
    sim:
      counts_per_second: 4000
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bench.yaml"), []byte(benchProfile), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Profile.Name = "bench"
	cfg.Profile.SearchPaths = []string{dir}
	cfg.Server.HTTPPort = 0
	cfg.Server.GRPCPort = 0
	cfg.Hardware.Driver = config.DriverSim
	cfg.Hardware.GPIO.Mock = true
	return cfg
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateInitializing, StateRunning, true},
		{StateInitializing, StateStopping, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateError, StateStopping, true},
		{StateStopped, StateInitializing, true},
		{StateRunning, StateInitializing, false},
		{StateStopped, StateRunning, false},
		{SystemState(42), StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateTransition = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestBuildHardware_Sim(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hardware.GPIO.BusyLEDPin = 20
	cfg.Hardware.GPIO.MagnetPin = 21

	lm, err := NewLifecycleManager(nil, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLifecycleManager: %v", err)
	}

	if _, ok := lm.hw.gpio.(*gpio.MockDriver); !ok {
		t.Errorf("expected mock gpio driver, got %T", lm.hw.gpio)
	}
	if _, ok := lm.hw.busy.(*gpio.OutputPin); !ok {
		t.Errorf("busy LED should be a GPIO output, got %T", lm.hw.busy)
	}
	if _, ok := lm.hw.magnet.(*gpio.OutputPin); !ok {
		t.Errorf("magnet should be a GPIO output, got %T", lm.hw.magnet)
	}
	if len(lm.hw.axes) != 1 {
		t.Fatalf("expected one axis, got %d", len(lm.hw.axes))
	}
	if _, ok := lm.hw.axes[0].HomeSwitch.(*sim.Switch); !ok {
		t.Errorf("sim axis should get a simulated home switch, got %T", lm.hw.axes[0].HomeSwitch)
	}
	if lm.hw.modbus != nil {
		t.Error("sim driver must not open a modbus client")
	}
	if err := lm.hw.close(context.Background(), zaptest.NewLogger(t), true); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestHardwareClose_LoopStillRunning(t *testing.T) {
	ctx := context.Background()
	lm, err := NewLifecycleManager(nil, testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLifecycleManager: %v", err)
	}

	s := lm.hw.axes[0].Servo
	axis := s.Axis().(*sim.Axis)
	if err := s.Start(ctx, 2000, time.Now()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Tick(ctx, time.Now(), false); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !axis.Moving() {
		t.Fatal("axis should be driven")
	}

	if err := lm.hw.close(ctx, zaptest.NewLogger(t), false); err != nil {
		t.Errorf("close: %v", err)
	}
	if axis.Moving() {
		t.Error("motor still driven after close")
	}
	if stops := axis.Stops(); len(stops) == 0 || stops[len(stops)-1] != hw.StopBrake {
		t.Errorf("stops = %v, want brake", stops)
	}
	// Der Servo-Zustand gehört weiter der Regelschleife.
	if !s.Active() {
		t.Error("close must not touch servo state while the loop may run")
	}
}

func TestNewLifecycleManager_UnknownProfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Profile.Name = "missing"
	if _, err := NewLifecycleManager(nil, cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected error for missing profile")
	}
}

func healthCheck(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestLifecycle_StartMoveFaultShutdown(t *testing.T) {
	lm, err := NewLifecycleManager(nil, testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLifecycleManager: %v", err)
	}
	if lm.State() != StateInitializing {
		t.Fatalf("state = %s", lm.State())
	}

	if err := lm.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.Shutdown(ctx)
	})
	if lm.State() != StateRunning {
		t.Fatalf("state = %s, want RUNNING", lm.State())
	}

	port := lm.grpcAddr.(*net.TCPAddr).Port
	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", port),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc client: %v", err)
	}
	defer conn.Close()
	health := healthpb.NewHealthClient(conn)

	if st := healthCheck(t, health, HealthService); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("controller health = %s, want SERVING", st)
	}

	if !lm.Intake().Submit(control.Line{Source: control.SourceREST, Text: "CMD id=1 from=a1 to=c1 piece=r"}) {
		t.Fatal("inbox rejected line")
	}
	arrived := waitFor(t, 5*time.Second, func() bool {
		st := lm.loop.Status()
		if len(st.Axes) != 1 {
			return false
		}
		pos := st.Axes[0].Position
		return st.Axes[0].LastCommandedTarget == 500 && pos > 488 && pos < 512
	})
	if !arrived {
		t.Fatalf("axis did not reach c1: %+v", lm.loop.Status())
	}

	lm.MachineController().Fail(context.Background(), "TEST", nil)
	if st := healthCheck(t, health, HealthService); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("faulted controller health = %s, want NOT_SERVING", st)
	}
	if st := healthCheck(t, health, ""); st != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("process health = %s, want SERVING", st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if lm.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", lm.State())
	}
	// Second call is a no-op.
	if err := lm.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
