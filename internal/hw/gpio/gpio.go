package gpio

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"go.uber.org/zap"
)

// Level is the logical state of a pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode selects input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

func (m PinMode) String() string {
	if m == Output {
		return "output"
	}
	return "input"
}

// Driver controls raw GPIO pins. The real implementation uses go-rpio; the
// mock is used on a PC and in tests.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver returns a MockDriver when mock is true, otherwise the go-rpio driver.
func NewDriver(mock bool, logger *zap.Logger) (Driver, error) {
	if mock {
		logger.Info("Using mock GPIO driver")
		return NewMockDriver(logger), nil
	}
	return NewRPiDriver(logger)
}

// MockDriver keeps pin levels in memory.
type MockDriver struct {
	mu     sync.Mutex
	logger *zap.Logger
	modes  map[int]PinMode
	levels map[int]Level
}

func NewMockDriver(logger *zap.Logger) *MockDriver {
	return &MockDriver{
		logger: logger,
		modes:  make(map[int]PinMode),
		levels: make(map[int]Level),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Debug("SetupPin", zap.Int("pin", pin), zap.Stringer("mode", mode))
	m.modes[pin] = mode
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Debug("WritePin", zap.Int("pin", pin), zap.Bool("level", bool(level)))
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

// Force sets the level seen by ReadPin, e.g. to press a simulated switch.
func (m *MockDriver) Force(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
}

// Mode returns the configured mode of pin.
func (m *MockDriver) Mode(pin int) (PinMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[pin]
	return mode, ok
}

func (m *MockDriver) Close() error {
	m.logger.Debug("GPIO close (mock)")
	return nil
}

// OutputPin adapts a driver pin to hw.Output.
type OutputPin struct {
	drv       Driver
	pin       int
	activeLow bool
}

// NewOutput configures pin as an output and drives it inactive.
func NewOutput(drv Driver, pin int, activeLow bool) (*OutputPin, error) {
	if err := drv.SetupPin(pin, Output); err != nil {
		return nil, fmt.Errorf("setup output pin %d: %w", pin, err)
	}
	o := &OutputPin{drv: drv, pin: pin, activeLow: activeLow}
	if err := o.Set(context.Background(), false); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *OutputPin) Set(_ context.Context, on bool) error {
	return o.drv.WritePin(o.pin, Level(on != o.activeLow))
}

// InputPin adapts a driver pin to hw.Switch.
type InputPin struct {
	drv       Driver
	pin       int
	activeLow bool
}

// NewInput configures pin as an input. Limit switches wired to ground with a
// pull-up are activeLow.
func NewInput(drv Driver, pin int, activeLow bool) (*InputPin, error) {
	if err := drv.SetupPin(pin, Input); err != nil {
		return nil, fmt.Errorf("setup input pin %d: %w", pin, err)
	}
	return &InputPin{drv: drv, pin: pin, activeLow: activeLow}, nil
}

func (i *InputPin) Triggered(context.Context) (bool, error) {
	level, err := i.drv.ReadPin(i.pin)
	if err != nil {
		return false, err
	}
	return bool(level) != i.activeLow, nil
}

var (
	_ hw.Output = (*OutputPin)(nil)
	_ hw.Switch = (*InputPin)(nil)
)
