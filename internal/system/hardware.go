package system

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/VibeChessCore/internal/config"
	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"github.com/KevinKickass/VibeChessCore/internal/hw/gpio"
	"github.com/KevinKickass/VibeChessCore/internal/hw/modbus"
	"github.com/KevinKickass/VibeChessCore/internal/hw/sim"
	"github.com/KevinKickass/VibeChessCore/internal/machine"
	"github.com/KevinKickass/VibeChessCore/internal/profiles"
	"github.com/KevinKickass/VibeChessCore/internal/servo"
	"go.uber.org/zap"
)

// hardware owns everything that talks to the board: the GPIO driver, the
// optional Modbus link and the axes built from the profile.
type hardware struct {
	gpio   gpio.Driver
	modbus *modbus.Client
	busy   hw.Output
	magnet hw.Output
	axes   []*machine.AxisState
}

func buildHardware(cfg *config.Config, profile *profiles.Profile, logger *zap.Logger) (*hardware, error) {
	drv, err := gpio.NewDriver(cfg.Hardware.GPIO.Mock, logger)
	if err != nil {
		return nil, err
	}
	h := &hardware{gpio: drv, busy: hw.NopOutput{}, magnet: hw.NopOutput{}}

	pins := cfg.Hardware.GPIO
	if pins.BusyLEDPin > 0 {
		if h.busy, err = gpio.NewOutput(drv, pins.BusyLEDPin, pins.ActiveLow); err != nil {
			drv.Close()
			return nil, fmt.Errorf("busy led: %w", err)
		}
	}

	mb := cfg.Hardware.Modbus
	if cfg.Hardware.Driver == config.DriverModbus {
		h.modbus = modbus.NewClient(mb.Address, mb.Timeout)
	}

	switch {
	case h.modbus != nil && mb.MagnetCoil >= 0:
		h.magnet = modbus.NewCoil(h.modbus, uint8(mb.UnitID), uint16(mb.MagnetCoil))
	case pins.MagnetPin > 0:
		if h.magnet, err = gpio.NewOutput(drv, pins.MagnetPin, pins.ActiveLow); err != nil {
			drv.Close()
			return nil, fmt.Errorf("magnet: %w", err)
		}
	}

	for _, a := range profile.Axes {
		state, err := h.buildAxis(cfg, a, logger)
		if err != nil {
			h.close(context.Background(), logger, true)
			return nil, fmt.Errorf("axis %s: %w", a.Name, err)
		}
		h.axes = append(h.axes, state)
	}

	logger.Info("Hardware ready",
		zap.String("driver", cfg.Hardware.Driver),
		zap.Int("axes", len(h.axes)))
	return h, nil
}

func (h *hardware) buildAxis(cfg *config.Config, a profiles.AxisProfile, logger *zap.Logger) (*machine.AxisState, error) {
	var (
		axis hw.Axis
		home hw.Switch
	)

	if h.modbus != nil {
		axis = modbus.NewAxis(h.modbus, uint8(cfg.Hardware.Modbus.UnitID), a.Modbus)
		if a.HomeSwitchPin != nil {
			in, err := gpio.NewInput(h.gpio, *a.HomeSwitchPin, cfg.Hardware.GPIO.ActiveLow)
			if err != nil {
				return nil, fmt.Errorf("home switch: %w", err)
			}
			home = in
		}
	} else {
		simAxis := sim.NewAxis(a.SimConfig(), nil)
		axis = simAxis
		// Im Simulator liegt der Endschalter auf Position 0.
		if a.HomeSwitchPin != nil {
			home = &sim.Switch{Axis: simAxis}
		}
	}

	return &machine.AxisState{
		Name:        a.Name,
		Coordinate:  machine.Coordinate(a.Coordinate),
		Servo:       servo.New(a.Name, axis, a.ServoConfig(), logger),
		Calibration: a.Calibration,
		Homing:      a.HomingConfig(),
		HomeSwitch:  home,
	}, nil
}

// connect opens the Modbus link, if any.
func (h *hardware) connect(ctx context.Context) error {
	if h.modbus == nil {
		return nil
	}
	return h.modbus.Connect(ctx)
}

// close stops every motor, releases the outputs and closes the drivers. While
// the control loop may still own the servos only the motors are stopped and
// servo state is left to the loop.
func (h *hardware) close(ctx context.Context, logger *zap.Logger, loopStopped bool) error {
	var errs []error
	for _, a := range h.axes {
		if loopStopped {
			if err := a.Servo.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := a.Servo.Axis().Stop(ctx, hw.StopBrake); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", a.Name, err))
		}
	}
	for name, out := range map[string]hw.Output{"busy": h.busy, "magnet": h.magnet} {
		if err := out.Set(ctx, false); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", name, err))
		}
	}
	if h.modbus != nil {
		if err := h.modbus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.gpio.Close(); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		logger.Warn("Hardware release incomplete", zap.Error(err))
	}
	return err
}
