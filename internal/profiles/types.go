package profiles

import (
	"fmt"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/board"
	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"github.com/KevinKickass/VibeChessCore/internal/hw/modbus"
	"github.com/KevinKickass/VibeChessCore/internal/hw/sim"
	"github.com/KevinKickass/VibeChessCore/internal/machine"
	"github.com/KevinKickass/VibeChessCore/internal/servo"
)

// Profile describes one mechanical build of the board: which axes exist and
// how each one is tuned.
type Profile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// FileRange limits reachable files, e.g. "a-h".
	FileRange string        `yaml:"file_range"`
	Axes      []AxisProfile `yaml:"axes"`
}

type AxisProfile struct {
	Name        string            `yaml:"name"`
	Coordinate  string            `yaml:"coordinate"`
	Servo       ServoProfile      `yaml:"servo"`
	Calibration board.Calibration `yaml:"calibration"`
	Homing      HomingProfile     `yaml:"homing"`
	// HomeSwitchPin is the GPIO input of the home limit switch, if fitted.
	HomeSwitchPin *int               `yaml:"home_switch_pin"`
	Modbus        modbus.RegisterMap `yaml:"modbus"`
	Sim           SimProfile         `yaml:"sim"`
}

type ServoProfile struct {
	SpeedFast         uint8         `yaml:"speed_fast"`
	SpeedSlow         uint8         `yaml:"speed_slow"`
	SlowZone          int64         `yaml:"slow_zone"`
	Tolerance         int64         `yaml:"tolerance"`
	CriticalThreshold int64         `yaml:"critical_threshold"`
	Timeout           time.Duration `yaml:"timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PreStopMargin     int64         `yaml:"pre_stop_margin"`
	LongTravel        int64         `yaml:"long_travel"`
	Settle            time.Duration `yaml:"settle"`
	Invert            bool          `yaml:"invert"`
	Brake             string        `yaml:"brake"`
}

type HomingProfile struct {
	Speed    uint8         `yaml:"speed"`
	Duration time.Duration `yaml:"duration"`
}

type SimProfile struct {
	CountsPerSecond float64 `yaml:"counts_per_second"`
	StallDuty       uint8   `yaml:"stall_duty"`
	Coast           int64   `yaml:"coast"`
}

// Files returns the addressable file range.
func (p *Profile) Files() (board.FileRange, error) {
	return board.ParseFileRange(p.FileRange)
}

// Axis returns the named axis profile.
func (p *Profile) Axis(name string) (AxisProfile, bool) {
	for _, a := range p.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return AxisProfile{}, false
}

func (a AxisProfile) ServoConfig() servo.Config {
	s := a.Servo
	brake := hw.StopCoast
	if s.Brake == string(hw.StopBrake) {
		brake = hw.StopBrake
	}
	return servo.Config{
		SpeedFast:         s.SpeedFast,
		SpeedSlow:         s.SpeedSlow,
		SlowZone:          s.SlowZone,
		Tolerance:         s.Tolerance,
		CriticalThreshold: s.CriticalThreshold,
		Timeout:           s.Timeout,
		PollInterval:      s.PollInterval,
		PreStopMargin:     s.PreStopMargin,
		LongTravel:        s.LongTravel,
		Settle:            s.Settle,
		Invert:            s.Invert,
		Brake:             brake,
	}
}

func (a AxisProfile) SimConfig() sim.Config {
	return sim.Config{
		CountsPerSecond: a.Sim.CountsPerSecond,
		StallDuty:       a.Sim.StallDuty,
		Coast:           a.Sim.Coast,
	}
}

func (a AxisProfile) HomingConfig() machine.HomingConfig {
	return machine.HomingConfig{Speed: a.Homing.Speed, Duration: a.Homing.Duration}
}

// checkAxes enforces what the schema cannot: unique names and at most one
// axis per coordinate.
func (p *Profile) checkAxes() error {
	names := make(map[string]bool)
	coords := make(map[string]string)
	for _, a := range p.Axes {
		if names[a.Name] {
			return fmt.Errorf("duplicate axis %q", a.Name)
		}
		names[a.Name] = true
		if other, ok := coords[a.Coordinate]; ok {
			return fmt.Errorf("axes %q and %q both position the %s", other, a.Name, a.Coordinate)
		}
		coords[a.Coordinate] = a.Name
	}
	if _, err := p.Files(); err != nil {
		return err
	}
	return nil
}
