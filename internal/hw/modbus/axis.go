package modbus

import (
	"context"
	"fmt"

	"github.com/KevinKickass/VibeChessCore/internal/hw"
)

// RegisterMap locates one axis on a Modbus motor driver. Duty, Direction and
// Brake must be consecutive so a drive command is a single 0x10 write. The
// encoder is a signed 32-bit counter in two registers, high word first.
type RegisterMap struct {
	Duty    uint16 `mapstructure:"duty" yaml:"duty"`
	Encoder uint16 `mapstructure:"encoder" yaml:"encoder"`
}

func (m RegisterMap) direction() uint16 { return m.Duty + 1 }

// Axis is a hw.Axis backed by holding registers.
type Axis struct {
	client *Client
	unitID uint8
	regs   RegisterMap
}

func NewAxis(client *Client, unitID uint8, regs RegisterMap) *Axis {
	return &Axis{client: client, unitID: unitID, regs: regs}
}

// Drive implements hw.Motor. Direction register: 0 forward, 1 reverse.
func (a *Axis) Drive(ctx context.Context, duty uint8, dir hw.Direction) error {
	var d uint16
	if dir == hw.Reverse {
		d = 1
	}
	if err := a.client.WriteMultipleRegisters(ctx, a.unitID, a.regs.Duty, []uint16{uint16(duty), d, 0}); err != nil {
		return fmt.Errorf("drive unit %d: %w", a.unitID, err)
	}
	return nil
}

// Stop implements hw.Motor. Brake register: 0 coast, 1 short-brake.
func (a *Axis) Stop(ctx context.Context, mode hw.StopMode) error {
	var brake uint16
	if mode == hw.StopBrake {
		brake = 1
	}
	if err := a.client.WriteMultipleRegisters(ctx, a.unitID, a.regs.Duty, []uint16{0, 0, brake}); err != nil {
		return fmt.Errorf("stop unit %d: %w", a.unitID, err)
	}
	return nil
}

// Position implements hw.Encoder.
func (a *Axis) Position(ctx context.Context) (int64, error) {
	regs, err := a.client.ReadHoldingRegisters(ctx, a.unitID, a.regs.Encoder, 2)
	if err != nil {
		return 0, fmt.Errorf("read encoder unit %d: %w", a.unitID, err)
	}
	return int64(int32(uint32(regs[0])<<16 | uint32(regs[1]))), nil
}

// SetPosition implements hw.Encoder.
func (a *Axis) SetPosition(ctx context.Context, counts int64) error {
	v := uint32(int32(counts))
	if err := a.client.WriteMultipleRegisters(ctx, a.unitID, a.regs.Encoder, []uint16{uint16(v >> 16), uint16(v)}); err != nil {
		return fmt.Errorf("preset encoder unit %d: %w", a.unitID, err)
	}
	return nil
}

// Coil is a hw.Output backed by a single coil, e.g. the magnet relay.
type Coil struct {
	client *Client
	unitID uint8
	addr   uint16
}

func NewCoil(client *Client, unitID uint8, addr uint16) *Coil {
	return &Coil{client: client, unitID: unitID, addr: addr}
}

func (c *Coil) Set(ctx context.Context, on bool) error {
	return c.client.WriteSingleCoil(ctx, c.unitID, c.addr, on)
}

var (
	_ hw.Axis   = (*Axis)(nil)
	_ hw.Output = (*Coil)(nil)
)
