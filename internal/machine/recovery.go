package machine

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/VibeChessCore/internal/hw"
	"github.com/KevinKickass/VibeChessCore/internal/storage"
	"go.uber.org/zap"
)

// Home drives every axis toward its zero wall at homing speed for the
// configured duration, then resets its position to 0 and clears the fault.
// Axes with a home switch stop early when it trips; a switch that never
// trips fails homing and leaves the fault latched.
func (c *Controller) Home(ctx context.Context) error {
	c.logger.Info("Homing started", zap.Int("axes", len(c.axes)))

	for _, a := range c.axes {
		if err := c.homeAxis(ctx, a); err != nil {
			c.logger.Error("Homing failed", zap.String("axis", a.Name), zap.Error(err))
			return err
		}
	}

	for _, a := range c.axes {
		a.LastCommandedTarget = 0
		a.hasFailedTarget = false
	}
	c.setState(StateNormal, "")
	c.record(ctx, storage.FaultHomed, "", true)
	c.logger.Info("Homing complete")
	return nil
}

func (c *Controller) homeAxis(ctx context.Context, a *AxisState) error {
	motor := a.Servo.Axis()
	cfg := a.Servo.Config()

	dir := hw.Reverse
	if cfg.Invert {
		dir = dir.Flip()
	}
	if err := motor.Drive(ctx, a.Homing.Speed, dir); err != nil {
		return fmt.Errorf("%w: drive %s: %v", ErrHomingFailed, a.Name, err)
	}

	stop := func() {
		if err := motor.Stop(context.WithoutCancel(ctx), hw.StopBrake); err != nil {
			c.logger.Warn("Failed to stop axis after homing", zap.String("axis", a.Name), zap.Error(err))
		}
	}

	start := c.clock.Now()
	tripped := false
	for c.clock.Now().Sub(start) < a.Homing.Duration {
		if err := ctx.Err(); err != nil {
			stop()
			return err
		}
		if c.abort != nil && c.abort.AbortRequested() {
			stop()
			return ErrAborted
		}
		if a.HomeSwitch != nil {
			on, err := a.HomeSwitch.Triggered(ctx)
			if err != nil {
				stop()
				return fmt.Errorf("%w: read %s home switch: %v", ErrHomingFailed, a.Name, err)
			}
			if on {
				tripped = true
				break
			}
		}
		c.clock.Sleep(cfg.PollInterval)
	}
	stop()

	if a.HomeSwitch != nil && !tripped {
		return fmt.Errorf("%w: %s home switch did not trip within %v", ErrHomingFailed, a.Name, a.Homing.Duration)
	}
	if err := motor.SetPosition(ctx, 0); err != nil {
		return fmt.Errorf("%w: reset %s encoder: %v", ErrHomingFailed, a.Name, err)
	}
	return nil
}

// Confirm trusts that the operator has placed the carriage at the target of
// the failed move: every axis with a failed target has its position set to
// that target without reading hardware, and the fault is cleared.
func (c *Controller) Confirm(ctx context.Context) error {
	if !c.allowConfirm {
		return ErrConfirmDisabled
	}
	if !c.Faulted() {
		c.logger.Info("Confirm received while not faulted, nothing to re-seed")
		return nil
	}

	for _, a := range c.axes {
		target, ok := a.LastFailedTarget()
		if !ok {
			continue
		}
		if err := a.Servo.Axis().SetPosition(ctx, target); err != nil {
			return fmt.Errorf("re-seed %s: %w", a.Name, err)
		}
		a.hasFailedTarget = false
		c.logger.Warn("Position re-seeded from operator confirm without verification",
			zap.String("axis", a.Name),
			zap.Int64("position", target))
	}

	c.setState(StateNormal, "")
	c.record(ctx, storage.FaultConfirmed, "operator confirm", false)
	return nil
}

// Zero resets every axis position to 0 from local control and clears the fault.
func (c *Controller) Zero(ctx context.Context) error {
	var errs []error
	for _, a := range c.axes {
		if err := a.Servo.Axis().SetPosition(ctx, 0); err != nil {
			errs = append(errs, fmt.Errorf("zero %s: %w", a.Name, err))
			continue
		}
		a.LastCommandedTarget = 0
		a.hasFailedTarget = false
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.setState(StateNormal, "")
	c.record(ctx, storage.FaultZeroed, "local zero", true)
	c.logger.Info("Axes zeroed")
	return nil
}
