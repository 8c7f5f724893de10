// Package servo moves named hobby-servo axes to absolute angles.
package servo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Axis names one servo of the sorter.
type Axis string

const (
	Sorter Axis = "sorter"
	Gate   Axis = "gate"
)

const (
	MinAngle = 0
	MaxAngle = 180

	DefaultMinPulse = 400 * time.Microsecond
	DefaultMaxPulse = 2400 * time.Microsecond
)

var ErrUnknownAxis = errors.New("unknown axis")

// Actuator is the motion capability the sorter drives.  Move blocks until
// the axis has had time to reach the angle.
type Actuator interface {
	Move(ctx context.Context, axis Axis, angle int) error
}

// AxisConfig describes how one axis is wired.
type AxisConfig struct {
	// Channel is the PCA9685 port, used by the PCA9685 bank.
	Channel int `yaml:"channel"`
	// Pin is the GPIO name (e.g. "GPIO12"), used by the GPIO bank.
	Pin      string        `yaml:"pin"`
	MinPulse time.Duration `yaml:"min_pulse"`
	MaxPulse time.Duration `yaml:"max_pulse"`
	// Settle is how long Move waits for the horn to reach its target.
	Settle time.Duration `yaml:"settle"`
	// Release drops the drive signal after settling so the servo does not
	// jitter while idle.
	Release bool `yaml:"release"`
}

func (c AxisConfig) withDefaults() AxisConfig {
	if c.MinPulse <= 0 {
		c.MinPulse = DefaultMinPulse
	}
	if c.MaxPulse <= c.MinPulse {
		c.MaxPulse = DefaultMaxPulse
	}
	if c.Settle < 0 {
		c.Settle = 0
	}
	return c
}

// Pulse converts an angle into a pulse width, clamping to [0,180].
func (c AxisConfig) Pulse(angle int) time.Duration {
	c = c.withDefaults()
	angle = ClampAngle(angle)
	span := c.MaxPulse - c.MinPulse
	return c.MinPulse + span*time.Duration(angle)/MaxAngle
}

func ClampAngle(angle int) int {
	if angle < MinAngle {
		return MinAngle
	}
	if angle > MaxAngle {
		return MaxAngle
	}
	return angle
}

func lookup(axes map[Axis]AxisConfig, axis Axis) (AxisConfig, error) {
	c, ok := axes[axis]
	if !ok {
		return AxisConfig{}, fmt.Errorf("%w: %q", ErrUnknownAxis, axis)
	}
	return c.withDefaults(), nil
}

// settle waits for the servo to physically reach its target.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
