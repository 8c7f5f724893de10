package servo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tigerbot-team/wastesort/pkg/pca9685"
)

// PCABank drives axes wired to the ports of a PCA9685 board.
type PCABank struct {
	lock sync.Mutex
	pwm  pca9685.Interface
	axes map[Axis]AxisConfig
}

var _ Actuator = (*PCABank)(nil)

func NewPCABank(pwm pca9685.Interface, axes map[Axis]AxisConfig) (*PCABank, error) {
	for name, c := range axes {
		if c.Channel < 0 || c.Channel >= pca9685.NumPorts {
			return nil, fmt.Errorf("axis %s: channel %d out of range", name, c.Channel)
		}
	}
	if err := pwm.Configure(); err != nil {
		return nil, fmt.Errorf("configure PCA9685: %w", err)
	}
	return &PCABank{pwm: pwm, axes: axes}, nil
}

func (b *PCABank) Move(ctx context.Context, axis Axis, angle int) error {
	c, err := lookup(b.axes, axis)
	if err != nil {
		return err
	}
	b.lock.Lock()
	defer b.lock.Unlock()

	slog.Debug("Moving servo", slog.String("axis", string(axis)), slog.Int("angle", ClampAngle(angle)))
	if err := b.pwm.SetPulse(c.Channel, c.Pulse(angle)); err != nil {
		return fmt.Errorf("move %s: %w", axis, err)
	}
	if err := settle(ctx, c.Settle); err != nil {
		return err
	}
	if c.Release {
		if err := b.pwm.SetPulse(c.Channel, 0); err != nil {
			return fmt.Errorf("release %s: %w", axis, err)
		}
	}
	return nil
}

func (b *PCABank) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, c := range b.axes {
		_ = b.pwm.SetPulse(c.Channel, 0)
	}
	return b.pwm.Close()
}
