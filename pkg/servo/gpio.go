package servo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

const (
	servoFrequency = 50 * physic.Hertz
	servoPeriod    = time.Second / 50
)

// GPIOBank drives axes straight from hardware-PWM capable GPIO pins.
type GPIOBank struct {
	lock sync.Mutex
	pins map[Axis]gpio.PinIO
	axes map[Axis]AxisConfig
}

var _ Actuator = (*GPIOBank)(nil)

func NewGPIOBank(axes map[Axis]AxisConfig) (*GPIOBank, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	b := &GPIOBank{
		pins: map[Axis]gpio.PinIO{},
		axes: axes,
	}
	for name, c := range axes {
		p := gpioreg.ByName(c.Pin)
		if p == nil {
			return nil, fmt.Errorf("axis %s: no GPIO pin named %q", name, c.Pin)
		}
		if err := p.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("axis %s: %w", name, err)
		}
		b.pins[name] = p
	}
	return b, nil
}

// Duty converts a pulse width at 50Hz into a periph duty cycle.
func Duty(c AxisConfig, angle int) gpio.Duty {
	return gpio.Duty(int64(gpio.DutyMax) * int64(c.Pulse(angle)) / int64(servoPeriod))
}

func (b *GPIOBank) Move(ctx context.Context, axis Axis, angle int) error {
	c, err := lookup(b.axes, axis)
	if err != nil {
		return err
	}
	b.lock.Lock()
	defer b.lock.Unlock()

	p := b.pins[axis]
	slog.Debug("Moving servo", slog.String("axis", string(axis)), slog.String("pin", c.Pin), slog.Int("angle", ClampAngle(angle)))
	if err := p.PWM(Duty(c, angle), servoFrequency); err != nil {
		return fmt.Errorf("move %s: %w", axis, err)
	}
	if err := settle(ctx, c.Settle); err != nil {
		return err
	}
	if c.Release {
		if err := p.Out(gpio.Low); err != nil {
			return fmt.Errorf("release %s: %w", axis, err)
		}
	}
	return nil
}

func (b *GPIOBank) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, p := range b.pins {
		_ = p.Out(gpio.Low)
	}
	return nil
}
