package hardware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tigerbot-team/wastesort/pkg/binlevel"
	"github.com/tigerbot-team/wastesort/pkg/config"
	"github.com/tigerbot-team/wastesort/pkg/lamp"
	"github.com/tigerbot-team/wastesort/pkg/pca9685"
	"github.com/tigerbot-team/wastesort/pkg/screen"
	"github.com/tigerbot-team/wastesort/pkg/servo"
	"github.com/tigerbot-team/wastesort/pkg/sound"
	"github.com/tigerbot-team/wastesort/pkg/ultrasonic"
)

type Hardware struct {
	cfg config.Config

	actuator servo.Actuator
	sensors  []binlevel.Sensor
	lamp     lamp.Interface
	sound    *sound.Player

	closers []io.Closer
}

var _ Interface = (*Hardware)(nil)

// New opens the devices named in cfg.  Everything opened so far is closed
// again if a later device fails.
func New(cfg config.Config) (_ *Hardware, err error) {
	h := &Hardware{cfg: cfg}
	defer func() {
		if err != nil {
			h.Shutdown()
		}
	}()

	switch cfg.Servo.Driver {
	case config.ServoDriverPCA9685:
		pwm, err := pca9685.New(cfg.Servo.I2CBus, cfg.Servo.I2CAddr)
		if err != nil {
			return nil, fmt.Errorf("open PCA9685: %w", err)
		}
		bank, err := servo.NewPCABank(pwm, cfg.Servo.Axes())
		if err != nil {
			_ = pwm.Close()
			return nil, err
		}
		h.actuator = bank
		h.closers = append(h.closers, bank)
	default:
		bank, err := servo.NewGPIOBank(cfg.Servo.Axes())
		if err != nil {
			return nil, fmt.Errorf("open servo pins: %w", err)
		}
		h.actuator = bank
		h.closers = append(h.closers, bank)
	}

	for _, s := range cfg.Bins.Sensors {
		dev, err := ultrasonic.New(s.Trig, s.Echo, cfg.Bins.ReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("open sensor %s: %w", s.Name, err)
		}
		h.closers = append(h.closers, dev)
		h.sensors = append(h.sensors, binlevel.Sensor{
			Name:   s.Name,
			Topic:  s.Topic,
			Gap:    s.Gap,
			Height: s.Height,
			Device: dev,
		})
	}

	if cfg.Lamp.Enabled {
		l, err := lamp.New(cfg.Lamp.Pin, cfg.Lamp.ActiveHigh)
		if err != nil {
			return nil, fmt.Errorf("open lamp: %w", err)
		}
		h.lamp = l
		h.closers = append(h.closers, l)
	} else {
		h.lamp = lamp.Dummy{}
	}

	h.sound = sound.New(Cues(cfg.Sound))
	return h, nil
}

// Cues maps the configured wav files onto sound cues.
func Cues(s config.Sound) map[sound.Cue]string {
	return map[sound.Cue]string{
		sound.CueStart:  s.Start,
		sound.CueStop:   s.Stop,
		sound.CueSorted: s.Sorted,
		sound.CueFault:  s.Fault,
	}
}

func (h *Hardware) Start(ctx context.Context) {
	if h.cfg.Screen.Enabled {
		go screen.LoopUpdatingScreen(ctx, h.cfg.Screen.Device)
	}
}

func (h *Hardware) Actuator() servo.Actuator {
	return h.actuator
}

func (h *Hardware) BinSensors() []binlevel.Sensor {
	return h.sensors
}

func (h *Hardware) Lamp() lamp.Interface {
	return h.lamp
}

func (h *Hardware) Sound() sound.Interface {
	if h.sound == nil {
		return sound.Nop{}
	}
	return h.sound
}

func (h *Hardware) Shutdown() {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i].Close())
	}
	h.closers = nil
	if h.sound != nil {
		h.sound.Close()
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Errors while shutting down hardware", slog.Any("err", err))
	}
}
