package hardware

import (
	"context"
	"fmt"

	"github.com/tigerbot-team/wastesort/pkg/binlevel"
	"github.com/tigerbot-team/wastesort/pkg/config"
	"github.com/tigerbot-team/wastesort/pkg/lamp"
	"github.com/tigerbot-team/wastesort/pkg/servo"
	"github.com/tigerbot-team/wastesort/pkg/sound"
	"github.com/tigerbot-team/wastesort/pkg/ultrasonic"
)

// Dummy stands in for the real devices on a development machine.  Each bin
// reads as half full.
type Dummy struct {
	actuator *servo.Dummy
	sensors  []binlevel.Sensor
}

var _ Interface = (*Dummy)(nil)

func NewDummy(cfg config.Config) *Dummy {
	d := &Dummy{actuator: servo.NewDummy(cfg.Servo.Axes())}
	for _, s := range cfg.Bins.Sensors {
		d.sensors = append(d.sensors, binlevel.Sensor{
			Name:   s.Name,
			Topic:  s.Topic,
			Gap:    s.Gap,
			Height: s.Height,
			Device: ultrasonic.NewDummy(s.Gap + s.Height/2),
		})
	}
	return d
}

func (d *Dummy) Start(ctx context.Context) {
	fmt.Println("DHW: Start")
}

func (d *Dummy) Actuator() servo.Actuator {
	return d.actuator
}

// Servos gives access to the commanded angles.
func (d *Dummy) Servos() *servo.Dummy {
	return d.actuator
}

func (d *Dummy) BinSensors() []binlevel.Sensor {
	return d.sensors
}

func (d *Dummy) Lamp() lamp.Interface {
	return lamp.Dummy{}
}

func (d *Dummy) Sound() sound.Interface {
	return sound.Nop{}
}

func (d *Dummy) Shutdown() {
	fmt.Println("DHW: Shutdown")
}
