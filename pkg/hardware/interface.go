package hardware

import (
	"context"

	"github.com/tigerbot-team/wastesort/pkg/binlevel"
	"github.com/tigerbot-team/wastesort/pkg/lamp"
	"github.com/tigerbot-team/wastesort/pkg/servo"
	"github.com/tigerbot-team/wastesort/pkg/sound"
)

type Interface interface {
	// Start runs background device loops (the status screen) until ctx is
	// done.
	Start(ctx context.Context)

	Actuator() servo.Actuator
	BinSensors() []binlevel.Sensor
	Lamp() lamp.Interface
	Sound() sound.Interface

	// Shutdown releases every device, leaving servos unpowered and the lamp
	// off.
	Shutdown()
}
