package hardware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/wastesort/pkg/binlevel"
	"github.com/tigerbot-team/wastesort/pkg/config"
	"github.com/tigerbot-team/wastesort/pkg/servo"
	"github.com/tigerbot-team/wastesort/pkg/sound"
)

func TestDummyBinsReadHalfFull(t *testing.T) {
	cfg := config.Default()
	d := NewDummy(cfg)
	sensors := d.BinSensors()
	require.Len(t, sensors, len(cfg.Bins.Sensors))
	for _, s := range sensors {
		dist, err := s.Device.Measure(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 50, binlevel.FillPercent(dist, s.Near(), s.Far()), 1, s.Name)
	}
}

func TestDummyActuator(t *testing.T) {
	cfg := config.Default()
	cfg.Servo.Sorter.Settle = 0
	d := NewDummy(cfg)
	require.NoError(t, d.Actuator().Move(context.Background(), servo.Gate, 90))
	a, ok := d.Servos().Angle(servo.Gate)
	assert.True(t, ok)
	assert.Equal(t, 90, a)
}

func TestCues(t *testing.T) {
	cues := Cues(config.Sound{Start: "start.wav", Fault: "fault.wav"})
	assert.Equal(t, "start.wav", cues[sound.CueStart])
	assert.Equal(t, "fault.wav", cues[sound.CueFault])
	assert.Empty(t, cues[sound.CueSorted])
}
