package servo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio"
)

func TestPulse(t *testing.T) {
	c := AxisConfig{}
	tests := []struct {
		angle    int
		expected time.Duration
	}{
		{0, 400 * time.Microsecond},
		{90, 1400 * time.Microsecond},
		{180, 2400 * time.Microsecond},
		{-20, 400 * time.Microsecond},
		{270, 2400 * time.Microsecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, c.Pulse(tt.angle), "Pulse(%d)", tt.angle)
	}
}

func TestPulseCustomRange(t *testing.T) {
	c := AxisConfig{MinPulse: time.Millisecond, MaxPulse: 2 * time.Millisecond}
	assert.Equal(t, 1500*time.Microsecond, c.Pulse(90))
}

func TestDuty(t *testing.T) {
	// 1.4ms of a 20ms period is 7%.
	d := Duty(AxisConfig{}, 90)
	assert.InDelta(t, 0.07*float64(gpio.DutyMax), float64(d), 2)
}

type pulse struct {
	port  int
	width time.Duration
}

type recordingPWM struct {
	configured bool
	pulses     []pulse
	closed     bool
}

func (r *recordingPWM) Configure() error {
	r.configured = true
	return nil
}

func (r *recordingPWM) SetPulse(port int, width time.Duration) error {
	r.pulses = append(r.pulses, pulse{port, width})
	return nil
}

func (r *recordingPWM) Close() error {
	r.closed = true
	return nil
}

func TestPCABankMove(t *testing.T) {
	pwm := &recordingPWM{}
	b, err := NewPCABank(pwm, map[Axis]AxisConfig{
		Sorter: {Channel: 0},
		Gate:   {Channel: 1, Release: true},
	})
	require.NoError(t, err)
	assert.True(t, pwm.configured)

	require.NoError(t, b.Move(context.Background(), Sorter, 180))
	require.NoError(t, b.Move(context.Background(), Gate, 0))
	assert.Equal(t, []pulse{
		{0, 2400 * time.Microsecond},
		{1, 400 * time.Microsecond},
		{1, 0},
	}, pwm.pulses)

	require.NoError(t, b.Close())
	assert.True(t, pwm.closed)
}

func TestPCABankRejectsBadChannel(t *testing.T) {
	_, err := NewPCABank(&recordingPWM{}, map[Axis]AxisConfig{Sorter: {Channel: 16}})
	assert.Error(t, err)
}

func TestUnknownAxis(t *testing.T) {
	d := NewDummy(map[Axis]AxisConfig{Sorter: {}})
	err := d.Move(context.Background(), Gate, 10)
	assert.ErrorIs(t, err, ErrUnknownAxis)
}

func TestDummyRemembersAngle(t *testing.T) {
	d := NewDummy(map[Axis]AxisConfig{Sorter: {}})
	require.NoError(t, d.Move(context.Background(), Sorter, 200))
	a, ok := d.Angle(Sorter)
	assert.True(t, ok)
	assert.Equal(t, 180, a)
}

func TestSettleHonoursContext(t *testing.T) {
	d := NewDummy(map[Axis]AxisConfig{Sorter: {Settle: time.Hour}})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Move(ctx, Sorter, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
