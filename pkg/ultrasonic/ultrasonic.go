// Package ultrasonic reads distances from HC-SR04 style echo sensors.
package ultrasonic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

const (
	// SpeedOfSound in cm/s at room temperature.
	SpeedOfSound = 34300

	TriggerPulse   = 10 * time.Microsecond
	DefaultTimeout = 100 * time.Millisecond
)

var (
	ErrTimeout   = errors.New("echo timeout")
	ErrNoSuchPin = errors.New("no such GPIO pin")
)

type Interface interface {
	// Measure returns the distance in cm, or ErrTimeout if no echo arrived
	// within the sensor's timeout or the context's deadline.
	Measure(ctx context.Context) (float64, error)
	Close() error
}

type triggerPin interface {
	Out(l gpio.Level) error
}

type echoPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

type HCSR04 struct {
	lock    sync.Mutex
	trig    triggerPin
	echo    echoPin
	timeout time.Duration
}

func New(trigName, echoName string, timeout time.Duration) (Interface, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	trig := gpioreg.ByName(trigName)
	if trig == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchPin, trigName)
	}
	echo := gpioreg.ByName(echoName)
	if echo == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchPin, echoName)
	}
	return newHCSR04(trig, echo, timeout)
}

func newHCSR04(trig triggerPin, echo echoPin, timeout time.Duration) (*HCSR04, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := trig.Out(gpio.Low); err != nil {
		return nil, err
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, err
	}
	return &HCSR04{trig: trig, echo: echo, timeout: timeout}, nil
}

// DistanceFromEcho converts a round-trip echo time into a one-way distance
// in cm.
func DistanceFromEcho(d time.Duration) float64 {
	return d.Seconds() * SpeedOfSound / 2
}

func (s *HCSR04) Measure(ctx context.Context) (float64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := s.trig.Out(gpio.High); err != nil {
		return 0, err
	}
	time.Sleep(TriggerPulse)
	if err := s.trig.Out(gpio.Low); err != nil {
		return 0, err
	}

	// Wait for the echo line to go high.
	for s.echo.Read() != gpio.High {
		remaining := time.Until(deadline)
		if remaining <= 0 || !s.echo.WaitForEdge(remaining) {
			return 0, ErrTimeout
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	start := time.Now()

	// Then for it to drop again; the high time is the round trip.
	for s.echo.Read() != gpio.Low {
		remaining := time.Until(deadline)
		if remaining <= 0 || !s.echo.WaitForEdge(remaining) {
			return 0, ErrTimeout
		}
	}
	return DistanceFromEcho(time.Since(start)), nil
}

func (s *HCSR04) Close() error {
	return s.trig.Out(gpio.Low)
}
