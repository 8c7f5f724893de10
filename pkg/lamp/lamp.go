// Package lamp drives the relay that lights the capture area.
package lamp

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

const (
	DefaultDelay = 2 * time.Second
	DefaultOn    = 4 * time.Second
)

type Interface interface {
	// Flash switches the lamp on after delay and off again after on.  It
	// does not block.  Overlapping flashes keep the lamp lit until the last
	// one ends.
	Flash(delay, on time.Duration)
	Close() error
}

type relayPin interface {
	Out(l gpio.Level) error
}

type Lamp struct {
	lock       sync.Mutex
	pin        relayPin
	activeHigh bool
	lit        bool
	onUntil    time.Time
	offTimer   *time.Timer
	pending    map[*time.Timer]struct{}
	closed     bool
}

var _ Interface = (*Lamp)(nil)

func New(pinName string, activeHigh bool) (*Lamp, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("no GPIO pin named %q", pinName)
	}
	return newLamp(p, activeHigh)
}

func newLamp(p relayPin, activeHigh bool) (*Lamp, error) {
	l := &Lamp{
		pin:        p,
		activeHigh: activeHigh,
		pending:    map[*time.Timer]struct{}{},
	}
	if err := l.setLocked(false); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Lamp) level(on bool) gpio.Level {
	return gpio.Level(on == l.activeHigh)
}

func (l *Lamp) setLocked(on bool) error {
	if err := l.pin.Out(l.level(on)); err != nil {
		return err
	}
	l.lit = on
	return nil
}

func (l *Lamp) Flash(delay, on time.Duration) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed || on <= 0 {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		l.lock.Lock()
		defer l.lock.Unlock()
		delete(l.pending, t)
		l.lightLocked(on)
	})
	l.pending[t] = struct{}{}
}

func (l *Lamp) lightLocked(on time.Duration) {
	if l.closed {
		return
	}
	until := time.Now().Add(on)
	if until.After(l.onUntil) {
		l.onUntil = until
	}
	if !l.lit {
		slog.Debug("Lamp on")
		if err := l.setLocked(true); err != nil {
			slog.Warn("Failed to switch lamp on", slog.Any("err", err))
		}
	}
	if l.offTimer != nil {
		l.offTimer.Stop()
	}
	l.offTimer = time.AfterFunc(time.Until(l.onUntil), l.switchOff)
}

func (l *Lamp) switchOff() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed || time.Now().Before(l.onUntil) {
		return
	}
	slog.Debug("Lamp off")
	if err := l.setLocked(false); err != nil {
		slog.Warn("Failed to switch lamp off", slog.Any("err", err))
	}
}

// Lit reports whether the relay is currently energised.
func (l *Lamp) Lit() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.lit
}

// Close cancels pending flashes and leaves the lamp off.
func (l *Lamp) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.closed = true
	for t := range l.pending {
		t.Stop()
	}
	l.pending = nil
	if l.offTimer != nil {
		l.offTimer.Stop()
	}
	return l.setLocked(false)
}

// Dummy logs flashes instead of switching a relay.
type Dummy struct{}

func (Dummy) Flash(delay, on time.Duration) {
	fmt.Printf("DHW: Lamp flash delay=%v on=%v\n", delay, on)
}

func (Dummy) Close() error {
	return nil
}
