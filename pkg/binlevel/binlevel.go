// Package binlevel turns ultrasonic distance readings into bin fill levels
// and publishes them while the system is running.
package binlevel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tigerbot-team/wastesort/pkg/bus"
	"github.com/tigerbot-team/wastesort/pkg/runstate"
	"github.com/tigerbot-team/wastesort/pkg/screen"
	"github.com/tigerbot-team/wastesort/pkg/ultrasonic"
)

const (
	DefaultInterval    = time.Second
	DefaultReadTimeout = 100 * time.Millisecond
)

var ErrAlreadyRunning = errors.New("bin level monitor already running")

type Format string

const (
	// FormatBare publishes "42".
	FormatBare Format = "bare"
	// FormatPercent publishes "42%".
	FormatPercent Format = "percent"
)

type Sensor struct {
	Name  string
	Topic string
	// Gap is the distance from the sensor to the top of the bin, in cm.
	Gap float64
	// Height is the depth of the bin, in cm.
	Height float64
	Device ultrasonic.Interface
}

// Near is the reading of a full bin.
func (s Sensor) Near() float64 {
	return s.Gap
}

// Far is the reading of an empty bin.
func (s Sensor) Far() float64 {
	return s.Gap + s.Height
}

type BinState struct {
	Sensor   string
	Topic    string
	Distance float64
	Percent  int
	ReadAt   time.Time
	Valid    bool
	Err      error
}

// FillPercent maps a distance onto 0-100: at or nearer than near is full,
// at or beyond far is empty.
func FillPercent(d, near, far float64) int {
	if d <= near {
		return 100
	}
	if d >= far || far <= near {
		return 0
	}
	p := int(math.Round((far - d) / (far - near) * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

type Config struct {
	Interval    time.Duration
	ReadTimeout time.Duration
	Format      Format
}

type Monitor struct {
	cfg     Config
	sensors []Sensor
	bus     bus.Interface
	run     *runstate.Machine

	running atomic.Bool

	lock   sync.Mutex
	states []BinState
}

func New(cfg Config, sensors []Sensor, b bus.Interface, run *runstate.Machine) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Format == "" {
		cfg.Format = FormatBare
	}
	return &Monitor{
		cfg:     cfg,
		sensors: sensors,
		bus:     b,
		run:     run,
	}
}

func (m *Monitor) Payload(percent int) string {
	if m.cfg.Format == FormatPercent {
		return fmt.Sprintf("%d%%", percent)
	}
	return strconv.Itoa(percent)
}

// PollAll reads every sensor once, in order, and publishes the valid
// readings.  Failed reads are returned with Valid false and not published.
func (m *Monitor) PollAll(ctx context.Context) []BinState {
	states := make([]BinState, 0, len(m.sensors))
	for _, s := range m.sensors {
		st := m.poll(ctx, s)
		screen.SetBinLevel(s.Name, st.Percent, st.Valid)
		if st.Valid {
			if err := m.bus.Publish(s.Topic, m.Payload(st.Percent)); err != nil {
				slog.Warn("Failed to publish bin level", slog.String("topic", s.Topic), slog.Any("err", err))
			}
		}
		states = append(states, st)
	}
	m.lock.Lock()
	m.states = states
	m.lock.Unlock()
	return states
}

func (m *Monitor) poll(ctx context.Context, s Sensor) BinState {
	st := BinState{Sensor: s.Name, Topic: s.Topic, ReadAt: time.Now()}
	readCtx, cancel := context.WithTimeout(ctx, m.cfg.ReadTimeout)
	defer cancel()
	d, err := s.Device.Measure(readCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s: %w", s.Name, ultrasonic.ErrTimeout)
		}
		slog.Debug("Sensor read failed", slog.String("sensor", s.Name), slog.Any("err", err))
		st.Err = err
		return st
	}
	st.Distance = d
	st.Percent = FillPercent(d, s.Near(), s.Far())
	st.Valid = true
	return st
}

// States returns the result of the most recent poll.
func (m *Monitor) States() []BinState {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]BinState(nil), m.states...)
}

// Run polls on a ticker while the run state is active and blocks, without
// polling, while it is stopped.  Only one Run may be in progress.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	for {
		if err := m.run.WaitActive(ctx); err != nil {
			return err
		}
		slog.Info("Bin level polling started", slog.Int("sensors", len(m.sensors)))
		if err := m.pollWhileActive(ctx); err != nil {
			return err
		}
		slog.Info("Bin level polling paused")
	}
}

func (m *Monitor) pollWhileActive(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		m.PollAll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !m.run.Snapshot().Active() {
			return nil
		}
	}
}
