// Package runstate owns the process-wide run/stop state.  The router mutates
// it in response to operator commands; the polling loops only read
// snapshots or block until it becomes active.
package runstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const DefaultStopDebounce = 5 * time.Second

type Kind int

const (
	Stopped Kind = iota
	Running
	// StopPending is still active; it becomes Stopped at the deadline unless
	// a Start or InsertAgain arrives first.
	StopPending
)

func (k Kind) String() string {
	switch k {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case StopPending:
		return "stop-pending"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type State struct {
	Kind     Kind
	Deadline time.Time
}

// Active reports whether polling and sort cycles may start.
func (s State) Active() bool {
	return s.Kind != Stopped
}

func (s State) String() string {
	if s.Kind == StopPending {
		return fmt.Sprintf("%v(until %v)", s.Kind, s.Deadline.Format(time.TimeOnly))
	}
	return s.Kind.String()
}

type Transition struct {
	From, To State
}

func (t Transition) Changed() bool {
	return t.From.Kind != t.To.Kind
}

type Machine struct {
	mu       sync.Mutex
	debounce time.Duration
	state    State

	// generation invalidates debounce timers from earlier Stop commands.
	generation uint64
	timer      *time.Timer

	// activeC is closed while the state is active and replaced with a fresh
	// channel whenever we become Stopped.
	activeC chan struct{}

	onChange func(Transition)
}

func New(debounce time.Duration) *Machine {
	if debounce <= 0 {
		debounce = DefaultStopDebounce
	}
	return &Machine{
		debounce: debounce,
		activeC:  make(chan struct{}),
	}
}

// OnChange registers a callback run after every state change, outside the
// machine's lock.
func (m *Machine) OnChange(fn func(Transition)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Machine) Debounce() time.Duration {
	return m.debounce
}

// Start moves to Running.  From StopPending it cancels the pending stop;
// while already Running it is a no-op refresh.
func (m *Machine) Start() Transition {
	m.mu.Lock()
	t := m.runLocked()
	fn := m.onChange
	m.mu.Unlock()
	m.notify(fn, t)
	return t
}

// InsertAgain behaves like Start while active and is refused while Stopped.
func (m *Machine) InsertAgain() (Transition, bool) {
	m.mu.Lock()
	if !m.state.Active() {
		s := m.state
		m.mu.Unlock()
		return Transition{From: s, To: s}, false
	}
	t := m.runLocked()
	fn := m.onChange
	m.mu.Unlock()
	m.notify(fn, t)
	return t, true
}

// Stop arms the debounce window.  Repeated Stops do not extend the deadline
// and Stop while Stopped is a no-op.
func (m *Machine) Stop() Transition {
	m.mu.Lock()
	from := m.state
	if from.Kind != Running {
		m.mu.Unlock()
		return Transition{From: from, To: from}
	}
	m.generation++
	gen := m.generation
	m.state = State{Kind: StopPending, Deadline: time.Now().Add(m.debounce)}
	m.timer = time.AfterFunc(m.debounce, func() { m.resolve(gen) })
	t := Transition{From: from, To: m.state}
	fn := m.onChange
	m.mu.Unlock()
	m.notify(fn, t)
	return t
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	s := m.state
	gen := m.generation
	m.mu.Unlock()
	if s.Kind == StopPending && !time.Now().Before(s.Deadline) {
		// The timer may not have fired yet; resolve eagerly so readers never
		// see a stale pending state.
		m.resolve(gen)
		return m.Snapshot()
	}
	return s
}

// WaitActive blocks until the state is active or ctx is done.
func (m *Machine) WaitActive(ctx context.Context) error {
	for {
		m.mu.Lock()
		c := m.activeC
		m.mu.Unlock()
		select {
		case <-c:
			if m.Snapshot().Active() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels any pending debounce timer.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) runLocked() Transition {
	from := m.state
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
	m.state = State{Kind: Running}
	if from.Kind == Stopped {
		close(m.activeC)
	}
	return Transition{From: from, To: m.state}
}

func (m *Machine) resolve(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state.Kind != StopPending {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = State{Kind: Stopped}
	m.activeC = make(chan struct{})
	m.timer = nil
	t := Transition{From: from, To: m.state}
	fn := m.onChange
	m.mu.Unlock()
	slog.Info("Run state stopped after debounce")
	m.notify(fn, t)
}

func (m *Machine) notify(fn func(Transition), t Transition) {
	if fn != nil && t.Changed() {
		fn(t)
	}
}
