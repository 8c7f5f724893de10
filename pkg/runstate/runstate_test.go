package runstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 50 * time.Millisecond

func TestStartIsIdempotent(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	tr := m.Start()
	assert.True(t, tr.Changed())
	assert.Equal(t, Running, tr.To.Kind)

	tr = m.Start()
	assert.False(t, tr.Changed())
	assert.Equal(t, Running, m.Snapshot().Kind)
}

func TestStopWhileStoppedIsNoop(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	tr := m.Stop()
	assert.False(t, tr.Changed())
	assert.Equal(t, Stopped, m.Snapshot().Kind)
}

func TestStopResolvesAfterDebounce(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	m.Start()
	tr := m.Stop()
	require.Equal(t, StopPending, tr.To.Kind)
	assert.True(t, m.Snapshot().Active(), "still active during the debounce window")

	require.Eventually(t, func() bool {
		return m.Snapshot().Kind == Stopped
	}, time.Second, 5*time.Millisecond)
}

func TestRepeatedStopKeepsDeadline(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	m.Start()
	first := m.Stop()
	second := m.Stop()
	assert.False(t, second.Changed())
	assert.Equal(t, first.To.Deadline, m.Snapshot().Deadline)
}

func TestInsertAgainCancelsPendingStop(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	m.Start()
	m.Stop()
	tr, ok := m.InsertAgain()
	require.True(t, ok)
	assert.Equal(t, StopPending, tr.From.Kind)
	assert.Equal(t, Running, tr.To.Kind)

	// Outlive the original deadline; the stale timer must not stop us.
	time.Sleep(3 * testDebounce)
	assert.Equal(t, Running, m.Snapshot().Kind)
}

func TestStartCancelsPendingStop(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	m.Start()
	m.Stop()
	m.Start()
	time.Sleep(3 * testDebounce)
	assert.Equal(t, Running, m.Snapshot().Kind)
}

func TestInsertAgainRefusedWhileStopped(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	_, ok := m.InsertAgain()
	assert.False(t, ok)
	assert.Equal(t, Stopped, m.Snapshot().Kind)
}

func TestWaitActive(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	done := make(chan error, 1)
	go func() {
		done <- m.WaitActive(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("WaitActive returned while stopped")
	case <-time.After(20 * time.Millisecond):
	}

	m.Start()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitActive did not return after Start")
	}
}

func TestWaitActiveHonoursContext(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitActive(ctx), context.DeadlineExceeded)
}

func TestWaitActiveBlocksAgainAfterStop(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	m.Start()
	require.NoError(t, m.WaitActive(context.Background()))
	m.Stop()
	require.Eventually(t, func() bool { return !m.Snapshot().Active() }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitActive(ctx), context.DeadlineExceeded)
}

func TestOnChange(t *testing.T) {
	m := New(testDebounce)
	defer m.Close()

	var mu sync.Mutex
	var seen []Kind
	m.OnChange(func(tr Transition) {
		mu.Lock()
		seen = append(seen, tr.To.Kind)
		mu.Unlock()
	})

	m.Start()
	m.Start()
	m.Stop()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Kind{Running, StopPending, Stopped}, seen)
}
