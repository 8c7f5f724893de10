package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/wastesort/pkg/bus"
	"github.com/tigerbot-team/wastesort/pkg/category"
	"github.com/tigerbot-team/wastesort/pkg/runstate"
	"github.com/tigerbot-team/wastesort/pkg/servo"
	"github.com/tigerbot-team/wastesort/pkg/sorter"
)

const topic = "waste/raw"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload  string
		expected Command
		ok       bool
	}{
		{"start", Start, true},
		{"  START\n", Start, true},
		{"stop", Stop, true},
		{"insert again", InsertAgain, true},
		{"Insert Again", InsertAgain, true},
		{"insert_again", InsertAgain, true},
		{"home", Home, true},
		{"paper", NoCommand, false},
		{"restart", NoCommand, false},
		{"", NoCommand, false},
	}
	for _, tt := range tests {
		c, ok := ParseCommand(tt.payload)
		assert.Equal(t, tt.ok, ok, "ParseCommand(%q)", tt.payload)
		assert.Equal(t, tt.expected, c, "ParseCommand(%q)", tt.payload)
	}
}

type fakeSorter struct {
	lock   sync.Mutex
	labels []string
	homes  atomic.Int32
	// hold, when non-nil, blocks Home until closed.
	hold chan struct{}
}

func (f *fakeSorter) HandleClassification(label string) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.labels = append(f.labels, label)
	return true
}

func (f *fakeSorter) Home(ctx context.Context) error {
	f.homes.Add(1)
	if f.hold != nil {
		<-f.hold
	}
	return nil
}

func (f *fakeSorter) Labels() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.labels...)
}

type fakeCapture struct {
	triggers, cancels int
}

func (f *fakeCapture) Trigger() { f.triggers++ }
func (f *fakeCapture) Cancel()  { f.cancels++ }

func newTestRouter(debounce time.Duration) (*Router, *runstate.Machine, *fakeSorter, *fakeCapture) {
	rs := runstate.New(debounce)
	s := &fakeSorter{}
	c := &fakeCapture{}
	return New(rs, s, c, nil), rs, s, c
}

func TestStartTwiceStaysRunning(t *testing.T) {
	r, rs, _, c := newTestRouter(time.Second)
	defer rs.Close()

	r.Route(topic, "start")
	r.Route(topic, "start")
	assert.Equal(t, runstate.Running, rs.Snapshot().Kind)
	assert.Equal(t, 2, c.triggers)
}

func TestStopThenInsertAgainWithinDebounce(t *testing.T) {
	r, rs, _, c := newTestRouter(50 * time.Millisecond)
	defer rs.Close()

	r.Route(topic, "start")
	r.Route(topic, "stop")
	assert.Equal(t, runstate.StopPending, rs.Snapshot().Kind)
	assert.Equal(t, 1, c.cancels)
	r.Route(topic, "insert again")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, runstate.Running, rs.Snapshot().Kind)
	assert.Equal(t, 2, c.triggers)
}

func TestStopResolvesAfterDebounce(t *testing.T) {
	r, rs, _, _ := newTestRouter(20 * time.Millisecond)
	defer rs.Close()

	r.Route(topic, "start")
	r.Route(topic, "stop")
	assert.Eventually(t, func() bool { return rs.Snapshot().Kind == runstate.Stopped }, time.Second, time.Millisecond)
}

func TestInsertAgainIgnoredWhileStopped(t *testing.T) {
	r, rs, _, c := newTestRouter(time.Second)
	defer rs.Close()

	r.Route(topic, "insert again")
	assert.Equal(t, runstate.Stopped, rs.Snapshot().Kind)
	assert.Zero(t, c.triggers)
}

func TestStopWhileStoppedIsNoop(t *testing.T) {
	r, rs, _, c := newTestRouter(time.Second)
	defer rs.Close()

	r.Route(topic, "stop")
	assert.Equal(t, runstate.Stopped, rs.Snapshot().Kind)
	assert.Zero(t, c.cancels)
}

func TestLabelsGoToSorter(t *testing.T) {
	r, rs, s, _ := newTestRouter(time.Second)
	defer rs.Close()

	r.Route(topic, "plastic (0.91)")
	r.Route(topic, category.NoObjectLabel)
	r.Route(topic, "   ")
	r.Route(topic, "stop")
	assert.Equal(t, []string{"plastic (0.91)"}, s.Labels())
}

func TestHomeDoesNotBlock(t *testing.T) {
	r, rs, s, _ := newTestRouter(time.Second)
	defer rs.Close()

	r.Route(topic, "HOME")
	assert.Eventually(t, func() bool { return s.homes.Load() == 1 }, time.Second, time.Millisecond)
}

func TestHomeBurstCollapses(t *testing.T) {
	r, rs, s, _ := newTestRouter(time.Second)
	defer rs.Close()
	s.hold = make(chan struct{})

	for i := 0; i < 10; i++ {
		r.Route(topic, "home")
	}
	assert.Eventually(t, func() bool { return s.homes.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, s.homes.Load())

	close(s.hold)
	assert.Eventually(t, func() bool { return !r.homing.Load() }, time.Second, time.Millisecond)
	r.Route(topic, "home")
	assert.Eventually(t, func() bool { return s.homes.Load() == 2 }, time.Second, time.Millisecond)
}

func TestSubscribeSharedTopicOnce(t *testing.T) {
	r, rs, s, _ := newTestRouter(time.Second)
	defer rs.Close()
	b := bus.NewMemory()

	require.NoError(t, r.Subscribe(b, topic, topic))
	require.NoError(t, b.Publish(topic, "paper"))
	assert.Equal(t, []string{"paper"}, s.Labels())

	require.NoError(t, r.Subscribe(b, "waste/control", "waste/label"))
	require.NoError(t, b.Publish("waste/label", "kertas"))
	assert.Equal(t, []string{"paper", "kertas"}, s.Labels())
}

type recordingActuator struct {
	lock  sync.Mutex
	moves []string
}

func (a *recordingActuator) Move(ctx context.Context, axis servo.Axis, angle int) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.moves = append(a.moves, fmt.Sprintf("%s@%d", axis, angle))
	return nil
}

func (a *recordingActuator) Moves() []string {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]string(nil), a.moves...)
}

func TestEndToEndPaper(t *testing.T) {
	b := bus.NewMemory()
	rs := runstate.New(time.Second)
	defer rs.Close()
	act := &recordingActuator{}
	ctrl := sorter.New(sorter.Config{
		Angles: map[category.Category]int{
			category.Recycle: 20,
			category.Paper:   95,
			category.Organic: 150,
			category.Other:   95,
		},
		Neutral:       95,
		GateHome:      0,
		GateOpen:      90,
		RequireActive: true,
		StateTopic:    "waste/sorter/state",
		ResultTopic:   "waste/sorter/result",
	}, act, category.DefaultMap(), b, rs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ctrl.Run(ctx) }()

	r := New(rs, ctrl, nil, nil)
	require.NoError(t, r.Subscribe(b, topic, topic))

	require.NoError(t, b.Publish(topic, "start"))
	require.NoError(t, b.Publish(topic, "paper"))

	assert.Eventually(t, func() bool {
		return len(b.PublishedOn("waste/sorter/result")) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"sorter@95", "gate@90", "gate@0"}, act.Moves())
	states := b.PublishedOn("waste/sorter/state")
	assert.Equal(t, "idle", states[len(states)-1])
	assert.Equal(t, []string{"paper"}, b.PublishedOn("waste/sorter/result"))
}
