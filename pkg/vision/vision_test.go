package vision

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/wastesort/pkg/bus"
	"github.com/tigerbot-team/wastesort/pkg/category"
	"github.com/tigerbot-team/wastesort/pkg/runstate"
)

func TestBest(t *testing.T) {
	ds := []Detection{
		{"paper", 0.4},
		{"plastic", 0.91},
		{"", 0.99},
		{"organic", 0.2},
	}
	d, ok := Best(ds, 0.25)
	assert.True(t, ok)
	assert.Equal(t, Detection{"plastic", 0.91}, d)

	_, ok = Best(ds, 0.95)
	assert.False(t, ok)
	_, ok = Best(nil, 0)
	assert.False(t, ok)
}

func TestTop1(t *testing.T) {
	idx, conf := Top1([]float32{0.1, 0.7, 0.2}, false)
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 0.7, conf, 1e-6)

	idx, conf = Top1([]float32{0, 0, 0, 0}, true)
	assert.Equal(t, 0, idx)
	assert.InDelta(t, 0.25, conf, 1e-9)

	idx, conf = Top1([]float32{1, 5, 2}, true)
	assert.Equal(t, 1, idx)
	assert.Greater(t, conf, 0.9)

	idx, _ = Top1(nil, true)
	assert.Equal(t, -1, idx)
}

func TestPayload(t *testing.T) {
	d := Detection{"plastic", 0.912}
	assert.Equal(t, "plastic", d.Payload(false))
	assert.Equal(t, "plastic (0.91)", d.Payload(true))
	assert.Equal(t, category.Recycle, category.DefaultMap().Category(d.Payload(true)))
}

type fakeFrame struct {
	lock      sync.Mutex
	annotated []string
	saved     []string
	closed    bool
}

func (f *fakeFrame) Annotate(text string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.annotated = append(f.annotated, text)
}

func (f *fakeFrame) Save(path string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.saved = append(f.saved, path)
	return nil
}

func (f *fakeFrame) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.closed = true
	return nil
}

type fakeCamera struct {
	frame    *fakeFrame
	err      error
	captures atomic.Int32
}

func (c *fakeCamera) Capture(ctx context.Context) (Frame, error) {
	c.captures.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.frame, nil
}

func (c *fakeCamera) Close() error {
	return nil
}

type fakeClassifier struct {
	det Detection
	ok  bool
	err error
}

func (c fakeClassifier) BestLabel(ctx context.Context, f Frame) (Detection, bool, error) {
	return c.det, c.ok, c.err
}

func (c fakeClassifier) Close() error {
	return nil
}

type fakeLamp struct {
	flashes atomic.Int32
}

func (l *fakeLamp) Flash(delay, on time.Duration) {
	l.flashes.Add(1)
}

func (l *fakeLamp) Close() error {
	return nil
}

func TestCaptureOncePublishesLabel(t *testing.T) {
	b := bus.NewMemory()
	frame := &fakeFrame{}
	l := &fakeLamp{}
	v := NewLoop(Config{Topic: "waste/raw", ImagesDir: "/tmp/captures"},
		&fakeCamera{frame: frame}, fakeClassifier{det: Detection{"kertas", 0.8}, ok: true}, l, b, nil)
	v.now = func() time.Time { return time.Unix(1700000000, 0) }

	d, ok, err := v.CaptureOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "kertas", d.Label)
	assert.Equal(t, []string{"kertas"}, b.PublishedOn("waste/raw"))
	assert.Equal(t, []string{"kertas (0.80)"}, frame.annotated)
	assert.Equal(t, []string{"/tmp/captures/classified_1700000000.jpg"}, frame.saved)
	assert.True(t, frame.closed)
	assert.Equal(t, int32(1), l.flashes.Load())
}

func TestCaptureOnceNoObject(t *testing.T) {
	b := bus.NewMemory()
	frame := &fakeFrame{}
	v := NewLoop(Config{Topic: "waste/raw"}, &fakeCamera{frame: frame}, fakeClassifier{}, &fakeLamp{}, b, nil)

	_, ok, err := v.CaptureOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{category.NoObjectLabel}, b.PublishedOn("waste/raw"))
	assert.Empty(t, frame.saved, "saving is disabled without an images dir")
}

func TestCaptureOnceErrors(t *testing.T) {
	b := bus.NewMemory()
	v := NewLoop(Config{Topic: "waste/raw"}, &fakeCamera{err: errors.New("no camera")}, fakeClassifier{}, &fakeLamp{}, b, nil)
	_, _, err := v.CaptureOnce(context.Background())
	assert.Error(t, err)

	frame := &fakeFrame{}
	v = NewLoop(Config{Topic: "waste/raw"}, &fakeCamera{frame: frame}, fakeClassifier{err: errors.New("model crashed")}, &fakeLamp{}, b, nil)
	_, _, err = v.CaptureOnce(context.Background())
	assert.Error(t, err)
	assert.True(t, frame.closed)
	assert.Empty(t, b.Published())
}

func TestWarmUpHonoursContext(t *testing.T) {
	cam := &fakeCamera{frame: &fakeFrame{}}
	v := NewLoop(Config{WarmUp: time.Hour}, cam, fakeClassifier{}, &fakeLamp{}, bus.NewMemory(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := v.CaptureOnce(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, cam.captures.Load())
}

type hungClassifier struct{}

func (hungClassifier) BestLabel(ctx context.Context, f Frame) (Detection, bool, error) {
	<-ctx.Done()
	return Detection{}, false, ctx.Err()
}

func (hungClassifier) Close() error {
	return nil
}

func TestClassifyTimesOut(t *testing.T) {
	b := bus.NewMemory()
	frame := &fakeFrame{}
	v := NewLoop(Config{Topic: "waste/raw", ClassifyTimeout: 20 * time.Millisecond},
		&fakeCamera{frame: frame}, hungClassifier{}, &fakeLamp{}, b, nil)

	start := time.Now()
	_, _, err := v.CaptureOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, frame.closed)
	assert.Empty(t, b.Published())
}

func TestRunCapturesOnlyWhileActive(t *testing.T) {
	rs := runstate.New(time.Second)
	defer rs.Close()
	b := bus.NewMemory()
	cam := &fakeCamera{frame: &fakeFrame{}}
	v := NewLoop(Config{Topic: "waste/raw"}, cam, fakeClassifier{det: Detection{"paper", 1}, ok: true}, &fakeLamp{}, b, rs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = v.Run(ctx) }()

	v.Trigger()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, cam.captures.Load())

	rs.Start()
	v.Trigger()
	assert.Eventually(t, func() bool { return len(b.PublishedOn("waste/raw")) == 1 }, time.Second, time.Millisecond)
}

func TestCancelDisarmsTrigger(t *testing.T) {
	v := NewLoop(Config{}, &fakeCamera{}, fakeClassifier{}, &fakeLamp{}, bus.NewMemory(), nil)
	v.Trigger()
	v.Trigger()
	v.Cancel()
	assert.Empty(t, v.trigger)
}
