package lamp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio"
)

type fakePin struct {
	lock   sync.Mutex
	levels []gpio.Level
}

func (f *fakePin) Out(l gpio.Level) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.levels = append(f.levels, l)
	return nil
}

func (f *fakePin) last() gpio.Level {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.levels[len(f.levels)-1]
}

func TestStartsOff(t *testing.T) {
	p := &fakePin{}
	_, err := newLamp(p, true)
	require.NoError(t, err)
	assert.Equal(t, gpio.Low, p.last())

	p = &fakePin{}
	_, err = newLamp(p, false)
	require.NoError(t, err)
	assert.Equal(t, gpio.High, p.last(), "active-low relay idles high")
}

func TestFlash(t *testing.T) {
	p := &fakePin{}
	l, err := newLamp(p, true)
	require.NoError(t, err)

	l.Flash(10*time.Millisecond, 30*time.Millisecond)
	assert.False(t, l.Lit(), "lamp lit before the delay")
	assert.Eventually(t, l.Lit, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return !l.Lit() }, time.Second, time.Millisecond)
	assert.Equal(t, gpio.Low, p.last())
}

func TestOverlappingFlashesExtend(t *testing.T) {
	l, err := newLamp(&fakePin{}, true)
	require.NoError(t, err)

	l.Flash(0, 40*time.Millisecond)
	assert.Eventually(t, l.Lit, time.Second, time.Millisecond)
	l.Flash(20*time.Millisecond, 100*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.Lit(), "second flash should keep the lamp lit")
	assert.Eventually(t, func() bool { return !l.Lit() }, time.Second, time.Millisecond)
}

func TestCloseSwitchesOff(t *testing.T) {
	p := &fakePin{}
	l, err := newLamp(p, true)
	require.NoError(t, err)

	l.Flash(0, time.Hour)
	assert.Eventually(t, l.Lit, time.Second, time.Millisecond)
	require.NoError(t, l.Close())
	assert.False(t, l.Lit())
	assert.Equal(t, gpio.Low, p.last())

	l.Flash(0, time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, l.Lit())
}
