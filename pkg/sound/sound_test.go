package sound

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestPlayer(files map[Cue]string) *Player {
	return &Player{files: files, soundsToPlay: make(chan string, 1)}
}

func TestPlayQueuesKnownCue(t *testing.T) {
	p := newTestPlayer(map[Cue]string{CueStart: "/sounds/start.wav"})
	p.Play(CueStart)
	assert.Equal(t, "/sounds/start.wav", <-p.soundsToPlay)
}

func TestPlayIgnoresUnknownCue(t *testing.T) {
	p := newTestPlayer(map[Cue]string{CueStart: "/sounds/start.wav"})
	p.Play(CueFault)
	assert.Empty(t, p.soundsToPlay)
}

func TestPlayDropsWhenBusy(t *testing.T) {
	p := newTestPlayer(map[Cue]string{CueStart: "a.wav", CueStop: "b.wav"})
	p.Play(CueStart)
	p.Play(CueStop)
	assert.Equal(t, "a.wav", <-p.soundsToPlay)
	assert.Empty(t, p.soundsToPlay)
}

func TestPlayAfterClose(t *testing.T) {
	p := newTestPlayer(map[Cue]string{CueStart: "a.wav"})
	p.Close()
	p.Close()
	assert.NotPanics(t, func() { p.Play(CueStart) })
}
