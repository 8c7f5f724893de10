package sound

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

type Cue string

const (
	CueStart  Cue = "start"
	CueStop   Cue = "stop"
	CueSorted Cue = "sorted"
	CueFault  Cue = "fault"
)

type Interface interface {
	// Play queues a cue without blocking.  Cues are dropped if the player is
	// busy or has no file for them.
	Play(c Cue)
}

type Player struct {
	files map[Cue]string

	lock         sync.Mutex
	closed       bool
	soundsToPlay chan string
}

var _ Interface = (*Player)(nil)

// New starts the playback goroutine.  files maps cues to wav paths.
func New(files map[Cue]string) *Player {
	return &Player{
		files:        files,
		soundsToPlay: InitSound(),
	}
}

func (p *Player) Play(c Cue) {
	path, ok := p.files[c]
	if !ok || path == "" {
		return
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return
	}
	select {
	case p.soundsToPlay <- path:
	default:
		slog.Debug("Sound player busy, dropping cue", slog.String("cue", string(c)))
	}
}

func (p *Player) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.closed {
		p.closed = true
		close(p.soundsToPlay)
	}
}

// InitSound opens the speaker and plays each wav path sent on the returned
// channel, interrupting whatever is already playing.
func InitSound() chan string {
	soundsToPlay := make(chan string, 4)
	go func() {
		defer func() {
			recover()
			for s := range soundsToPlay {
				slog.Warn("Unable to play", slog.String("sound", s))
			}
		}()
		sampleRate := beep.SampleRate(44100)
		err := speaker.Init(sampleRate, sampleRate.N(time.Second/5))
		if err != nil {
			slog.Warn("Failed to open speaker", slog.Any("err", err))
			for s := range soundsToPlay {
				slog.Debug("Unable to play", slog.String("sound", s))
			}
			return
		}
		var ctrl *beep.Ctrl
		var s beep.StreamSeekCloser
		for soundToPlay := range soundsToPlay {
			if ctrl != nil {
				speaker.Lock()
				ctrl.Paused = true
				ctrl.Streamer = nil
				speaker.Unlock()
				ctrl = nil
			}
			if s != nil {
				s.Close()
				s = nil
			}

			f, err := os.Open(soundToPlay)
			if err != nil {
				slog.Warn("Failed to open sound", slog.Any("err", err))
				continue
			}
			s, _, err = wav.Decode(f)
			if err != nil {
				slog.Warn("Failed to decode sound", slog.Any("err", err))
				f.Close()
				continue
			}
			ctrl = &beep.Ctrl{Streamer: s}
			speaker.Play(ctrl)
		}
	}()
	return soundsToPlay
}

// Nop discards every cue.
type Nop struct{}

func (Nop) Play(Cue) {}
