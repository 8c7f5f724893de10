// Package router demultiplexes bus payloads into operator commands and
// classification results.  Commands and labels may share a topic, so the
// payload vocabulary decides, never the topic.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/tigerbot-team/wastesort/pkg/bus"
	"github.com/tigerbot-team/wastesort/pkg/category"
	"github.com/tigerbot-team/wastesort/pkg/runstate"
	"github.com/tigerbot-team/wastesort/pkg/screen"
	"github.com/tigerbot-team/wastesort/pkg/sound"
)

type Command int

const (
	NoCommand Command = iota
	Start
	Stop
	InsertAgain
	Home
)

func (c Command) String() string {
	switch c {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case InsertAgain:
		return "insert again"
	case Home:
		return "home"
	}
	return "none"
}

var commands = map[string]Command{
	"start":        Start,
	"stop":         Stop,
	"insert again": InsertAgain,
	"insert_again": InsertAgain,
	"insertagain":  InsertAgain,
	"home":         Home,
}

// ParseCommand recognises a command payload, ignoring case and surrounding
// whitespace.
func ParseCommand(payload string) (Command, bool) {
	c, ok := commands[strings.ToLower(strings.TrimSpace(payload))]
	return c, ok
}

// Sorter is the part of the sort controller the router drives.
type Sorter interface {
	HandleClassification(label string) bool
	Home(ctx context.Context) error
}

// Capture arms and disarms the vision loop.
type Capture interface {
	Trigger()
	Cancel()
}

type Router struct {
	run     *runstate.Machine
	sorter  Sorter
	capture Capture
	sound   sound.Interface

	homing atomic.Bool
}

// New creates a router.  capture and snd may be nil.
func New(run *runstate.Machine, sorter Sorter, capture Capture, snd sound.Interface) *Router {
	if snd == nil {
		snd = sound.Nop{}
	}
	return &Router{
		run:     run,
		sorter:  sorter,
		capture: capture,
		sound:   snd,
	}
}

// Subscribe routes everything arriving on the control and classification
// topics.  A shared topic is only subscribed once.
func (r *Router) Subscribe(b bus.Interface, controlTopic, classificationTopic string) error {
	if err := b.Subscribe(controlTopic, r.Route); err != nil {
		return err
	}
	if classificationTopic != "" && classificationTopic != controlTopic {
		if err := b.Subscribe(classificationTopic, r.Route); err != nil {
			return err
		}
	}
	return nil
}

// Route handles one payload.  It never blocks on motion.
func (r *Router) Route(topic, payload string) {
	log := slog.With(slog.String("topic", topic))
	if strings.TrimSpace(payload) == "" {
		log.Debug("Ignoring empty payload")
		return
	}
	if cmd, ok := ParseCommand(payload); ok {
		log.Info("Command received", slog.String("command", cmd.String()))
		r.apply(cmd)
		return
	}
	if category.Absent(payload) {
		log.Info("No object detected")
		return
	}
	screen.SetLastLabel(category.Normalize(payload))
	r.sorter.HandleClassification(payload)
}

func (r *Router) apply(cmd Command) {
	switch cmd {
	case Start:
		t := r.run.Start()
		if t.Changed() {
			slog.Info("Running", slog.String("from", t.From.String()))
		}
		r.sound.Play(sound.CueStart)
		r.trigger()
	case InsertAgain:
		if _, ok := r.run.InsertAgain(); !ok {
			slog.Warn("Ignoring insert again while stopped")
			return
		}
		r.trigger()
	case Stop:
		t := r.run.Stop()
		if !t.Changed() {
			slog.Debug("Stop ignored", slog.String("state", t.From.String()))
			return
		}
		slog.Info("Stop pending", slog.Time("deadline", t.To.Deadline))
		r.sound.Play(sound.CueStop)
		if r.capture != nil {
			r.capture.Cancel()
		}
	case Home:
		if !r.homing.CompareAndSwap(false, true) {
			slog.Debug("Homing already in progress")
			return
		}
		go func() {
			defer r.homing.Store(false)
			if err := r.sorter.Home(context.Background()); err != nil {
				slog.Error("Homing failed", slog.Any("err", err))
			}
		}()
	}
}

func (r *Router) trigger() {
	if r.capture != nil {
		r.capture.Trigger()
	}
}
