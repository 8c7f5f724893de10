package vision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/tigerbot-team/wastesort/pkg/bus"
	"github.com/tigerbot-team/wastesort/pkg/category"
	"github.com/tigerbot-team/wastesort/pkg/lamp"
	"github.com/tigerbot-team/wastesort/pkg/runstate"
	"github.com/tigerbot-team/wastesort/pkg/screen"
)

const (
	DefaultWarmUp          = 5 * time.Second
	DefaultClassifyTimeout = 30 * time.Second
)

type Config struct {
	Topic             string
	PublishConfidence bool

	LampDelay time.Duration
	LampOn    time.Duration
	// WarmUp is how long to wait after a trigger for the item to settle
	// before capturing.
	WarmUp time.Duration
	// ClassifyTimeout bounds each classification; zero means the default.
	ClassifyTimeout time.Duration

	// ImagesDir receives the annotated captures; empty disables saving.
	ImagesDir string
}

// Loop runs one capture per trigger.  Triggers that arrive while a capture
// is in progress collapse into one.
type Loop struct {
	cfg    Config
	camera Camera
	cls    Classifier
	lamp   lamp.Interface
	bus    bus.Interface
	run    *runstate.Machine

	trigger chan struct{}
	now     func() time.Time
}

func NewLoop(cfg Config, cam Camera, cls Classifier, l lamp.Interface, b bus.Interface, run *runstate.Machine) *Loop {
	if cfg.WarmUp < 0 {
		cfg.WarmUp = 0
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = DefaultClassifyTimeout
	}
	if l == nil {
		l = lamp.Dummy{}
	}
	return &Loop{
		cfg:     cfg,
		camera:  cam,
		cls:     cls,
		lamp:    l,
		bus:     b,
		run:     run,
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Trigger arms a capture.
func (v *Loop) Trigger() {
	select {
	case v.trigger <- struct{}{}:
	default:
	}
}

// Cancel disarms a capture that has not started yet.
func (v *Loop) Cancel() {
	select {
	case <-v.trigger:
		slog.Info("Pending capture cancelled")
	default:
	}
}

func (v *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.trigger:
		}
		if v.run != nil && !v.run.Snapshot().Active() {
			slog.Info("Ignoring capture trigger while stopped")
			continue
		}
		if _, _, err := v.CaptureOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("Capture failed", slog.Any("err", err))
		}
	}
}

// CaptureOnce lights the lamp, waits for the item to settle, classifies one
// frame and publishes the result.
func (v *Loop) CaptureOnce(ctx context.Context) (Detection, bool, error) {
	v.lamp.Flash(v.cfg.LampDelay, v.cfg.LampOn)
	if v.cfg.WarmUp > 0 {
		t := time.NewTimer(v.cfg.WarmUp)
		select {
		case <-ctx.Done():
			t.Stop()
			return Detection{}, false, ctx.Err()
		case <-t.C:
		}
	}

	frame, err := v.camera.Capture(ctx)
	if err != nil {
		return Detection{}, false, fmt.Errorf("capture: %w", err)
	}
	defer frame.Close()

	clsCtx, cancel := context.WithTimeout(ctx, v.cfg.ClassifyTimeout)
	det, ok, err := v.cls.BestLabel(clsCtx, frame)
	cancel()
	if err != nil {
		return Detection{}, false, fmt.Errorf("classify: %w", err)
	}

	payload := category.NoObjectLabel
	if ok {
		payload = det.Payload(v.cfg.PublishConfidence)
		frame.Annotate(det.String())
		slog.Info("Classified", slog.String("label", det.Label), slog.Float64("confidence", det.Confidence))
	} else {
		frame.Annotate(category.NoObjectLabel)
		slog.Info("No object detected")
	}
	screen.SetLastLabel(payload)
	v.save(frame)

	if err := v.bus.Publish(v.cfg.Topic, payload); err != nil {
		return det, ok, fmt.Errorf("publish: %w", err)
	}
	return det, ok, nil
}

func (v *Loop) save(frame Frame) {
	if v.cfg.ImagesDir == "" {
		return
	}
	path := filepath.Join(v.cfg.ImagesDir, fmt.Sprintf("classified_%d.jpg", v.now().Unix()))
	if err := frame.Save(path); err != nil {
		slog.Warn("Failed to save capture", slog.String("path", path), slog.Any("err", err))
		return
	}
	slog.Debug("Saved capture", slog.String("path", path))
}
