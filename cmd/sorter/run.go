package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tigerbot-team/wastesort/pkg/binlevel"
	"github.com/tigerbot-team/wastesort/pkg/bus"
	"github.com/tigerbot-team/wastesort/pkg/camera"
	"github.com/tigerbot-team/wastesort/pkg/cameracontrol"
	"github.com/tigerbot-team/wastesort/pkg/config"
	"github.com/tigerbot-team/wastesort/pkg/router"
	"github.com/tigerbot-team/wastesort/pkg/runstate"
	"github.com/tigerbot-team/wastesort/pkg/screen"
	"github.com/tigerbot-team/wastesort/pkg/sorter"
	"github.com/tigerbot-team/wastesort/pkg/vision"
)

type RunCommand struct{}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hw, err := openHardware(cfg)
	if err != nil {
		return err
	}
	defer hw.Shutdown()
	hw.Start(ctx)

	b, err := bus.NewMQTT(cfg.MQTT)
	if err != nil {
		return err
	}
	defer b.Close()

	rs := runstate.New(cfg.RunState.StopDebounce)
	defer rs.Close()
	rs.OnChange(func(t runstate.Transition) {
		slog.Info("Run state changed", slog.String("from", t.From.String()), slog.String("to", t.To.String()))
		screen.SetRunState(t.To.Kind.String())
	})

	ctrl := sorter.New(cfg.SorterConfig(), hw.Actuator(), cfg.Categories, b, rs, hw.Sound())
	if err := ctrl.Init(ctx); err != nil {
		slog.Error("Failed to home sorter", slog.Any("err", err))
	}
	mon := binlevel.New(cfg.BinLevelConfig(), hw.BinSensors(), b, rs)

	var capture router.Capture
	var loop *vision.Loop
	if cfg.Vision.Enabled && !cfg.Dummy {
		cam, cls, err := openVision(cfg)
		if err != nil {
			return err
		}
		defer cam.Close()
		defer cls.Close()
		loop = vision.NewLoop(cfg.VisionConfig(), cam, cls, hw.Lamp(), b, rs)
		capture = loop
	} else {
		slog.Info("Vision disabled; expecting labels from the bus", slog.String("topic", cfg.Topics.Classification))
	}

	r := router.New(rs, ctrl, capture, hw.Sound())
	if err := r.Subscribe(b, cfg.Topics.Control, cfg.Topics.Classification); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var wg sync.WaitGroup
	runLoop := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Loop failed", slog.String("loop", name), slog.Any("err", err))
			}
		}()
	}
	runLoop("sorter", ctrl.Run)
	runLoop("bins", mon.Run)
	if loop != nil {
		runLoop("vision", loop.Run)
	}

	slog.Info("Waiting for start command", slog.String("topic", cfg.Topics.Control))
	<-ctx.Done()
	slog.Info("Shutting down")
	wg.Wait()
	return nil
}

// openVision opens the camera and the configured classifier.
func openVision(cfg config.Config) (vision.Camera, vision.Classifier, error) {
	if cfg.Vision.ImagesDir != "" {
		if err := os.MkdirAll(cfg.Vision.ImagesDir, 0755); err != nil {
			return nil, nil, err
		}
	}
	cls, err := openClassifier(cfg)
	if err != nil {
		return nil, nil, err
	}
	cam, err := camera.OpenWebcam(cfg.Vision.Camera)
	if err != nil {
		_ = cls.Close()
		return nil, nil, err
	}
	return cam, cls, nil
}

func openClassifier(cfg config.Config) (vision.Classifier, error) {
	switch cfg.Vision.Classifier {
	case config.ClassifierONNX:
		return camera.NewNetClassifier(camera.NetConfig{
			Model:         cfg.Vision.Model,
			Labels:        cfg.Vision.Labels,
			InputSize:     cfg.Vision.InputSize,
			Softmax:       cfg.Vision.Softmax,
			MinConfidence: cfg.Vision.MinConfidence,
		})
	default:
		cc := cameracontrol.New(cfg.Vision.Helper, cfg.Vision.MinConfidence)
		if err := cc.Start(); err != nil {
			return nil, err
		}
		return cc, nil
	}
}
