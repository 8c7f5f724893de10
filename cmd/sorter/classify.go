package main

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerbot-team/wastesort/pkg/camera"
	"github.com/tigerbot-team/wastesort/pkg/vision"
)

type ClassifyCommand struct {
	Save    string        `short:"s" long:"save" description:"Write the annotated image here"`
	Timeout time.Duration `long:"timeout" description:"Give up after this long" default:"30s"`
	Args    struct {
		Image string `positional-arg-name:"image" description:"Image file; omit to capture from the camera"`
	} `positional-args:"yes"`
}

func (c *ClassifyCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	cls, err := openClassifier(cfg)
	if err != nil {
		return err
	}
	defer cls.Close()

	var frame vision.Frame
	if c.Args.Image != "" {
		frame, err = camera.LoadFrame(c.Args.Image)
	} else {
		var cam *camera.Webcam
		cam, err = camera.OpenWebcam(cfg.Vision.Camera)
		if err != nil {
			return err
		}
		defer cam.Close()
		frame, err = cam.Capture(ctx)
	}
	if err != nil {
		return err
	}
	defer frame.Close()

	start := time.Now()
	det, ok, err := cls.BestLabel(ctx, frame)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No object detected")
		return nil
	}
	fmt.Printf("%v -> %s (took %v)\n", det, cfg.Categories.Category(det.Label), time.Since(start))
	if c.Save != "" {
		frame.Annotate(det.String())
		if err := frame.Save(c.Save); err != nil {
			return fmt.Errorf("save %s: %w", c.Save, err)
		}
	}
	return nil
}
