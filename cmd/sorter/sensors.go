package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/tigerbot-team/wastesort/pkg/binlevel"
)

type SensorsCommand struct {
	Count    int           `short:"n" long:"count" description:"Number of polls, 0 for no limit" default:"0"`
	Interval time.Duration `short:"i" long:"interval" description:"Time between polls" default:"1s"`
}

func (c *SensorsCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hw, err := openHardware(cfg)
	if err != nil {
		return err
	}
	defer hw.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for i := 0; c.Count == 0 || i < c.Count; i++ {
		for _, s := range hw.BinSensors() {
			readCtx, cancel := context.WithTimeout(ctx, cfg.Bins.ReadTimeout)
			d, err := s.Device.Measure(readCtx)
			cancel()
			if err != nil {
				fmt.Printf("%-6s %-16s error: %v\n", s.Name, s.Topic, err)
				continue
			}
			fmt.Printf("%-6s %-16s %6.1fcm %3d%%\n", s.Name, s.Topic, d, binlevel.FillPercent(d, s.Near(), s.Far()))
		}
		fmt.Println()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
