package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tigerbot-team/wastesort/pkg/bus"
	"github.com/tigerbot-team/wastesort/pkg/category"
	"github.com/tigerbot-team/wastesort/pkg/config"
	"github.com/tigerbot-team/wastesort/pkg/servo"
	"github.com/tigerbot-team/wastesort/pkg/sorter"
)

type CalibrateCommand struct{}

func (c *CalibrateCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hw, err := openHardware(cfg)
	if err != nil {
		return err
	}
	defer hw.Shutdown()

	// Cycles run against a private bus so calibration never reaches the
	// dashboard.
	sc := cfg.SorterConfig()
	sc.PoseFile = ""
	sc.RequireActive = false
	ctrl := sorter.New(sc, hw.Actuator(), cfg.Categories, bus.NewMemory(), nil, nil)

	fmt.Println(
		`Commands:
    s <angle>       # Move the sorter arm
    g <angle>       # Move the gate
    c <label>       # Run a full sort cycle for a label or category
    h               # Home: sorter to neutral, gate closed
    l               # List the configured angles
    q               # Quit

<angle>           Degrees 0-180`)

	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("\nFailed to read stdin: ", err)
			return nil
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "s", "g":
			if len(parts) < 2 {
				fmt.Println("Not enough parameters")
				continue
			}
			angle, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("Expected int, not ", parts[1])
				continue
			}
			if angle < servo.MinAngle || angle > servo.MaxAngle {
				fmt.Println("Expected 0 <= angle <= 180")
				continue
			}
			axis := servo.Sorter
			if parts[0] == "g" {
				axis = servo.Gate
			}
			fmt.Printf("Moving %s to %d\n", axis, angle)
			if err := hw.Actuator().Move(ctx, axis, angle); err != nil {
				fmt.Println("Failed to move servo: ", err)
			}
		case "c":
			if len(parts) < 2 {
				fmt.Println("Not enough parameters")
				continue
			}
			label := strings.Join(parts[1:], " ")
			cat := cfg.Categories.Category(label)
			fmt.Printf("Sorting %q as %s\n", label, cat)
			if err := ctrl.Cycle(ctx, cat); err != nil {
				fmt.Println("Cycle failed: ", err)
			}
		case "h":
			if err := ctrl.Home(ctx); err != nil {
				fmt.Println("Homing failed: ", err)
			}
		case "l":
			printAngles(cfg)
		case "q":
			return nil
		default:
			fmt.Println("Unknown command", parts[0])
		}
	}
}

func printAngles(cfg config.Config) {
	for _, cat := range config.SortedCategories(cfg.Sorter.Angles) {
		line := fmt.Sprintf("  %-8s sort=%3d", cat, cfg.Sorter.Angles[cat])
		if park, ok := cfg.Sorter.Park[cat]; ok {
			line += fmt.Sprintf(" park=%3d", park)
		}
		fmt.Println(line)
	}
	for _, cat := range cfg.Categories.Categories() {
		if _, ok := cfg.Sorter.Angles[cat]; !ok {
			fmt.Printf("  %-8s (no angle)\n", cat)
		}
	}
	fmt.Printf("  neutral=%d gate home=%d open=%d default=%s\n",
		cfg.Sorter.Neutral, cfg.Sorter.GateHome, cfg.Sorter.GateOpen, fallback(cfg.Categories))
}

func fallback(m category.Map) category.Category {
	if m.Default == "" {
		return category.Other
	}
	return m.Default
}
