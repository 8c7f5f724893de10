package main

import (
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/tigerbot-team/wastesort/pkg/config"
	"github.com/tigerbot-team/wastesort/pkg/hardware"
	"github.com/tigerbot-team/wastesort/pkg/logging"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"/cfg/wastesort.yaml" description:"Path of the yaml config file"`
	Dummy    bool   `long:"dummy" description:"Use simulated hardware"`
	LogLevel string `long:"log-level" description:"Override the configured log level (debug, info, warn, error)"`

	Run       RunCommand       `command:"run" description:"Run the sorter: listen for commands, poll bins, capture and sort"`
	Calibrate CalibrateCommand `command:"calibrate" alias:"cal" description:"Interactively move the servos to find sort angles"`
	Sensors   SensorsCommand   `command:"sensors" description:"Print bin sensor distances and fill levels"`
	Classify  ClassifyCommand  `command:"classify" description:"Classify an image file or one camera frame"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "wastesort - camera guided waste sorting controller"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the global flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, err
	}
	if opts.Dummy {
		cfg.Dummy = true
	}
	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logging.Configure(level)
	return cfg, nil
}

func openHardware(cfg config.Config) (hardware.Interface, error) {
	if cfg.Dummy {
		return hardware.NewDummy(cfg), nil
	}
	return hardware.New(cfg)
}
