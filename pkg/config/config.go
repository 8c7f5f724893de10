// Package config loads the sorter's yaml configuration.  Defaults are filled
// in first, the file overlays them, and the effective configuration is
// written back out next to it for reference.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"

	"github.com/tigerbot-team/wastesort/pkg/binlevel"
	"github.com/tigerbot-team/wastesort/pkg/bus"
	"github.com/tigerbot-team/wastesort/pkg/category"
	"github.com/tigerbot-team/wastesort/pkg/runstate"
	"github.com/tigerbot-team/wastesort/pkg/servo"
	"github.com/tigerbot-team/wastesort/pkg/sorter"
	"github.com/tigerbot-team/wastesort/pkg/ultrasonic"
	"github.com/tigerbot-team/wastesort/pkg/vision"
)

const DefaultPath = "/cfg/wastesort.yaml"

const (
	ServoDriverGPIO    = "gpio"
	ServoDriverPCA9685 = "pca9685"

	ClassifierONNX   = "onnx"
	ClassifierHelper = "helper"
)

type Config struct {
	LogLevel string `yaml:"log_level"`
	// Dummy replaces every device with a simulated one.
	Dummy bool `yaml:"dummy"`

	MQTT       bus.MQTTConfig `yaml:"mqtt"`
	Topics     Topics         `yaml:"topics"`
	RunState   RunState       `yaml:"run_state"`
	Categories category.Map   `yaml:"categories"`
	Servo      Servo          `yaml:"servo"`
	Sorter     Sorter         `yaml:"sorter"`
	Bins       Bins           `yaml:"bins"`
	Vision     Vision         `yaml:"vision"`
	Lamp       Lamp           `yaml:"lamp"`
	Sound      Sound          `yaml:"sound"`
	Screen     Screen         `yaml:"screen"`
}

type Topics struct {
	Control        string `yaml:"control"`
	Classification string `yaml:"classification"`
	SorterState    string `yaml:"sorter_state"`
	SortedResult   string `yaml:"sorted_result"`
}

type RunState struct {
	StopDebounce time.Duration `yaml:"stop_debounce"`
}

type Servo struct {
	// Driver is "gpio" or "pca9685".
	Driver  string           `yaml:"driver"`
	I2CBus  string           `yaml:"i2c_bus"`
	I2CAddr uint16           `yaml:"i2c_addr"`
	Sorter  servo.AxisConfig `yaml:"sorter"`
	Gate    servo.AxisConfig `yaml:"gate"`
}

func (s Servo) Axes() map[servo.Axis]servo.AxisConfig {
	return map[servo.Axis]servo.AxisConfig{
		servo.Sorter: s.Sorter,
		servo.Gate:   s.Gate,
	}
}

type Sorter struct {
	Angles        map[category.Category]int `yaml:"angles"`
	Park          map[category.Category]int `yaml:"park"`
	Neutral       int                       `yaml:"neutral"`
	GateHome      int                       `yaml:"gate_home"`
	GateOpen      int                       `yaml:"gate_open"`
	Settle        time.Duration             `yaml:"settle"`
	Dwell         time.Duration             `yaml:"dwell"`
	Retries       int                       `yaml:"retries"`
	RetryBackoff  time.Duration             `yaml:"retry_backoff"`
	Policy        sorter.Policy             `yaml:"policy"`
	RequireActive bool                      `yaml:"require_active"`
	PoseFile      string                    `yaml:"pose_file"`
}

type Sensor struct {
	Name   string  `yaml:"name"`
	Topic  string  `yaml:"topic"`
	Trig   string  `yaml:"trig"`
	Echo   string  `yaml:"echo"`
	Gap    float64 `yaml:"gap"`
	Height float64 `yaml:"height"`
}

type Bins struct {
	Interval    time.Duration   `yaml:"interval"`
	ReadTimeout time.Duration   `yaml:"read_timeout"`
	Format      binlevel.Format `yaml:"format"`
	Sensors     []Sensor        `yaml:"sensors"`
}

type Vision struct {
	Enabled bool `yaml:"enabled"`
	Camera  int  `yaml:"camera"`
	// Classifier is "onnx" for an in-process classification network or
	// "helper" for the external detection helper.
	Classifier        string        `yaml:"classifier"`
	Model             string        `yaml:"model"`
	Labels            []string      `yaml:"labels"`
	InputSize         int           `yaml:"input_size"`
	Softmax           bool          `yaml:"softmax"`
	Helper            []string      `yaml:"helper"`
	MinConfidence     float64       `yaml:"min_confidence"`
	WarmUp            time.Duration `yaml:"warm_up"`
	ClassifyTimeout   time.Duration `yaml:"classify_timeout"`
	ImagesDir         string        `yaml:"images_dir"`
	PublishConfidence bool          `yaml:"publish_confidence"`
}

type Lamp struct {
	Enabled    bool          `yaml:"enabled"`
	Pin        string        `yaml:"pin"`
	ActiveHigh bool          `yaml:"active_high"`
	Delay      time.Duration `yaml:"delay"`
	On         time.Duration `yaml:"on"`
}

type Sound struct {
	Start  string `yaml:"start"`
	Stop   string `yaml:"stop"`
	Sorted string `yaml:"sorted"`
	Fault  string `yaml:"fault"`
}

type Screen struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		MQTT:     bus.DefaultMQTTConfig(),
		Topics: Topics{
			Control:        "waste/raw",
			Classification: "waste/raw",
			SorterState:    "waste/sorter/state",
			SortedResult:   "waste/sorter/result",
		},
		RunState:   RunState{StopDebounce: runstate.DefaultStopDebounce},
		Categories: category.DefaultMap(),
		Servo: Servo{
			Driver:  ServoDriverGPIO,
			I2CAddr: 0x40,
			Sorter:  servo.AxisConfig{Channel: 0, Pin: "GPIO12", MinPulse: servo.DefaultMinPulse, MaxPulse: servo.DefaultMaxPulse},
			Gate:    servo.AxisConfig{Channel: 1, Pin: "GPIO17", MinPulse: servo.DefaultMinPulse, MaxPulse: servo.DefaultMaxPulse},
		},
		Sorter: Sorter{
			Angles: map[category.Category]int{
				category.Recycle: 20,
				category.Paper:   95,
				category.Organic: 150,
				category.Other:   95,
			},
			// Park the outer bins part way back so repeats travel less.
			Park: map[category.Category]int{
				category.Recycle: 40,
				category.Organic: 130,
			},
			Neutral:      95,
			GateHome:     0,
			GateOpen:     90,
			Settle:       sorter.DefaultSettle,
			Dwell:        sorter.DefaultDwell,
			Retries:      sorter.DefaultRetries,
			RetryBackoff: sorter.DefaultRetryBackoff,
			Policy:       sorter.PolicyQueue,
			// Labels only follow a capture, which itself needs a Start.
			RequireActive: true,
		},
		Bins: Bins{
			Interval:    binlevel.DefaultInterval,
			ReadTimeout: ultrasonic.DefaultTimeout,
			Format:      binlevel.FormatBare,
			Sensors: []Sensor{
				{Name: "bin2", Topic: "waste/sensor2", Trig: "GPIO5", Echo: "GPIO6", Gap: 10, Height: 40},
				{Name: "bin9", Topic: "waste/sensor9", Trig: "GPIO13", Echo: "GPIO19", Gap: 10, Height: 40},
				{Name: "bin8", Topic: "waste/sensor8", Trig: "GPIO26", Echo: "GPIO16", Gap: 10, Height: 40},
				{Name: "bin7", Topic: "waste/sensor7", Trig: "GPIO20", Echo: "GPIO21", Gap: 10, Height: 40},
			},
		},
		Vision: Vision{
			Enabled:         true,
			Classifier:      ClassifierHelper,
			Helper:          []string{"python3", "detect.py"},
			InputSize:       224,
			MinConfidence:   0.25,
			WarmUp:          vision.DefaultWarmUp,
			ClassifyTimeout: vision.DefaultClassifyTimeout,
			ImagesDir:       "captures",
		},
		Lamp: Lamp{
			Enabled:    true,
			Pin:        "GPIO23",
			ActiveHigh: true,
			Delay:      2 * time.Second,
			On:         4 * time.Second,
		},
		Screen: Screen{
			Device: "/dev/fb1",
		},
	}
}

// Load reads path over the defaults.  A missing file is not an error.  The
// effective config is written alongside as <name>-in-use.yaml.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("No config file, using defaults", slog.String("path", path))
	case err != nil:
		return cfg, err
	default:
		// Angle tables in the file are merged over the default entries.
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.WriteInUse(InUsePath(path)); err != nil {
		slog.Warn("Failed to write in-use config", slog.Any("err", err))
	}
	return cfg, nil
}

// InUsePath maps /cfg/wastesort.yaml to /cfg/wastesort-in-use.yaml.
func InUsePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-in-use" + ext
}

func (c Config) WriteInUse(path string) error {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0666)
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Categories.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, cat := range SortedCategories(c.Sorter.Angles) {
		if a := c.Sorter.Angles[cat]; a < servo.MinAngle || a > servo.MaxAngle {
			errs = append(errs, fmt.Errorf("sorter angle for %s out of range: %d", cat, a))
		}
	}
	for _, cat := range SortedCategories(c.Sorter.Park) {
		if a := c.Sorter.Park[cat]; a < servo.MinAngle || a > servo.MaxAngle {
			errs = append(errs, fmt.Errorf("park angle for %s out of range: %d", cat, a))
		}
	}
	for name, a := range map[string]int{"neutral": c.Sorter.Neutral, "gate_home": c.Sorter.GateHome, "gate_open": c.Sorter.GateOpen} {
		if a < servo.MinAngle || a > servo.MaxAngle {
			errs = append(errs, fmt.Errorf("%s angle out of range: %d", name, a))
		}
	}
	fallback := c.Categories.Default
	if fallback == "" {
		fallback = category.Other
	}
	if _, ok := c.Sorter.Angles[fallback]; !ok {
		errs = append(errs, fmt.Errorf("default category %s has no sorter angle", fallback))
	}
	if c.Sorter.Retries < 0 {
		errs = append(errs, fmt.Errorf("negative retry count %d", c.Sorter.Retries))
	}
	switch c.Sorter.Policy {
	case sorter.PolicyQueue, sorter.PolicyDrop:
	default:
		errs = append(errs, fmt.Errorf("unknown sorter policy %q", c.Sorter.Policy))
	}
	switch c.Servo.Driver {
	case ServoDriverGPIO, ServoDriverPCA9685:
	default:
		errs = append(errs, fmt.Errorf("unknown servo driver %q", c.Servo.Driver))
	}
	switch c.Bins.Format {
	case binlevel.FormatBare, binlevel.FormatPercent:
	default:
		errs = append(errs, fmt.Errorf("unknown bin level format %q", c.Bins.Format))
	}
	for _, s := range c.Bins.Sensors {
		if s.Height <= 0 || s.Gap < 0 {
			errs = append(errs, fmt.Errorf("sensor %s: bad geometry gap=%v height=%v", s.Name, s.Gap, s.Height))
		}
		if s.Topic == "" {
			errs = append(errs, fmt.Errorf("sensor %s has no topic", s.Name))
		}
	}
	if c.Vision.Enabled {
		switch c.Vision.Classifier {
		case ClassifierHelper:
			if len(c.Vision.Helper) == 0 {
				errs = append(errs, errors.New("helper classifier needs a helper command"))
			}
		case ClassifierONNX:
			if c.Vision.Model == "" || len(c.Vision.Labels) == 0 {
				errs = append(errs, errors.New("onnx classifier needs a model and labels"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown classifier %q", c.Vision.Classifier))
		}
	}
	if c.Topics.Control == "" {
		errs = append(errs, errors.New("no control topic"))
	}
	return errors.Join(errs...)
}

// SortedCategories lists the keys of an angle table in a stable order.
func SortedCategories(m map[category.Category]int) []category.Category {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// SorterConfig builds the sort controller's settings.
func (c Config) SorterConfig() sorter.Config {
	return sorter.Config{
		Angles:        c.Sorter.Angles,
		Park:          c.Sorter.Park,
		Neutral:       c.Sorter.Neutral,
		GateHome:      c.Sorter.GateHome,
		GateOpen:      c.Sorter.GateOpen,
		Settle:        c.Sorter.Settle,
		Dwell:         c.Sorter.Dwell,
		Retries:       uint64(c.Sorter.Retries),
		RetryBackoff:  c.Sorter.RetryBackoff,
		Policy:        c.Sorter.Policy,
		RequireActive: c.Sorter.RequireActive,
		StateTopic:    c.Topics.SorterState,
		ResultTopic:   c.Topics.SortedResult,
		PoseFile:      c.Sorter.PoseFile,
	}
}

func (c Config) BinLevelConfig() binlevel.Config {
	return binlevel.Config{
		Interval:    c.Bins.Interval,
		ReadTimeout: c.Bins.ReadTimeout,
		Format:      c.Bins.Format,
	}
}

func (c Config) VisionConfig() vision.Config {
	return vision.Config{
		Topic:             c.Topics.Classification,
		PublishConfidence: c.Vision.PublishConfidence,
		LampDelay:         c.Lamp.Delay,
		LampOn:            c.Lamp.On,
		WarmUp:            c.Vision.WarmUp,
		ClassifyTimeout:   c.Vision.ClassifyTimeout,
		ImagesDir:         c.Vision.ImagesDir,
	}
}
