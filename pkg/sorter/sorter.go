// Package sorter sequences the servos that route one item into its bin.
//
// A cycle moves the sorter arm to the category's angle, opens and closes the
// gate, then optionally parks the arm:
//
//	Idle -> SortingMotion -> Dispensing -> Returning -> Idle
//
// Only one cycle runs at a time.  Cycles are never interrupted once started,
// so the mechanism always ends up with the gate closed.
package sorter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tigerbot-team/wastesort/pkg/bus"
	"github.com/tigerbot-team/wastesort/pkg/category"
	"github.com/tigerbot-team/wastesort/pkg/runstate"
	"github.com/tigerbot-team/wastesort/pkg/screen"
	"github.com/tigerbot-team/wastesort/pkg/servo"
	"github.com/tigerbot-team/wastesort/pkg/sound"
)

type State string

const (
	Idle          State = "idle"
	SortingMotion State = "sorting"
	Dispensing    State = "dispensing"
	Returning     State = "returning"
)

// Policy decides what happens to a classification that arrives mid-cycle.
type Policy string

const (
	// PolicyQueue keeps the newest one and runs it next.
	PolicyQueue Policy = "queue"
	// PolicyDrop discards it.
	PolicyDrop Policy = "drop"
)

const (
	DefaultSettle       = 500 * time.Millisecond
	DefaultDwell        = time.Second
	DefaultRetries      = 2
	DefaultRetryBackoff = 100 * time.Millisecond
)

var (
	ErrActuatorFault  = errors.New("actuator fault")
	ErrNoAngle        = errors.New("no sort angle for category")
	ErrAlreadyRunning = errors.New("sorter worker already running")
)

type Config struct {
	Angles map[category.Category]int
	// Park is where the arm rests after sorting the category.  Categories
	// without an entry leave the arm where it is.
	Park    map[category.Category]int
	Neutral int

	GateHome int
	GateOpen int

	Settle time.Duration
	Dwell  time.Duration

	Retries      uint64
	RetryBackoff time.Duration

	Policy Policy
	// RequireActive refuses classifications while the run state is
	// Stopped.
	RequireActive bool

	StateTopic  string
	ResultTopic string

	PoseFile string
}

type Controller struct {
	cfg   Config
	act   servo.Actuator
	cats  category.Map
	bus   bus.Interface
	run   *runstate.Machine
	sound sound.Interface

	// motion is held for a whole cycle or Home.
	motion sync.Mutex

	lock    sync.Mutex
	state   State
	pose    Pose
	known   bool
	busy    bool
	pending *request

	wake    chan struct{}
	running atomic.Bool
}

type request struct {
	label    string
	category category.Category
}

func New(cfg Config, act servo.Actuator, cats category.Map, b bus.Interface, run *runstate.Machine, snd sound.Interface) *Controller {
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.Dwell < 0 {
		cfg.Dwell = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyQueue
	}
	if snd == nil {
		snd = sound.Nop{}
	}
	return &Controller{
		cfg:   cfg,
		act:   act,
		cats:  cats,
		bus:   b,
		run:   run,
		sound: snd,
		state: Idle,
		wake:  make(chan struct{}, 1),
	}
}

func (c *Controller) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// Pose returns the last commanded pose and whether it is known.
func (c *Controller) Pose() (Pose, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.pose, c.known
}

// Init restores the pose file and homes the mechanism if no pose is known.
func (c *Controller) Init(ctx context.Context) error {
	pose, ok, err := LoadPose(c.cfg.PoseFile)
	if err != nil {
		slog.Warn("Ignoring unreadable pose file", slog.String("file", c.cfg.PoseFile), slog.Any("err", err))
	}
	if ok {
		c.lock.Lock()
		c.pose = pose
		c.known = true
		c.lock.Unlock()
		slog.Info("Restored sorter pose", slog.Int("sorter", pose.Sorter), slog.Int("gate", pose.Gate))
		c.setState(Idle)
		return nil
	}
	return c.Home(ctx)
}

// Home moves the arm to neutral and closes the gate.  It waits for any
// in-flight cycle to finish first.
func (c *Controller) Home(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	c.motion.Lock()
	defer c.motion.Unlock()

	slog.Info("Homing sorter")
	err := c.move(ctx, servo.Sorter, c.cfg.Neutral)
	if err == nil {
		c.updatePose(func(p *Pose) { p.Sorter = c.cfg.Neutral })
	}
	gateErr := c.move(ctx, servo.Gate, c.cfg.GateHome)
	if gateErr == nil {
		c.updatePose(func(p *Pose) { p.Gate = c.cfg.GateHome })
	}
	c.setState(Idle)
	c.savePose()
	return errors.Join(err, gateErr)
}

// HandleClassification maps a raw label to a category and submits a cycle
// for it.  It reports whether a cycle was queued.
func (c *Controller) HandleClassification(label string) bool {
	if category.Absent(label) {
		slog.Debug("Ignoring absent classification", slog.String("label", label))
		return false
	}
	if !c.mayStart() {
		slog.Info("Ignoring classification while stopped", slog.String("label", label))
		return false
	}
	cat := c.cats.Category(label)
	slog.Info("Classification received", slog.String("label", label), slog.String("category", string(cat)))
	return c.submit(request{label: label, category: cat})
}

func (c *Controller) mayStart() bool {
	return !c.cfg.RequireActive || c.run == nil || c.run.Snapshot().Active()
}

// Submit queues a cycle for cat.
func (c *Controller) Submit(cat category.Category) bool {
	return c.submit(request{label: string(cat), category: cat})
}

func (c *Controller) submit(r request) bool {
	c.lock.Lock()
	if c.busy || c.pending != nil {
		if c.cfg.Policy == PolicyDrop {
			c.lock.Unlock()
			slog.Info("Sorter busy, dropping classification", slog.String("category", string(r.category)))
			return false
		}
		if c.pending != nil {
			slog.Info("Replacing queued classification",
				slog.String("old", string(c.pending.category)),
				slog.String("new", string(r.category)))
		}
	}
	c.pending = &r
	c.lock.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes submitted cycles one at a time until ctx is done.  A cycle
// in progress when ctx is cancelled still runs to completion.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}
		for {
			c.lock.Lock()
			r := c.pending
			c.pending = nil
			c.busy = r != nil
			c.lock.Unlock()
			if r == nil {
				break
			}
			if !c.mayStart() {
				slog.Info("Dropping queued classification, sorter stopped", slog.String("category", string(r.category)))
			} else if err := c.Cycle(ctx, r.category); err != nil {
				slog.Error("Sort cycle failed", slog.String("category", string(r.category)), slog.Any("err", err))
			}
			c.lock.Lock()
			c.busy = false
			c.lock.Unlock()
		}
	}
}

// Cycle runs one complete sort cycle for cat and blocks until the mechanism
// is back in Idle.  Cancelling ctx does not interrupt it.
func (c *Controller) Cycle(ctx context.Context, cat category.Category) error {
	ctx = context.WithoutCancel(ctx)
	c.motion.Lock()
	defer c.motion.Unlock()

	log := slog.With(slog.String("category", string(cat)))
	c.setState(SortingMotion)
	angle, ok := c.cfg.Angles[cat]
	if !ok {
		log.Warn("No sort angle for category, skipping")
		c.setState(Idle)
		return fmt.Errorf("%w: %s", ErrNoAngle, cat)
	}
	if err := c.move(ctx, servo.Sorter, angle); err != nil {
		log.Error("Sort motion failed, closing gate", slog.Any("err", err))
		if gateErr := c.move(ctx, servo.Gate, c.cfg.GateHome); gateErr == nil {
			c.updatePose(func(p *Pose) { p.Gate = c.cfg.GateHome })
		}
		c.setState(Idle)
		c.sound.Play(sound.CueFault)
		return err
	}
	c.updatePose(func(p *Pose) { p.Sorter = angle })
	sleep(ctx, c.cfg.Settle)

	c.setState(Dispensing)
	openErr := c.move(ctx, servo.Gate, c.cfg.GateOpen)
	if openErr == nil {
		c.updatePose(func(p *Pose) { p.Gate = c.cfg.GateOpen })
		sleep(ctx, c.cfg.Dwell)
	} else {
		log.Error("Failed to open gate", slog.Any("err", openErr))
	}
	closeErr := c.move(ctx, servo.Gate, c.cfg.GateHome)
	if closeErr == nil {
		c.updatePose(func(p *Pose) { p.Gate = c.cfg.GateHome })
	} else {
		log.Error("Failed to close gate", slog.Any("err", closeErr))
	}

	c.setState(Returning)
	var parkErr error
	if park, ok := c.cfg.Park[cat]; ok && angle != c.cfg.Neutral {
		parkErr = c.move(ctx, servo.Sorter, park)
		if parkErr == nil {
			c.updatePose(func(p *Pose) { p.Sorter = park })
		} else {
			log.Error("Failed to park sorter", slog.Any("err", parkErr))
		}
	}
	c.setState(Idle)

	c.publish(c.cfg.ResultTopic, string(cat))
	c.savePose()
	if err := errors.Join(openErr, closeErr, parkErr); err != nil {
		c.sound.Play(sound.CueFault)
		return err
	}
	c.sound.Play(sound.CueSorted)
	log.Info("Sort cycle complete")
	return nil
}

// move drives one axis, retrying with a constant backoff.
func (c *Controller) move(ctx context.Context, axis servo.Axis, angle int) error {
	b := retry.WithMaxRetries(c.cfg.Retries, retry.NewConstant(c.cfg.RetryBackoff))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := c.act.Move(ctx, axis, angle); err != nil {
			slog.Warn("Servo move failed",
				slog.String("axis", string(axis)),
				slog.Int("angle", angle),
				slog.Int("attempt", attempt),
				slog.Any("err", err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: move %s to %d: %w", ErrActuatorFault, axis, angle, err)
	}
	return nil
}

func (c *Controller) setState(s State) {
	c.lock.Lock()
	c.state = s
	c.lock.Unlock()
	screen.SetSorterState(string(s))
	c.publish(c.cfg.StateTopic, string(s))
}

func (c *Controller) publish(topic, payload string) {
	if topic == "" || c.bus == nil {
		return
	}
	if err := c.bus.Publish(topic, payload); err != nil {
		slog.Warn("Failed to publish", slog.String("topic", topic), slog.Any("err", err))
	}
}

func (c *Controller) updatePose(fn func(p *Pose)) {
	c.lock.Lock()
	fn(&c.pose)
	c.known = true
	c.lock.Unlock()
}

func (c *Controller) savePose() {
	if c.cfg.PoseFile == "" {
		return
	}
	pose, _ := c.Pose()
	if err := SavePose(c.cfg.PoseFile, pose); err != nil {
		slog.Warn("Failed to save pose", slog.String("file", c.cfg.PoseFile), slog.Any("err", err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
