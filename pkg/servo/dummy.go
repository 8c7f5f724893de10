package servo

import (
	"context"
	"fmt"
	"sync"
)

// Dummy remembers commanded angles and waits out the settle time, for
// running without hardware.
type Dummy struct {
	lock   sync.Mutex
	axes   map[Axis]AxisConfig
	angles map[Axis]int
}

var _ Actuator = (*Dummy)(nil)

func NewDummy(axes map[Axis]AxisConfig) *Dummy {
	return &Dummy{
		axes:   axes,
		angles: map[Axis]int{},
	}
}

func (d *Dummy) Move(ctx context.Context, axis Axis, angle int) error {
	c, err := lookup(d.axes, axis)
	if err != nil {
		return err
	}
	fmt.Printf("DHW: Move axis=%v angle=%v\n", axis, ClampAngle(angle))
	d.lock.Lock()
	d.angles[axis] = ClampAngle(angle)
	d.lock.Unlock()
	return settle(ctx, c.Settle)
}

func (d *Dummy) Angle(axis Axis) (int, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	a, ok := d.angles[axis]
	return a, ok
}
