package ultrasonic

import (
	"context"
	"math/rand"
	"sync"
)

// Dummy reports a fixed distance with a little noise, or ErrTimeout if the
// distance is negative.
type Dummy struct {
	lock     sync.Mutex
	distance float64
}

func NewDummy(distance float64) *Dummy {
	return &Dummy{distance: distance}
}

func (d *Dummy) Set(distance float64) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.distance = distance
}

func (d *Dummy) Measure(ctx context.Context) (float64, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.distance < 0 {
		return 0, ErrTimeout
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return d.distance + rand.Float64()*0.2 - 0.1, nil
}

func (d *Dummy) Close() error {
	return nil
}
