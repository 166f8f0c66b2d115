// Package timer owns the single auction countdown of a room.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Fire is delivered when an armed deadline elapses. Gen identifies the arming
// that produced it so the owner can drop fires from superseded timers.
type Fire struct {
	Gen      uint64
	Deadline time.Time
}

type Controller struct {
	clock clockwork.Clock
	fire  func(Fire)

	mu       sync.Mutex
	gen      uint64
	armed    bool
	deadline time.Time
	t        clockwork.Timer
	stop     chan struct{}
}

// New returns a controller that calls fire from its own goroutine. fire must
// not call back into the controller synchronously.
func New(clock clockwork.Clock, fire func(Fire)) *Controller {
	return &Controller{clock: clock, fire: fire}
}

// Arm schedules a fire at deadline, replacing any pending one.
func (c *Controller) Arm(deadline time.Time) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.gen++
	gen := c.gen

	d := deadline.Sub(c.clock.Now())
	if d < 0 {
		d = 0
	}
	t := c.clock.NewTimer(d)
	stop := make(chan struct{})

	c.t, c.stop = t, stop
	c.armed, c.deadline = true, deadline

	go func() {
		select {
		case <-t.Chan():
			c.fire(Fire{Gen: gen, Deadline: deadline})
		case <-stop:
		}
	}()
	return gen
}

// Cancel disarms the pending fire. A fire already in flight becomes stale.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.gen++
	c.armed = false
	c.deadline = time.Time{}
}

// Fired consumes a fire. It reports false for a stale or repeated generation.
func (c *Controller) Fired(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed || gen != c.gen {
		return false
	}
	c.armed = false
	c.deadline = time.Time{}
	c.t, c.stop = nil, nil
	return true
}

func (c *Controller) Deadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline, c.armed
}

func (c *Controller) Gen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Controller) stopLocked() {
	if c.t == nil {
		return
	}
	stopAndDrainTimer(c.t)
	close(c.stop)
	c.t, c.stop = nil, nil
}

// stopAndDrainTimer stops a timer and drains its channel so the waiting
// goroutine never observes a value after the stop.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
