package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts the time operations the clients depend on so reconnect
// scheduling can be driven deterministically in tests
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// AfterFunc calls f in its own goroutine once d has elapsed
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call
type Timer interface {
	// Stop prevents the call from happening. It reports whether the
	// call was still pending.
	Stop() bool
}

// Real returns a Clock backed by the time package
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FakeClock only moves when Advance is called. AfterFunc callbacks run
// synchronously inside Advance, in deadline order.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	delay    time.Duration
	callback func()
	done     bool
}

// NewFake returns a FakeClock starting at initial
func NewFake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run when the clock passes now+d
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{
		clock:    c,
		deadline: c.current.Add(d),
		delay:    d,
		callback: f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the original delays of all timers that have neither
// fired nor been stopped, in registration order
func (c *FakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var delays []time.Duration
	for _, t := range c.timers {
		if !t.done {
			delays = append(delays, t.delay)
		}
	}
	return delays
}

// Advance moves the clock forward by d and runs every callback whose
// deadline has been reached
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)

	var due []*fakeTimer
	live := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.done:
		case !t.deadline.After(c.current):
			t.done = true
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	c.timers = live
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.callback()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	return true
}
