package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// It is safe for concurrent use.
//
// Callbacks run on the goroutine calling Advance, without the clock's
// lock held, so they may schedule or stop other timers. Do not call
// Advance from inside a callback.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	seq      int
	f        func()
	done     bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run when the clock has advanced by d. A
// non-positive d still waits for the next Advance call.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	ft := &fakeTimer{deadline: c.now.Add(d), seq: c.seq, f: f}
	c.pending = append(c.pending, ft)
	c.changed.Broadcast()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.done {
			return false
		}
		ft.done = true
		c.removeLocked(ft)
		return true
	}}
}

// Advance moves time forward by d and runs every callback whose
// deadline is reached, including callbacks scheduled by other callbacks
// during the same advance. Ties run in registration order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		next.done = true
		c.removeLocked(next)
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of scheduled callbacks.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// WaitForTimers blocks until at least n callbacks are scheduled. It
// closes the race between a goroutine arming a timer and the test
// advancing past it.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	if len(c.pending) == 0 {
		return nil
	}
	sort.SliceStable(c.pending, func(i, j int) bool {
		a, b := c.pending[i], c.pending[j]
		if a.deadline.Equal(b.deadline) {
			return a.seq < b.seq
		}
		return a.deadline.Before(b.deadline)
	})
	first := c.pending[0]
	if first.deadline.After(target) {
		return nil
	}
	return first
}

func (c *FakeClock) removeLocked(ft *fakeTimer) {
	for i, p := range c.pending {
		if p == ft {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}
