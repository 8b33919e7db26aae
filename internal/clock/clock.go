// Package clock abstracts the timers used by the session and the
// notification policy so tests can drive them deterministically.
//
// Production code uses Real(). Tests use Fake() and move time forward
// with Advance, which runs due callbacks synchronously in deadline
// order:
//
//	c := clock.Fake(time.Unix(0, 0))
//	s := vim.NewSession(vim.SessionConfig{Clock: c, ...})
//	c.Advance(3 * time.Second) // heartbeat fires here
package clock

import "time"

// Clock is the subset of the time package the client depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer cancels
	// the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancelable pending callback.
type Timer struct {
	stop func() bool
}

// Stop cancels the timer. It reports whether the call prevented the
// callback from running. Stop on a nil Timer is a no-op.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}
