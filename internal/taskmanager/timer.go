package taskmanager

import (
	"cmp"
	"time"
)

// Timer is a callback scheduled against the scheduler's clock.
type Timer struct {
	s       *Scheduler
	fn      func()
	due     time.Duration
	stopped bool
}

// Stop prevents the timer from firing and drops it from the scheduler, so a
// stopped timer no longer keeps the scheduler busy. Loop goroutine only.
func (t *Timer) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true
	t.s.timers.Remove(t)
}

// earlier due times rank higher
func compareTimers(a, b *Timer) int {
	return cmp.Compare(b.due, a.due)
}

func sameTimer(a, b *Timer) bool {
	return a == b
}

// After schedules fn to run on the loop goroutine once d has elapsed on the
// scheduler's clock. Timers are fired by Advance.
func (s *Scheduler) After(d time.Duration, fn func()) *Timer {
	t := &Timer{s: s, fn: fn, due: s.now + d}
	_, _ = s.timers.Add(t)
	return t
}

func (s *Scheduler) fireTimers() {
	for {
		t, ok := s.timers.Peek()
		if !ok || t.due > s.now {
			return
		}
		s.timers.Poll()
		if t.stopped {
			continue
		}
		s.safeCall("timer", t.fn)
	}
}
