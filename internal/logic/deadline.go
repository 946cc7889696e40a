package logic

import "time"

// DefaultStandbyTimeout is the inactivity period after which the relay opens.
const DefaultStandbyTimeout = 10 * time.Second

// Deadline tracks the standby deadline. It only moves forward after creation.
type Deadline struct {
	timeout  time.Duration
	window   time.Duration
	deadline time.Time
}

// NewDeadline creates a tracker whose first deadline is now+timeout.
// window is the length of the approaching-timeout window; zero or a value
// larger than timeout means the whole timeout.
func NewDeadline(timeout, window time.Duration, now time.Time) Deadline {
	if window <= 0 || window > timeout {
		window = timeout
	}
	return Deadline{
		timeout:  timeout,
		window:   window,
		deadline: now.Add(timeout),
	}
}

// KeepAlive advances the deadline to now+timeout. It never moves it backwards.
func (d *Deadline) KeepAlive(now time.Time) {
	next := now.Add(d.timeout)
	if next.After(d.deadline) {
		d.deadline = next
	}
}

// Alive reports whether now is before the deadline.
func (d Deadline) Alive(now time.Time) bool {
	return now.Before(d.deadline)
}

// Remaining returns the time left until the deadline. It is negative once expired.
func (d Deadline) Remaining(now time.Time) time.Duration {
	return d.deadline.Sub(now)
}

// At returns the absolute deadline.
func (d Deadline) At() time.Time {
	return d.deadline
}

// Classify returns Expired when remaining <= 0, Approaching when
// 0 < remaining < window and Alive otherwise.
//
// With the default window (the full timeout) a keep-alive resets remaining to
// exactly the window, so every later tick reports Approaching until the next
// keep-alive.
func (d Deadline) Classify(now time.Time) Liveness {
	rem := d.Remaining(now)
	switch {
	case rem <= 0:
		return Expired
	case rem < d.window:
		return Approaching
	default:
		return Alive
	}
}
