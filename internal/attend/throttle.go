package attend

import "time"

// Throttle spaces recognition attempts at least Cooldown apart.
// time.Time values from time.Now carry a monotonic reading, so wall clock jumps do not matter.
type Throttle struct {
	cooldown time.Duration
	last     time.Time
	now      func() time.Time
}

// NewThrottle creates a throttle. A nil clock uses time.Now.
func NewThrottle(cooldown time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{cooldown: cooldown, now: now}
}

// Allow reports whether an attempt may start now and, if so, records it.
func (t *Throttle) Allow() bool {
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.cooldown {
		return false
	}
	t.last = now
	return true
}
