package tps

import "time"

// Clock reports monotonic instants as the elapsed time since its origin.
type Clock interface {
	Now() time.Duration
}

// monoClock uses the monotonic reading carried by time.Time, so wall-clock
// adjustments never move it.
type monoClock struct {
	origin time.Time
}

// NewClock returns a Clock anchored at the current instant.
func NewClock() Clock {
	return monoClock{origin: time.Now()}
}

func (c monoClock) Now() time.Duration {
	return time.Since(c.origin)
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Duration

func (f ClockFunc) Now() time.Duration { return f() }
