package tps

import (
	"time"

	"github.com/gammazero/deque"
)

// DefaultWindowSecs is the window span used when none is configured.
const DefaultWindowSecs = 5

// segment is one completed request's contribution record.
type segment struct {
	start  time.Duration
	end    time.Duration
	output uint64
}

// Monitor aggregates completed-request segments into a windowed output rate.
//
// Segments are kept oldest first and discarded lazily, on every Record and
// every rate query, once they can no longer overlap a window ending at or
// after the latest instant seen. Memory is therefore bounded by the number of
// requests completing within one window, not by total volume.
type Monitor struct {
	window   time.Duration
	clock    Clock
	segments deque.Deque[segment]
}

// New returns a Monitor averaging over windowSecs seconds. Values below 1
// are clamped to 1. Rate uses a monotonic clock anchored at construction.
func New(windowSecs int) *Monitor {
	return NewWithClock(windowSecs, nil)
}

// NewDefault returns a Monitor with a DefaultWindowSecs window.
func NewDefault() *Monitor {
	return New(DefaultWindowSecs)
}

// NewWithClock is like New but reads "now" for Rate from clock.
// A nil clock means NewClock().
func NewWithClock(windowSecs int, clock Clock) *Monitor {
	if windowSecs < 1 {
		windowSecs = 1
	}
	if clock == nil {
		clock = NewClock()
	}
	return &Monitor{
		window: time.Duration(windowSecs) * time.Second,
		clock:  clock,
	}
}

// Window returns the configured window span.
func (m *Monitor) Window() time.Duration { return m.window }

// Clock returns the clock producers should stamp requests with.
func (m *Monitor) Clock() Clock { return m.clock }

// Len returns the number of segments currently held.
func (m *Monitor) Len() int { return m.segments.Len() }

// Record adds one completed request that produced output units between the
// monotonic instants start and end.
//
// Requests with no output or a non-positive duration are ignored.
func (m *Monitor) Record(output uint64, start, end time.Duration) {
	if output == 0 {
		return
	}
	if end <= start {
		return
	}

	m.segments.PushBack(segment{start: start, end: end, output: output})
	m.evict(end)
}

// Rate returns the current rate using the monitor's clock.
func (m *Monitor) Rate() float64 {
	return m.RateAt(m.clock.Now())
}

// RateAt returns the output rate in units per second averaged over
// [now-window, now].
//
// Each segment contributes output * overlap/duration, where overlap is the
// part of the segment's own interval inside the window. The total is divided
// by the configured window span. Returns 0 when now is earlier than one
// window span from the clock origin.
func (m *Monitor) RateAt(now time.Duration) float64 {
	m.evict(now)

	if now < m.window {
		return 0
	}
	windowStart := now - m.window

	var tokens float64
	for i := 0; i < m.segments.Len(); i++ {
		seg := m.segments.At(i)
		if seg.end <= windowStart || seg.start >= now {
			continue
		}

		overlapStart := max(seg.start, windowStart)
		overlapEnd := min(seg.end, now)
		if overlapEnd <= overlapStart {
			continue
		}

		span := seg.end - seg.start
		if span <= 0 {
			continue
		}

		tokens += float64(seg.output) * (overlapEnd - overlapStart).Seconds() / span.Seconds()
	}

	if tokens <= 0 {
		return 0
	}
	return tokens / m.window.Seconds()
}

// Reset discards every segment. The window span is kept.
func (m *Monitor) Reset() {
	m.segments.Clear()
}

// evict pops segments from the front whose end lies strictly before
// now-window. Nothing is evicted while now is within the first window.
func (m *Monitor) evict(now time.Duration) {
	if now < m.window {
		return
	}
	cutoff := now - m.window

	for m.segments.Len() > 0 {
		if m.segments.Front().end >= cutoff {
			return
		}
		m.segments.PopFront()
	}
}
