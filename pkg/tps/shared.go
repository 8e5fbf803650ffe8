package tps

import (
	"sync"
	"time"
)

// Shared is a Monitor handle safe for concurrent use. The serving binary owns
// one and passes it to the request path and to every rate consumer.
type Shared struct {
	mu sync.Mutex
	m  *Monitor
}

// NewShared wraps m. The caller must not use m directly afterwards.
func NewShared(m *Monitor) *Shared {
	return &Shared{m: m}
}

// Now reads the monitor's clock. Producers stamp start and end with it so
// both sides agree on the timeline.
func (s *Shared) Now() time.Duration {
	return s.m.clock.Now()
}

// Window returns the configured window span.
func (s *Shared) Window() time.Duration { return s.m.window }

// Record adds one completed request; see Monitor.Record.
func (s *Shared) Record(output uint64, start, end time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.Record(output, start, end)
}

// Rate returns the current rate on the monitor's clock.
func (s *Shared) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Rate()
}

// RateAt returns the rate averaged over [now-window, now].
func (s *Shared) RateAt(now time.Duration) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.RateAt(now)
}

// Len returns the number of segments currently held.
func (s *Shared) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Len()
}

// Reset discards every segment.
func (s *Shared) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.Reset()
}
