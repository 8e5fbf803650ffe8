// Package metrics exposes the throughput monitor and proxy counters in the
// Prometheus exposition format.
//
// The current rate and segment count are GaugeFuncs read from the shared
// monitor at scrape time, so a scrape always triggers the monitor's lazy
// eviction and sees a fresh window.
package metrics
