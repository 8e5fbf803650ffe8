// Package tps estimates the output rate (tokens per second) of a streaming
// request-serving layer over a fixed sliding window.
//
// Each completed request is recorded as a segment: its output amount and the
// monotonic start/end instants of the work. A segment's output is assumed to
// be produced uniformly across its own duration, so a query counts only the
// fraction of each segment that overlaps [now-window, now]. The sum is
// always divided by the configured window length, never by the span of data
// actually present, which keeps the metric stable right after startup or a
// quiet period at the cost of under-reporting during the first window.
//
// Monitor is not safe for concurrent use. Hosts that feed it from several
// goroutines share a *Shared handle, which serialises every call.
//
// Invalid input (zero output, end <= start, a query before the first full
// window) is silently treated as non-contributing data. No call can fail;
// a rate of 0 means either idle or nothing valid in the window.
package tps
