package api

import "fmt"

// backlogSegments is the retained segment count above which the window is
// flagged as unusually busy.
const backlogSegments = 10000

// DiagnosticHint is one human-readable insight about the throughput window.
// The UI displays these as chips next to the rate; hovering one shows Detail.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label shown on the chip.
	Title string `json:"title"`
	// Detail is the full explanation shown on hover.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from a rate reading.
// Hints are ordered: warnings first, then info.
func computeDiagnostics(r RateResponse) []DiagnosticHint {
	var hints []DiagnosticHint

	if r.Segments > backlogSegments {
		v := float64(r.Segments)
		hints = append(hints, DiagnosticHint{
			Key:   "segment_backlog",
			Level: "warning",
			Title: "Very busy window",
			Detail: fmt.Sprintf(
				"%d requests finished inside the last %d seconds. Each one is kept until it "+
					"leaves the window, so memory and rate calculation time grow with traffic. "+
					"A shorter window_secs keeps fewer of them.",
				r.Segments, r.WindowSecs),
			Value: &v,
		})
	}

	switch {
	case r.WarmingUp:
		hints = append(hints, DiagnosticHint{
			Key:   "warming_up",
			Level: "info",
			Title: "Warming up",
			Detail: fmt.Sprintf(
				"The server started less than %d seconds ago, so a full window has not "+
					"elapsed yet. The rate reads 0 until it has.",
				r.WindowSecs),
		})
	case r.TokensPerSecond == 0:
		hints = append(hints, DiagnosticHint{
			Key:   "idle",
			Level: "info",
			Title: "No traffic",
			Detail: fmt.Sprintf(
				"No proxied output landed in the last %d seconds. Requests still "+
					"streaming are counted once they complete.",
				r.WindowSecs),
		})
	case len(hints) == 0:
		v := r.TokensPerSecond
		hints = append(hints, DiagnosticHint{
			Key:   "flowing",
			Level: "ok",
			Title: fmt.Sprintf("%.1f tokens/s", v),
			Detail: fmt.Sprintf(
				"Output averaged %.2f tokens per second over the last %d seconds, across %d requests.",
				v, r.WindowSecs, r.Segments),
			Value: &v,
		})
	}
	return hints
}
