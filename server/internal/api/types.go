package api

import "github.com/obsidianstack/tpsmeter/server/internal/checklog"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status     string `json:"status"`
	WindowSecs int    `json:"window_secs"`
	Segments   int    `json:"segments"`
	AlertCount int    `json:"alert_count"`
}

// RateResponse is the payload for GET /api/v1/tps and the WebSocket feed.
type RateResponse struct {
	TokensPerSecond float64          `json:"tokens_per_second"`
	WindowSecs      int              `json:"window_secs"`
	Segments        int              `json:"segments"`
	WarmingUp       bool             `json:"warming_up"`
	Diagnostics     []DiagnosticHint `json:"diagnostics"`
	GeneratedAt     string           `json:"generated_at"` // RFC3339
}

// CreatedResponse is returned when a check result is stored.
type CreatedResponse struct {
	ID int64 `json:"id"`
}

// CheckRequest is the body of POST /api/v1/checks/{provider}/{app}.
// ProviderName defaults to the provider id from the path.
type CheckRequest struct {
	ProviderName string `json:"provider_name"`
	checklog.Result
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
