package checklog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// HealthStatus is the outcome class of one stream check.
type HealthStatus int

const (
	StatusFailed HealthStatus = iota
	StatusOperational
	StatusDegraded
)

// String returns the lowercase name stored in the database.
func (s HealthStatus) String() string {
	switch s {
	case StatusOperational:
		return "operational"
	case StatusDegraded:
		return "degraded"
	default:
		return "failed"
	}
}

// ParseHealthStatus maps a stored status string to a HealthStatus.
// Anything unrecognised is StatusFailed.
func ParseHealthStatus(s string) HealthStatus {
	switch strings.ToLower(s) {
	case "operational":
		return StatusOperational
	case "degraded":
		return StatusDegraded
	default:
		return StatusFailed
	}
}

func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *HealthStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("health status: %w", err)
	}
	*s = ParseHealthStatus(str)
	return nil
}

// Result is one stream check outcome.
type Result struct {
	Status         HealthStatus `json:"status"`
	Success        bool         `json:"success"`
	Message        string       `json:"message"`
	ResponseTimeMs *uint64      `json:"response_time_ms,omitempty"`
	HTTPStatus     *uint16      `json:"http_status,omitempty"`
	ModelUsed      string       `json:"model_used"`
	TestedAt       int64        `json:"tested_at"` // unix seconds
	RetryCount     uint32       `json:"retry_count"`
}

// ErrInvalidConfig is returned by Validate and SaveConfig for unusable settings.
var ErrInvalidConfig = errors.New("invalid stream check config")

// Config controls how stream checks are run.
type Config struct {
	// TimeoutSecs bounds one check request.
	TimeoutSecs uint64 `json:"timeout_secs"`

	// MaxRetries is the number of extra attempts after a failure.
	MaxRetries uint32 `json:"max_retries"`

	// DegradedThresholdMs marks a successful check as degraded when the
	// response took longer than this.
	DegradedThresholdMs uint64 `json:"degraded_threshold_ms"`

	// Per app-type model used for the check request.
	ClaudeModel string `json:"claude_model"`
	CodexModel  string `json:"codex_model"`
	GeminiModel string `json:"gemini_model"`

	// TestPrompt is the message sent in each check.
	TestPrompt string `json:"test_prompt"`
}

// DefaultConfig returns the configuration used when none has been saved.
func DefaultConfig() Config {
	return Config{
		TimeoutSecs:         45,
		MaxRetries:          2,
		DegradedThresholdMs: 6000,
		ClaudeModel:         "claude-haiku-4-5",
		CodexModel:          "gpt-5-codex",
		GeminiModel:         "gemini-2.5-flash",
		TestPrompt:          "Who are you?",
	}
}

// Validate reports whether c can be used to run checks.
func (c Config) Validate() error {
	if c.TimeoutSecs == 0 {
		return fmt.Errorf("%w: timeout_secs must be positive", ErrInvalidConfig)
	}
	if c.DegradedThresholdMs == 0 {
		return fmt.Errorf("%w: degraded_threshold_ms must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.TestPrompt) == "" {
		return fmt.Errorf("%w: test_prompt is required", ErrInvalidConfig)
	}
	return nil
}
