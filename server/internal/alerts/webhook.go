package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/obsidianstack/tpsmeter/server/internal/config"
)

// deliver sends webhook notifications for a to every target in webhooks.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(webhooks []config.WebhookConfig, a *Alert) {
	ctx := context.Background()
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var body []byte
		switch wh.Type {
		case "slack":
			body = slackPayload(a)
		case "teams":
			body = teamsPayload(a)
		case "pagerduty":
			body = pagerDutyPayload(wh.RoutingKey(), a)
		case "http":
			body, _ = json.Marshal(map[string]interface{}{"alert": a})
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err := e.post(ctx, url, body); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"err", err,
			)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type,
			"rule", a.RuleName,
			"state", a.State,
		)
	}
}

func slackPayload(a *Alert) []byte {
	text := fmt.Sprintf("*%s* %s", severityLabel(a.Severity), a.Message)
	if a.State == "resolved" {
		text = fmt.Sprintf("*[RESOLVED]* %s", a.RuleName)
	}
	body, _ := json.Marshal(map[string]string{"text": text})
	return body
}

func teamsPayload(a *Alert) []byte {
	color := severityColor(a.Severity)
	if a.State == "resolved" {
		color = "2EB67D"
	}
	body, _ := json.Marshal(map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": color,
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("tpsmeter alert: %s (%s)", a.RuleName, a.State),
		"text":       a.Message,
	})
	return body
}

// pagerDutyPayload builds an Events API v2 event. The rule name is the dedup
// key, so a resolve closes the incident its trigger opened.
func pagerDutyPayload(routingKey string, a *Alert) []byte {
	action := "trigger"
	if a.State == "resolved" {
		action = "resolve"
	}
	body, _ := json.Marshal(map[string]interface{}{
		"routing_key":  routingKey,
		"event_action": action,
		"dedup_key":    "tpsmeter:" + a.RuleName,
		"payload": map[string]interface{}{
			"summary":        a.Message,
			"source":         "tpsmeter",
			"severity":       pagerDutySeverity(a.Severity),
			"timestamp":      a.FiredAt,
			"custom_details": map[string]interface{}{"value": a.Value},
		},
	})
	return body
}

func (e *Engine) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

// pagerDutySeverity maps rule severities onto the Events API v2 set.
func pagerDutySeverity(s string) string {
	switch s {
	case "critical", "warning":
		return s
	default:
		return "info"
	}
}
