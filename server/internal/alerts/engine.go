package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/tpsmeter/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Engine evaluates alert rules against samples of the throughput monitor and
// delivers webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: rule name
	lastFire map[string]time.Time // last fire time per rule (for cooldown)
	history  []*Alert             // recently resolved alerts

	client *http.Client
	now    func() time.Time
	notify func(Alert)
}

// New creates an Engine from the server alert configuration.
// An Engine with no rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// OnChange registers fn to be called with a copy of every alert that fires
// or resolves. It must be set before Run or Evaluate are used.
func (e *Engine) OnChange(fn func(Alert)) {
	e.notify = fn
}

// UpdateRules swaps the rule and webhook set after a config reload. Alerts
// whose rule no longer exists are dropped without a resolve notification.
func (e *Engine) UpdateRules(cfg config.AlertsConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = cfg.Rules
	e.webhooks = cfg.Webhooks

	keep := make(map[string]bool, len(cfg.Rules))
	for _, r := range cfg.Rules {
		keep[r.Name] = true
	}
	for name := range e.active {
		if !keep[name] {
			delete(e.active, name)
			delete(e.lastFire, name)
		}
	}
	slog.Info("alerts: rules updated", "rules", len(cfg.Rules), "webhooks", len(cfg.Webhooks))
}

// Run evaluates sample() every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration, sample func() Sample) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate(sample())
		}
	}
}

// Evaluate tests all configured rules against s.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(s Sample) {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()

	now := e.now()
	for _, rule := range rules {
		fires, value := evalCondition(rule.Condition, s)
		if fires {
			e.fire(rule, value, now)
		} else {
			e.resolve(rule, now)
		}
	}
}

func (e *Engine) fire(rule config.AlertRule, value float64, now time.Time) {
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	e.mu.Lock()
	if _, firing := e.active[rule.Name]; firing || now.Sub(e.lastFire[rule.Name]) <= cooldown {
		e.mu.Unlock()
		return
	}
	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:       fmt.Sprintf("%s:%d", rule.Name, now.UnixNano()),
		RuleName: rule.Name,
		Severity: sev,
		Value:    value,
		Message:  fmt.Sprintf("[%s] %s fired: %s (value %.2f)", sev, rule.Name, rule.Condition, value),
		FiredAt:  now,
		State:    "firing",
	}
	e.active[rule.Name] = a
	e.lastFire[rule.Name] = now
	alertCopy := *a
	webhooks := e.webhooks
	e.mu.Unlock()

	slog.Warn("alerts: alert fired",
		"rule", rule.Name,
		"value", value,
		"severity", sev,
	)
	e.publish(webhooks, alertCopy)
}

func (e *Engine) resolve(rule config.AlertRule, now time.Time) {
	e.mu.Lock()
	a, ok := e.active[rule.Name]
	if !ok {
		e.mu.Unlock()
		return
	}
	resolved := now
	a.State = "resolved"
	a.ResolvedAt = &resolved
	delete(e.active, rule.Name)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	alertCopy := *a
	webhooks := e.webhooks
	e.mu.Unlock()

	slog.Info("alerts: alert resolved", "rule", rule.Name)
	e.publish(webhooks, alertCopy)
}

func (e *Engine) publish(webhooks []config.WebhookConfig, a Alert) {
	if e.notify != nil {
		e.notify(a)
	}
	go e.deliver(webhooks, &a)
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}
