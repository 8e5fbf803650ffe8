package main

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/rs/cors"

	"github.com/obsidianstack/tpsmeter/server/internal/alerts"
	"github.com/obsidianstack/tpsmeter/server/internal/api"
	"github.com/obsidianstack/tpsmeter/server/internal/auth"
	"github.com/obsidianstack/tpsmeter/server/internal/checklog"
	"github.com/obsidianstack/tpsmeter/server/internal/config"
	"github.com/obsidianstack/tpsmeter/server/internal/metrics"
)

var logOutput io.Writer = os.Stdout

// newLogHandler returns the slog handler for format ("json" or "text").
// level is shared so reloads take effect without rebuilding the handler.
func newLogHandler(format string, level slog.Leveler) slog.Handler {
	if format == "text" {
		return tint.NewHandler(logOutput, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}
	return slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: level})
}

// newHandler assembles the main listener: REST API behind optional API-key
// auth, the WebSocket feed, Prometheus metrics and the optional UI, all
// wrapped in CORS.
func newHandler(
	cfg config.ServerConfig,
	monitor api.RateSource,
	meter *metrics.Metrics,
	engine *alerts.Engine,
	checks *checklog.Store,
	hub http.Handler,
	uiDir string,
) http.Handler {
	opts := []api.Option{api.WithAlerts(engine)}
	if checks != nil {
		opts = append(opts, api.WithChecks(checks))
	}
	requireKey := auth.APIKey(cfg.Auth.Mode, cfg.Auth.EffectiveHeader(), cfg.Auth.Key())

	mux := http.NewServeMux()
	mux.Handle("/api/", requireKey(api.New(monitor, opts...)))
	mux.Handle("/ws/stream", hub)
	mux.Handle("/metrics", meter.Handler())

	// The "/" catch-all serves index.html for any unknown path (SPA routing).
	if uiDir != "" {
		fs := http.FileServer(http.Dir(uiDir))
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := filepath.Join(uiDir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, filepath.Join(uiDir, "index.html"))
				return
			}
			fs.ServeHTTP(w, r)
		})
	}

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type", cfg.Auth.EffectiveHeader()},
	}).Handler(mux)
}
