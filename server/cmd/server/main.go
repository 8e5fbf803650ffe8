package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/obsidianstack/tpsmeter/pkg/tps"
	"github.com/obsidianstack/tpsmeter/server/internal/alerts"
	"github.com/obsidianstack/tpsmeter/server/internal/checklog"
	"github.com/obsidianstack/tpsmeter/server/internal/config"
	"github.com/obsidianstack/tpsmeter/server/internal/metrics"
	"github.com/obsidianstack/tpsmeter/server/internal/proxy"
	"github.com/obsidianstack/tpsmeter/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	uiDir := flag.String("ui-dir", "", "serve the UI static files from this directory (e.g. ui/dist); leave empty to disable")
	flag.Parse()

	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(newLogHandler(config.DefaultLogFormat, level)))

	slog.Info("tpsmeter-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	lvl, _ := config.ParseLevel(cfg.Server.LogLevel) // validated by Load
	level.Set(lvl)
	slog.SetDefault(slog.New(newLogHandler(cfg.Server.LogFormat, level)))

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"window_secs", cfg.Server.TPS.WindowSecs,
		"upstream", cfg.Server.Proxy.Upstream,
		"storage", cfg.Server.Storage.Path,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Shared throughput monitor: the proxy records into it, everything else reads.
	monitor := tps.NewShared(tps.New(cfg.Server.TPS.WindowSecs))
	meter := metrics.New(monitor)
	meter.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Optional stream-check log store.
	var checks *checklog.Store
	if cfg.Server.Storage.Path != "" {
		checks, err = checklog.Open(ctx, cfg.Server.Storage.Path)
		if err != nil {
			slog.Error("failed to open check log store", "path", cfg.Server.Storage.Path, "err", err)
			os.Exit(1)
		}
		defer checks.Close()
	}

	// Alerts engine: evaluates rules against the monitor every interval.
	alertEngine := alerts.New(cfg.Server.Alerts)

	// WebSocket hub: broadcasts the rate and alert transitions to UI clients.
	hub := ws.New(monitor, cfg.Server.TPS.BroadcastInterval)
	alertEngine.OnChange(func(a alerts.Alert) { hub.Publish(ws.EventAlert, a) })
	go hub.Run(ctx)
	go alertEngine.Run(ctx, cfg.Server.Alerts.Interval, func() alerts.Sample {
		return alerts.Sample{TPS: monitor.Rate(), Segments: monitor.Len()}
	})

	// Hot reload of log level and alert rules. The window is fixed at startup.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			if l, err := config.ParseLevel(next.Server.LogLevel); err == nil {
				level.Set(l)
			}
			alertEngine.UpdateRules(next.Server.Alerts)
			if next.Server.TPS.WindowSecs != cfg.Server.TPS.WindowSecs {
				slog.Warn("tps.window_secs changed; restart to apply",
					"running", cfg.Server.TPS.WindowSecs,
					"configured", next.Server.TPS.WindowSecs,
				)
			}
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	servers := []*http.Server{{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: newHandler(cfg.Server, monitor, meter, alertEngine, checks, hub, *uiDir),
	}}
	if *uiDir != "" {
		slog.Info("serving UI static files", "dir", *uiDir)
	}

	// Metered reverse proxy on its own port.
	if cfg.Server.Proxy.Upstream != "" {
		target, err := url.Parse(cfg.Server.Proxy.Upstream)
		if err != nil {
			slog.Error("invalid proxy upstream", "err", err)
			os.Exit(1)
		}
		servers = append(servers, &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Proxy.ListenPort),
			Handler: proxy.New(target, monitor, meter),
		})
	}

	for _, srv := range servers {
		go func(srv *http.Server) {
			slog.Info("HTTP server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("HTTP server stopped", "addr", srv.Addr, "err", err)
				cancel()
			}
		}(srv)
	}

	<-ctx.Done()
	slog.Info("tpsmeter-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown", "addr", srv.Addr, "err", err)
		}
	}
}
