package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/obsidianstack/tpsmeter/server/internal/alerts"
	"github.com/obsidianstack/tpsmeter/server/internal/checklog"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// RateSource is the throughput monitor. *tps.Shared satisfies it.
type RateSource interface {
	Now() time.Duration
	Window() time.Duration
	Rate() float64
	Len() int
	Reset()
}

// AlertSource lists alerts. *alerts.Engine satisfies it.
type AlertSource interface {
	Active() []*alerts.Alert
}

// CheckStore persists stream check results. *checklog.Store satisfies it.
type CheckStore interface {
	SaveLog(ctx context.Context, providerID, providerName, appType string, r checklog.Result) (int64, error)
	Latest(ctx context.Context, providerID, appType string) (*checklog.Result, error)
	History(ctx context.Context, providerID, appType string, limit int) ([]checklog.Result, error)
	Config(ctx context.Context) (checklog.Config, error)
	SaveConfig(ctx context.Context, cfg checklog.Config) error
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithAlerts serves alerts from src on /api/v1/alerts.
func WithAlerts(src AlertSource) Option {
	return func(h *Handler) { h.alerts = src }
}

// WithChecks enables the /api/v1/checks endpoints backed by st.
func WithChecks(st CheckStore) Option {
	return func(h *Handler) { h.checks = st }
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	src    RateSource
	alerts AlertSource
	checks CheckStore
	router *mux.Router
}

// New creates a Handler reading from src and registers all routes.
func New(src RateSource, opts ...Option) http.Handler {
	h := &Handler{src: src, router: mux.NewRouter()}
	for _, opt := range opts {
		opt(h)
	}

	r := h.router
	r.HandleFunc("/api/v1/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tps", h.rate).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tps/reset", h.reset).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/alerts", h.listAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/checks/config", h.checkConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/checks/config", h.saveCheckConfig).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/checks/{provider}/{app}", h.saveCheck).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/checks/{provider}/{app}/latest", h.latestCheck).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/checks/{provider}/{app}/history", h.checkHistory).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// BuildRate reads the current rate from src. The WebSocket hub pushes the
// same payload.
func BuildRate(src RateSource) RateResponse {
	warming := src.Now() < src.Window()
	resp := RateResponse{
		TokensPerSecond: src.Rate(),
		WindowSecs:      int(src.Window() / time.Second),
		Segments:        src.Len(),
		WarmingUp:       warming,
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	resp.Diagnostics = computeDiagnostics(resp)
	return resp
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		WindowSecs: int(h.src.Window() / time.Second),
		Segments:   h.src.Len(),
	}
	if h.alerts != nil {
		for _, a := range h.alerts.Active() {
			if a.State == "firing" {
				resp.AlertCount++
			}
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// rate returns GET /api/v1/tps.
func (h *Handler) rate(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, BuildRate(h.src))
}

// reset handles POST /api/v1/tps/reset.
func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.src.Reset()
	slog.Info("api: tps window reset", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = append(out, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// checkConfig returns GET /api/v1/checks/config.
func (h *Handler) checkConfig(w http.ResponseWriter, r *http.Request) {
	if !h.checksEnabled(w) {
		return
	}
	cfg, err := h.checks.Config(r.Context())
	if err != nil {
		internalErr(w, "load check config", err)
		return
	}
	jsonResp(w, http.StatusOK, cfg)
}

// saveCheckConfig handles PUT /api/v1/checks/config.
func (h *Handler) saveCheckConfig(w http.ResponseWriter, r *http.Request) {
	if !h.checksEnabled(w) {
		return
	}
	var cfg checklog.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.checks.SaveConfig(r.Context(), cfg); err != nil {
		if errors.Is(err, checklog.ErrInvalidConfig) {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		internalErr(w, "save check config", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// saveCheck handles POST /api/v1/checks/{provider}/{app}.
func (h *Handler) saveCheck(w http.ResponseWriter, r *http.Request) {
	if !h.checksEnabled(w) {
		return
	}
	vars := mux.Vars(r)
	provider, app := vars["provider"], vars["app"]

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProviderName == "" {
		req.ProviderName = provider
	}
	if req.TestedAt == 0 {
		req.TestedAt = time.Now().Unix()
	}

	id, err := h.checks.SaveLog(r.Context(), provider, req.ProviderName, app, req.Result)
	if err != nil {
		internalErr(w, "save check result", err)
		return
	}
	jsonResp(w, http.StatusCreated, CreatedResponse{ID: id})
}

// latestCheck returns GET /api/v1/checks/{provider}/{app}/latest.
func (h *Handler) latestCheck(w http.ResponseWriter, r *http.Request) {
	if !h.checksEnabled(w) {
		return
	}
	vars := mux.Vars(r)
	res, err := h.checks.Latest(r.Context(), vars["provider"], vars["app"])
	if err != nil {
		internalErr(w, "load latest check", err)
		return
	}
	if res == nil {
		jsonErr(w, http.StatusNotFound, "no check results")
		return
	}
	jsonResp(w, http.StatusOK, res)
}

// checkHistory returns GET /api/v1/checks/{provider}/{app}/history.
func (h *Handler) checkHistory(w http.ResponseWriter, r *http.Request) {
	if !h.checksEnabled(w) {
		return
	}
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	vars := mux.Vars(r)
	res, err := h.checks.History(r.Context(), vars["provider"], vars["app"], limit)
	if err != nil {
		internalErr(w, "load check history", err)
		return
	}
	if res == nil {
		res = []checklog.Result{}
	}
	jsonResp(w, http.StatusOK, res)
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) checksEnabled(w http.ResponseWriter) bool {
	if h.checks == nil {
		jsonErr(w, http.StatusServiceUnavailable, "check log storage is not configured")
		return false
	}
	return true
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func internalErr(w http.ResponseWriter, op string, err error) {
	slog.Error("api: "+op+" failed", "err", err)
	jsonErr(w, http.StatusInternalServerError, "internal error")
}
