package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tpsmeter"

// RateSource is the read side of the shared monitor.
type RateSource interface {
	Rate() float64
	Len() int
	Window() time.Duration
}

// Metrics owns a private registry with the monitor gauges and proxy counters.
type Metrics struct {
	reg *prometheus.Registry

	requests *prometheus.CounterVec
	tokens   prometheus.Counter
	duration prometheus.Histogram
}

// New registers all collectors for src on a fresh registry.
func New(src RateSource) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxied_requests_total",
			Help:      "Requests forwarded upstream, by status class.",
		}, []string{"code"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_tokens_total",
			Help:      "Output tokens reported by completed upstream responses.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request start until the response body was fully read.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}

	window := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "window_seconds",
		Help:      "Configured averaging window of the throughput monitor.",
	})
	window.Set(src.Window().Seconds())

	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_tokens_per_second",
			Help:      "Output tokens per second averaged over the fixed window.",
		}, src.Rate),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_segments",
			Help:      "Completed requests currently held by the throughput monitor.",
		}, func() float64 { return float64(src.Len()) }),
		window,
		m.requests,
		m.tokens,
		m.duration,
	)
	return m
}

// ObserveRequest records one proxied request. tokens may be zero.
func (m *Metrics) ObserveRequest(status int, tokens uint64, took time.Duration) {
	m.requests.WithLabelValues(statusClass(status)).Inc()
	if tokens > 0 {
		m.tokens.Add(float64(tokens))
	}
	m.duration.Observe(took.Seconds())
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// statusClass maps 204 to "2xx" and 0 (upstream unreachable) to "error".
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}
