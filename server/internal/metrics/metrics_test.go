package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/tpsmeter/pkg/tps"
)

// scrape fetches the /metrics exposition and parses it into metric families.
func scrape(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	return mfs
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

func newShared(now *time.Duration) *tps.Shared {
	return tps.NewShared(tps.NewWithClock(5, tps.ClockFunc(func() time.Duration { return *now })))
}

func TestGauges_ReflectMonitor(t *testing.T) {
	now := 100 * time.Second
	src := newShared(&now)
	src.Record(100, now-10*time.Second, now)
	m := New(src)

	mfs := scrape(t, m)

	if got := sumFamily(mfs["tpsmeter_output_tokens_per_second"]); got != 10 {
		t.Errorf("output_tokens_per_second: got %v, want 10", got)
	}
	if got := sumFamily(mfs["tpsmeter_window_segments"]); got != 1 {
		t.Errorf("window_segments: got %v, want 1", got)
	}
	if got := sumFamily(mfs["tpsmeter_window_seconds"]); got != 5 {
		t.Errorf("window_seconds: got %v, want 5", got)
	}

	// Scraping past the window evicts and reports idle.
	now += 6 * time.Second
	mfs = scrape(t, m)
	if got := sumFamily(mfs["tpsmeter_output_tokens_per_second"]); got != 0 {
		t.Errorf("output_tokens_per_second after expiry: got %v, want 0", got)
	}
	if got := sumFamily(mfs["tpsmeter_window_segments"]); got != 0 {
		t.Errorf("window_segments after expiry: got %v, want 0", got)
	}
}

func TestObserveRequest(t *testing.T) {
	now := 100 * time.Second
	m := New(newShared(&now))

	m.ObserveRequest(200, 42, 2*time.Second)
	m.ObserveRequest(201, 8, time.Second)
	m.ObserveRequest(503, 0, 100*time.Millisecond)
	m.ObserveRequest(0, 0, 0)

	mfs := scrape(t, m)

	if got := sumFamily(mfs["tpsmeter_output_tokens_total"]); got != 50 {
		t.Errorf("output_tokens_total: got %v, want 50", got)
	}

	byCode := map[string]float64{}
	for _, metric := range mfs["tpsmeter_proxied_requests_total"].GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == "code" {
				byCode[lp.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	want := map[string]float64{"2xx": 2, "5xx": 1, "error": 1}
	for code, n := range want {
		if byCode[code] != n {
			t.Errorf("proxied_requests_total{code=%q}: got %v, want %v", code, byCode[code], n)
		}
	}

	hist := mfs["tpsmeter_request_duration_seconds"].GetMetric()
	if len(hist) != 1 || hist[0].GetHistogram().GetSampleCount() != 4 {
		t.Errorf("request_duration_seconds: want 4 samples, got %v", hist)
	}
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		0:   "error",
		99:  "error",
		200: "2xx",
		302: "3xx",
		429: "4xx",
		599: "5xx",
		600: "error",
	}
	for code, want := range tests {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestRegistry_AcceptsExtraCollectors(t *testing.T) {
	now := 100 * time.Second
	m := New(newShared(&now))

	extra := prometheus.NewCounter(prometheus.CounterOpts{Name: "extra_total", Help: "test"})
	m.Registry().MustRegister(extra)
	extra.Add(3)

	if got := sumFamily(scrape(t, m)["extra_total"]); got != 3 {
		t.Errorf("extra_total: got %v, want 3", got)
	}
}
