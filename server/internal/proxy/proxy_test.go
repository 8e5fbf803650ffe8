package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/obsidianstack/tpsmeter/pkg/tps"
)

// fakeRecorder advances its clock by one second on every Now call.
type fakeRecorder struct {
	mu    sync.Mutex
	now   time.Duration
	calls []recorded
}

type recorded struct {
	output     uint64
	start, end time.Duration
}

func (f *fakeRecorder) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += time.Second
	return f.now
}

func (f *fakeRecorder) Record(output uint64, start, end time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recorded{output, start, end})
}

func (f *fakeRecorder) recorded() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.calls...)
}

type fakeObserver struct {
	mu       sync.Mutex
	statuses []int
	tokens   uint64
}

func (o *fakeObserver) ObserveRequest(status int, tokens uint64, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
	o.tokens += tokens
}

func (o *fakeObserver) snapshot() ([]int, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.statuses...), o.tokens
}

// waitFor polls cond until it holds. The proxy may record after the client
// has already read a Content-Length body to the end.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startProxy(t *testing.T, upstream http.Handler, rec Recorder, obs Observer) *httptest.Server {
	t.Helper()
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	target, err := url.Parse(up.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	srv := httptest.NewServer(New(target, rec, obs))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(`{"stream":true}`))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestProxy_JSONUsage(t *testing.T) {
	rec := &fakeRecorder{}
	obs := &fakeObserver{}
	var gotPath string
	srv := startProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","usage":{"input_tokens":12,"output_tokens":321}}`) //nolint:errcheck
	}), rec, obs)

	code, body := post(t, srv, "/v1/messages")
	if code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	if !strings.Contains(body, `"output_tokens":321`) {
		t.Errorf("body not forwarded intact: %s", body)
	}
	if gotPath != "/v1/messages" {
		t.Errorf("upstream path: got %q", gotPath)
	}

	waitFor(t, "record", func() bool { return len(rec.recorded()) > 0 })
	calls := rec.recorded()
	if len(calls) != 1 {
		t.Fatalf("Record calls: got %d, want 1", len(calls))
	}
	if calls[0].output != 321 {
		t.Errorf("output: got %d, want 321", calls[0].output)
	}
	if calls[0].end <= calls[0].start {
		t.Errorf("end %v must be after start %v", calls[0].end, calls[0].start)
	}
	statuses, tokens := obs.snapshot()
	if len(statuses) != 1 || statuses[0] != 200 || tokens != 321 {
		t.Errorf("observer: got %v / %d", statuses, tokens)
	}
}

func TestProxy_SSEUsageTakesLargestCount(t *testing.T) {
	rec := &fakeRecorder{}
	srv := startProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		flusher := w.(http.Flusher)
		events := []string{
			"event: message_start\r\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"output_tokens\":1}}}\r\n\r\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"hi\"}}\n\n",
			"event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":87}}\n\n",
			"data: [DONE]\n\n",
		}
		for _, e := range events {
			// Split each event mid-line to exercise partial-line buffering.
			half := len(e) / 2
			io.WriteString(w, e[:half]) //nolint:errcheck
			flusher.Flush()
			io.WriteString(w, e[half:]) //nolint:errcheck
			flusher.Flush()
		}
	}), rec, nil)

	code, body := post(t, srv, "/v1/messages")
	if code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	if !strings.Contains(body, "[DONE]") {
		t.Errorf("stream not forwarded: %q", body)
	}
	waitFor(t, "record", func() bool { return len(rec.recorded()) > 0 })
	calls := rec.recorded()
	if len(calls) != 1 || calls[0].output != 87 {
		t.Fatalf("Record: got %+v, want one call with 87 tokens", calls)
	}
}

func TestProxy_OpenAIStreamWithoutTrailingNewline(t *testing.T) {
	rec := &fakeRecorder{}
	srv := startProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		stream := "data: {\"choices\":[]}\n\n" +
			"data: {\"choices\":[],\"usage\":{\"completion_tokens\":40}}"
		io.WriteString(w, stream) //nolint:errcheck
	}), rec, nil)

	post(t, srv, "/v1/chat/completions")
	waitFor(t, "record", func() bool { return len(rec.recorded()) > 0 })
	calls := rec.recorded()
	if len(calls) != 1 || calls[0].output != 40 {
		t.Fatalf("Record: got %+v, want 40 tokens", calls)
	}
}

func TestProxy_NoUsageRecordsZero(t *testing.T) {
	rec := &fakeRecorder{}
	srv := startProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "hello") //nolint:errcheck
	}), rec, nil)

	post(t, srv, "/health")
	waitFor(t, "record", func() bool { return len(rec.recorded()) > 0 })
	calls := rec.recorded()
	if len(calls) != 1 || calls[0].output != 0 {
		t.Fatalf("Record: got %+v, want one zero-token call", calls)
	}
}

func TestProxy_UpstreamDown(t *testing.T) {
	rec := &fakeRecorder{}
	obs := &fakeObserver{}

	up := httptest.NewServer(http.NotFoundHandler())
	target, _ := url.Parse(up.URL)
	up.Close() // nothing listens there any more

	srv := httptest.NewServer(New(target, rec, obs))
	defer srv.Close()

	code, body := post(t, srv, "/v1/messages")
	if code != http.StatusBadGateway {
		t.Errorf("status: got %d, want 502", code)
	}
	if !strings.Contains(body, "upstream unavailable") {
		t.Errorf("body: got %q", body)
	}
	if n := len(rec.recorded()); n != 0 {
		t.Errorf("Record calls: got %d, want 0", n)
	}
	if statuses, _ := obs.snapshot(); len(statuses) != 1 || statuses[0] != 0 {
		t.Errorf("observer statuses: got %v, want [0]", statuses)
	}
}

func TestProxy_FeedsMonitor(t *testing.T) {
	now := 100 * time.Second
	var mu sync.Mutex
	clock := tps.ClockFunc(func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		now += 500 * time.Millisecond
		return now
	})
	shared := tps.NewShared(tps.NewWithClock(5, clock))

	srv := startProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"usage":{"output_tokens":50}}`) //nolint:errcheck
	}), shared, nil)

	post(t, srv, "/v1/messages")
	waitFor(t, "monitor segment", func() bool { return shared.Len() > 0 })
	if shared.Len() != 1 {
		t.Fatalf("monitor segments: got %d, want 1", shared.Len())
	}
	// The whole 0.5s request lies inside the 5s window: 50 / 5 = 10.
	mu.Lock()
	q := now
	mu.Unlock()
	if got := shared.RateAt(q); got != 10 {
		t.Errorf("RateAt: got %v, want 10", got)
	}
}

func TestOutputTokens(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		want  uint64
		found bool
	}{
		{"anthropic", `{"usage":{"output_tokens":5}}`, 5, true},
		{"anthropic start", `{"message":{"usage":{"output_tokens":2}}}`, 2, true},
		{"openai chat", `{"usage":{"prompt_tokens":3,"completion_tokens":9}}`, 9, true},
		{"openai responses", `{"type":"response.completed","response":{"usage":{"output_tokens":11}}}`, 11, true},
		{"gemini", `{"usageMetadata":{"candidatesTokenCount":13}}`, 13, true},
		{"gemini array", `[{"usageMetadata":{"candidatesTokenCount":4}},{"usageMetadata":{"candidatesTokenCount":17}}]`, 17, true},
		{"no usage", `{"id":"x"}`, 0, false},
		{"done marker", `[DONE]`, 0, false},
		{"garbage", `{not json`, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, found := outputTokens([]byte(tc.doc))
			if got != tc.want || found != tc.found {
				t.Errorf("outputTokens = %d, %v; want %d, %v", got, found, tc.want, tc.found)
			}
		})
	}
}

func TestMeteredBody_OverflowSkipsParsing(t *testing.T) {
	big := `{"usage":{"output_tokens":7},"pad":"` + strings.Repeat("x", MaxBufferedBody) + `"}`
	var got uint64 = 99
	b := newMeteredBody(io.NopCloser(strings.NewReader(big)), false, func(n uint64) { got = n })

	n, err := io.Copy(io.Discard, b)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if n != int64(len(big)) {
		t.Errorf("forwarded %d bytes, want %d", n, len(big))
	}
	b.Close()
	if got != 0 {
		t.Errorf("tokens: got %d, want 0 for an oversized body", got)
	}
}

func TestMeteredBody_DoneOnce(t *testing.T) {
	calls := 0
	b := newMeteredBody(io.NopCloser(strings.NewReader(`{"usage":{"output_tokens":3}}`)), false,
		func(uint64) { calls++ })
	io.Copy(io.Discard, b) //nolint:errcheck
	b.Close()
	b.Close()
	if calls != 1 {
		t.Errorf("done calls: got %d, want 1", calls)
	}
}
