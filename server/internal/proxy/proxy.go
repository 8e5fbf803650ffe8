package proxy

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// Recorder receives completed requests. *tps.Shared satisfies it.
type Recorder interface {
	Now() time.Duration
	Record(output uint64, start, end time.Duration)
}

// Observer is notified of every proxied request, including failed ones
// (status 0). *metrics.Metrics satisfies it.
type Observer interface {
	ObserveRequest(status int, tokens uint64, took time.Duration)
}

type startKey struct{}

// Proxy forwards requests to an upstream API and meters their output.
type Proxy struct {
	rp  *httputil.ReverseProxy
	rec Recorder
	obs Observer
}

// New returns a Proxy forwarding to target. obs may be nil.
func New(target *url.URL, rec Recorder, obs Observer) *Proxy {
	p := &Proxy{rec: rec, obs: obs}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			// Let the transport negotiate gzip and decompress it, so usage
			// blocks are readable in the body.
			pr.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: p.meter,
		ErrorHandler:   p.fail,
	}
	return p
}

// ServeHTTP stamps the request start on the monitor's clock and forwards it.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithValue(r.Context(), startKey{}, p.rec.Now())
	p.rp.ServeHTTP(w, r.WithContext(ctx))
}

// meter wraps the upstream body so the request is recorded once the
// client has received all of it.
func (p *Proxy) meter(resp *http.Response) error {
	// Upgraded connections need the raw read-write body.
	if resp.StatusCode == http.StatusSwitchingProtocols {
		return nil
	}
	start, _ := resp.Request.Context().Value(startKey{}).(time.Duration)
	status := resp.StatusCode
	path := resp.Request.URL.Path

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	sse := mediaType == "text/event-stream"

	resp.Body = newMeteredBody(resp.Body, sse, func(tokens uint64) {
		end := p.rec.Now()
		p.rec.Record(tokens, start, end)
		if p.obs != nil {
			p.obs.ObserveRequest(status, tokens, end-start)
		}
		slog.Debug("proxy: request completed",
			"path", path,
			"status", status,
			"stream", sse,
			"output_tokens", tokens,
			"took", end-start,
		)
	})
	return nil
}

// fail answers upstream transport errors with 502. Nothing is recorded.
func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, err error) {
	start, _ := r.Context().Value(startKey{}).(time.Duration)
	if p.obs != nil {
		p.obs.ObserveRequest(0, 0, p.rec.Now()-start)
	}
	slog.Warn("proxy: upstream request failed", "path", r.URL.Path, "err", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	w.Write([]byte(`{"error":"upstream unavailable"}` + "\n")) //nolint:errcheck
}
