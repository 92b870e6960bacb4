// Package proxy relays document-analysis requests to the upstream service.
// Request bodies are streamed through unchanged and the upstream status,
// headers and body are written back as received.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/httputil"
	"github.com/platinummonkey/docmeter/pkg/observability"
)

// Endpoint is one relayed route
type Endpoint struct {
	Name string
	// Unavailable is the client message when the upstream cannot be reached
	Unavailable string
}

// Path is the route both locally and upstream
func (e Endpoint) Path() string {
	return "/" + e.Name
}

// Endpoints lists every relayed route
var Endpoints = []Endpoint{
	{Name: "analyze", Unavailable: "Analysis service is unreachable."},
	{Name: "compare", Unavailable: "Compare service is unreachable."},
	{Name: "compare_llm", Unavailable: "LLM compare service is unreachable."},
	{Name: "compare_llm_diff", Unavailable: "LLM diff service is unreachable."},
	{Name: "hash", Unavailable: "Hash service is unreachable."},
	{Name: "qa", Unavailable: "QA service is unreachable."},
}

// hop-by-hop headers are connection scoped and never relayed
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Proxy forwards requests to the upstream base URL
type Proxy struct {
	base    string
	client  *http.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a Proxy for cfg.BaseURL
func New(cfg config.UpstreamConfig, logger *observability.Logger, metrics *observability.Metrics) (*Proxy, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream base URL %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}

	return &Proxy{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: observability.InstrumentedTransport(http.DefaultTransport),
		},
		logger:  logger.WithField("component", "proxy"),
		metrics: metrics,
	}, nil
}

// Register mounts every endpoint on router as POST, wrapped in mw
func (p *Proxy) Register(router *mux.Router, mw ...mux.MiddlewareFunc) {
	for _, e := range Endpoints {
		var h http.Handler = p.Handler(e)
		for i := len(mw) - 1; i >= 0; i-- {
			h = mw[i](h)
		}
		router.Handle(e.Path(), h).Methods(http.MethodPost)
	}
}

// Handler relays requests for one endpoint
func (p *Proxy) Handler(e Endpoint) http.Handler {
	target := p.base + e.Path()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, r.Body)
		if err != nil {
			httputil.WriteAppError(w, r, apperr.Internal(err))
			return
		}
		req.ContentLength = r.ContentLength
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := p.client.Do(req)
		if err != nil {
			p.metrics.UpstreamErrorsTotal.WithLabelValues(e.Name).Inc()
			p.metrics.UpstreamRequestDuration.WithLabelValues(e.Name, "error").Observe(time.Since(start).Seconds())
			httputil.WriteAppError(w, r, apperr.Upstream(e.Unavailable, err))
			return
		}
		defer resp.Body.Close()

		for k, vs := range resp.Header {
			if hopHeaders[http.CanonicalHeaderKey(k)] {
				continue
			}
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)

		if _, err := io.Copy(w, resp.Body); err != nil {
			p.logger.WithError(err).WithField("endpoint", e.Name).Warn("Upstream response copy interrupted")
		}
		p.metrics.UpstreamRequestDuration.
			WithLabelValues(e.Name, strconv.Itoa(resp.StatusCode)).
			Observe(time.Since(start).Seconds())
	})
}
