package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/middleware"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProxy(t *testing.T, baseURL string, metrics *observability.Metrics) *mux.Router {
	t.Helper()
	p, err := New(config.UpstreamConfig{BaseURL: baseURL, Timeout: 2 * time.Second}, nil, metrics)
	require.NoError(t, err)
	router := mux.NewRouter()
	p.Register(router)
	return router
}

func TestProxy_RelaysRequestAndResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/compare_llm", r.URL.Path)
		assert.Equal(t, "multipart/form-data; boundary=xyz", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "--xyz\r\npayload", string(body))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream-Version", "3")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"similarity":0.91}`))
	}))
	defer upstream.Close()

	metrics := observability.NewNopMetrics()
	router := newTestProxy(t, upstream.URL+"/", metrics)

	req := httptest.NewRequest(http.MethodPost, "/compare_llm", bytes.NewBufferString("--xyz\r\npayload"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-Upstream-Version"))
	assert.JSONEq(t, `{"similarity":0.91}`, rec.Body.String())
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.UpstreamRequestDuration))
}

func TestProxy_RelaysUpstreamErrorsUnchanged(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("bad pdf"))
	}))
	defer upstream.Close()

	router := newTestProxy(t, upstream.URL, nil)
	req := httptest.NewRequest(http.MethodPost, "/hash", bytes.NewBufferString("x"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "bad pdf", rec.Body.String())
}

func TestProxy_UpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	base := upstream.URL
	upstream.Close()

	metrics := observability.NewNopMetrics()
	router := newTestProxy(t, base, metrics)

	for _, e := range Endpoints {
		t.Run(e.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, e.Path(), bytes.NewBufferString("{}"))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadGateway, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, e.Unavailable, body["error"])
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UpstreamErrorsTotal.WithLabelValues(e.Name)))
		})
	}
}

func TestProxy_OnlyPost(t *testing.T) {
	router := newTestProxy(t, "http://127.0.0.1:1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analyze", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProxy_RateLimited(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, err := New(config.UpstreamConfig{BaseURL: upstream.URL, Timeout: time.Second}, nil, nil)
	require.NoError(t, err)
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})
	router := mux.NewRouter()
	p.Register(router, middleware.NewRateLimitMiddleware(limiter, "proxy", nil).Handler)

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/qa", bytes.NewBufferString("{}"))
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(config.UpstreamConfig{BaseURL: "127.0.0.1:5001"}, nil, nil)
	assert.Error(t, err)
}
