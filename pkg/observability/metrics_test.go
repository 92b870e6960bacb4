package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	metrics.WebhookEventsTotal.WithLabelValues("invoice.paid", "processed").Inc()
	metrics.CreditSpendsTotal.WithLabelValues("success").Inc()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "docmeter_webhook_events_total")
	assert.Contains(t, names, "docmeter_credit_spends_total")
}

func TestObserveJobRun(t *testing.T) {
	metrics := NewNopMetrics()

	metrics.ObserveJobRun("dailyStatsJob", time.Second, nil)
	metrics.ObserveJobRun("dailyStatsJob", time.Second, errors.New("boom"))
	metrics.ObserveJobRun("dailyStatsJob", time.Second, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues("dailyStatsJob", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues("dailyStatsJob", "failure")))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	metrics := NewNopMetrics()

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/api/admin/users/{id}/admin", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPut, "/api/admin/users/17/admin", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("PUT", "/api/admin/users/{id}/admin", "204"))
	assert.Equal(t, float64(1), count)
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.CreditsGrantedTotal.Add(10)

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "docmeter_credits_granted_total 10"))
}
