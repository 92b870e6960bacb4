package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing metrics
	WebhookEventsTotal      *prometheus.CounterVec
	CheckoutSessionsTotal   *prometheus.CounterVec
	CreditSpendsTotal       *prometheus.CounterVec
	CreditsGrantedTotal     prometheus.Counter
	RetentionEmailsTotal    *prometheus.CounterVec
	ProcessorRequestSeconds *prometheus.HistogramVec

	// Job metrics
	JobRunsTotal      *prometheus.CounterVec
	JobRunDuration    *prometheus.HistogramVec
	JobsEnqueuedTotal *prometheus.CounterVec

	// Proxy metrics
	UpstreamRequestDuration *prometheus.HistogramVec
	UpstreamErrorsTotal     *prometheus.CounterVec
	RateLimitedTotal        *prometheus.CounterVec

	// Cache metrics
	SessionCacheHitsTotal   prometheus.Counter
	SessionCacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeter_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docmeter_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeter_webhook_events_total",
				Help: "Payment processor webhook events by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		CheckoutSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeter_checkout_sessions_total",
				Help: "Checkout sessions created by plan and status",
			},
			[]string{"plan", "status"},
		),
		CreditSpendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeter_credit_spends_total",
				Help: "Credit spend attempts by outcome",
			},
			[]string{"outcome"},
		),
		CreditsGrantedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docmeter_credits_granted_total",
				Help: "Credits granted through one-time purchases",
			},
		),
		RetentionEmailsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeter_retention_emails_total",
				Help: "Retention emails sent on cancel-at-period-end by status",
			},
			[]string{"status"},
		),
		ProcessorRequestSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docmeter_processor_request_duration_seconds",
				Help:    "Payment processor API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),

		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeter_job_runs_total",
				Help: "Job runs by name and outcome",
			},
			[]string{"job", "outcome"},
		),
		JobRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docmeter_job_run_duration_seconds",
				Help:    "Job run duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"job"},
		),
		JobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeter_jobs_enqueued_total",
				Help: "Jobs enqueued by name and whether the slot was new",
			},
			[]string{"job", "result"},
		),

		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docmeter_upstream_request_duration_seconds",
				Help:    "Analysis service request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"endpoint", "status"},
		),
		UpstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeter_upstream_errors_total",
				Help: "Analysis service transport failures",
			},
			[]string{"endpoint"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeter_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),

		SessionCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docmeter_session_cache_hits_total",
				Help: "Session lookups served from cache",
			},
		),
		SessionCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docmeter_session_cache_misses_total",
				Help: "Session lookups that went to the database",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.WebhookEventsTotal,
			m.CheckoutSessionsTotal,
			m.CreditSpendsTotal,
			m.CreditsGrantedTotal,
			m.RetentionEmailsTotal,
			m.ProcessorRequestSeconds,
			m.JobRunsTotal,
			m.JobRunDuration,
			m.JobsEnqueuedTotal,
			m.UpstreamRequestDuration,
			m.UpstreamErrorsTotal,
			m.RateLimitedTotal,
			m.SessionCacheHitsTotal,
			m.SessionCacheMissesTotal,
		)
	}

	return m
}

// NewNopMetrics returns metrics that are not registered anywhere, for tests
// and tools that do not expose /metrics.
func NewNopMetrics() *Metrics {
	return NewMetrics(nil)
}

// ObserveJobRun records one job run
func (m *Metrics) ObserveJobRun(job string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.JobRunsTotal.WithLabelValues(job, outcome).Inc()
	m.JobRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// responseWriter captures the status code for metrics
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the mux path template so IDs in URLs do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
