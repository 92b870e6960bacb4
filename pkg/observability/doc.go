// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown for docmeter.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("event_type", "invoice.paid").Info("webhook processed")
//
// Request handlers use FromContext to pick up the request ID, user ID and
// active trace IDs set by the HTTP middleware.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.CreditSpendsTotal.WithLabelValues("success").Inc()
//
// # Shutdown
//
// ShutdownManager stops the HTTP server, then runs registered steps in order:
// scheduler, job workers, caches, database.
package observability
