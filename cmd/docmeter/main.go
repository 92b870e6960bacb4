package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/platinummonkey/docmeter/pkg/api"
	"github.com/platinummonkey/docmeter/pkg/auth"
	"github.com/platinummonkey/docmeter/pkg/billing"
	"github.com/platinummonkey/docmeter/pkg/chatbot"
	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/credits"
	"github.com/platinummonkey/docmeter/pkg/email"
	"github.com/platinummonkey/docmeter/pkg/files"
	"github.com/platinummonkey/docmeter/pkg/jobs"
	"github.com/platinummonkey/docmeter/pkg/joblog"
	"github.com/platinummonkey/docmeter/pkg/middleware"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/platinummonkey/docmeter/pkg/proxy"
	"github.com/platinummonkey/docmeter/pkg/stats"
	"github.com/platinummonkey/docmeter/pkg/storage/postgres"
	"github.com/platinummonkey/docmeter/pkg/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "docmeter: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "docmeter")
	ctx := context.Background()

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize OpenTelemetry, continuing without tracing")
	}

	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return err
	}
	db := conns.Primary()

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			conns.Close()
			return err
		}
	}

	rdb, err := postgres.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, falling back to in-process rate limiting and job locks")
		rdb = nil
	}

	var registry *prometheus.Registry
	metrics := observability.NewNopMetrics()
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	userStore := users.NewPostgresStore(db)

	plans, err := billing.LoadRegistry(cfg.Stripe)
	if err != nil {
		return err
	}
	stripeAPI := billing.NewStripeClient(cfg.Stripe, logger)
	processor := billing.NewStripeProcessor(stripeAPI, cfg.Stripe.WebhookSecret, metrics)

	var notifier billing.RetentionNotifier = email.NewLogSender(logger)
	if cfg.SMTP.Enabled() {
		smtpSender, err := email.NewSMTPSender(cfg.SMTP)
		if err != nil {
			return err
		}
		notifier = smtpSender
	}

	var claims billing.EventClaims
	if cfg.Stripe.DedupWebhooks {
		claims = billing.NewPostgresEventClaims(db)
	}
	reconciler := billing.NewReconciler(userStore, plans, processor, notifier, logger, metrics)
	webhooks := billing.NewWebhookService(processor, reconciler, claims, metrics)
	checkout := billing.NewCheckoutService(processor, userStore, plans, cfg.Server.ClientURL, cfg.Stripe.CustomerPortalURL, metrics)

	sessions := auth.NewSessionStore(db, userStore, auth.DefaultSessionConfig(), metrics)

	var fileService api.FileService
	if cfg.S3.Enabled() {
		presigner, err := files.NewS3Presigner(ctx, cfg.S3)
		if err != nil {
			return err
		}
		fileService = files.NewService(presigner, files.NewStore(db), cfg.S3.URLExpiry, logger)
	}

	var chat api.ChatResponder
	if cfg.Chatbot.Enabled() {
		chat = chatbot.NewService(cfg.Chatbot, logger)
	}

	relay, err := proxy.New(cfg.Upstream, logger, metrics)
	if err != nil {
		return err
	}

	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	var proxyLimiter middleware.Limiter
	if cfg.Upstream.RateLimit > 0 {
		limitCfg := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Upstream.RateLimit,
			WindowDuration:    cfg.Upstream.RateWindow,
		}
		if rdb != nil {
			proxyLimiter = middleware.NewDistributedRateLimiter(rdb, limitCfg, "docmeter:ratelimit:proxy")
		} else {
			local := middleware.NewRateLimiter(limitCfg)
			local.StartCleanup(workCtx)
			proxyLimiter = local
		}
	}

	logs := joblog.NewStore(db)
	statsStore := stats.NewStore(db)
	revenue := stats.NewIncrementalRevenue(stats.StripeRevenueSourceName, stats.NewStripeCharges(stripeAPI), statsStore, cfg.Jobs.RevenueSettleWindow)
	aggregator := stats.NewAggregator(statsStore, userStore, revenue, stats.NewPlausibleClient(cfg.Analytics), logs, logger)

	health := observability.NewHealthChecker(db, rdb)

	server := api.NewServer(api.Config{
		Auth:           sessions,
		Sessions:       sessions,
		Checkout:       checkout,
		Webhooks:       webhooks,
		Credits:        credits.NewLedger(db, metrics),
		Users:          userStore,
		Stats:          stats.NewStore(conns.Replica()),
		Logs:           logs,
		Files:          fileService,
		Proxy:          relay,
		ProxyLimiter:   proxyLimiter,
		Chatbot:        chat,
		Health:         health,
		Registry:       registry,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)

	if cfg.Jobs.Enabled {
		queue := jobs.NewQueue(db, metrics)

		scheduler := jobs.NewScheduler(queue, logger)
		if err := scheduler.Schedule(jobs.DailyStatsJob, cfg.Jobs.DailyStatsCron, nil); err != nil {
			return err
		}

		worker := jobs.NewWorker(queue, cfg.Jobs, jobs.NewRunLock(rdb, cfg.Jobs.JobTimeout, logger), logger, metrics)
		worker.Register(jobs.DailyStatsJob, jobs.DailyStatsHandler(aggregator))

		workerDone := make(chan struct{})
		go func() {
			defer close(workerDone)
			defer observability.RecoverPanic(logger, "job worker")
			if err := worker.Run(workCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Job worker stopped")
			}
		}()
		scheduler.Start()

		shutdown.RegisterShutdownFunc("scheduler", scheduler.Stop)
		shutdown.RegisterShutdownFunc("worker", func(ctx context.Context) error {
			stopWork()
			select {
			case <-workerDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		logger.WithField("cron", cfg.Jobs.DailyStatsCron).Info("Daily stats job scheduled")
	}

	if rdb != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return rdb.Close() })
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return conns.Close() })
	if otel != nil {
		shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otel, logger)
		})
	}

	go func() {
		defer observability.RecoverPanic(logger, "http server")
		logger.WithField("addr", httpServer.Addr).Info("Starting docmeter server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			stopWork()
		}
	}()

	return shutdown.WaitForShutdown(workCtx)
}
