package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/docmeter/pkg/billing"
	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/jobs"
	"github.com/platinummonkey/docmeter/pkg/joblog"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/platinummonkey/docmeter/pkg/stats"
	"github.com/platinummonkey/docmeter/pkg/storage/postgres"
	"github.com/platinummonkey/docmeter/pkg/users"
	"github.com/robfig/cron/v3"
)

var (
	runOnce       = flag.Bool("once", false, "Compute today's stats once and exit")
	schedule      = flag.String("schedule", "", "Cron schedule for the daily stats run (default: DOCMETER_DAILY_STATS_CRON)")
	purgeSchedule = flag.String("purge-schedule", "30 3 * * *", "Cron schedule for purging finished jobs (empty disables)")
	purgeAfter    = flag.Duration("purge-after", 7*24*time.Hour, "Age after which completed and failed jobs are purged")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "docmeter-stats: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "docmeter-stats")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("docmeter-stats failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		MaxConns:    4,
		MinConns:    1,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return err
	}
	defer conns.Close()
	db := conns.Primary()

	rdb, err := postgres.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, running without the job lock")
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	aggregator := newAggregator(cfg, db, logger)
	lock := jobs.NewRunLock(rdb, cfg.Jobs.JobTimeout, logger)

	if *runOnce {
		return runStats(ctx, aggregator, lock, cfg.Jobs.JobTimeout, logger)
	}

	spec := *schedule
	if spec == "" {
		spec = cfg.Jobs.DailyStatsCron
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, func() {
		if err := runStats(ctx, aggregator, lock, cfg.Jobs.JobTimeout, logger); err != nil {
			logger.WithError(err).Error("Daily stats run failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule daily stats: %w", err)
	}

	if *purgeSchedule != "" {
		queue := jobs.NewQueue(db, nil)
		if _, err := c.AddFunc(*purgeSchedule, func() {
			purged, err := queue.PurgeFinished(ctx, time.Now().Add(-*purgeAfter))
			if err != nil {
				logger.WithError(err).Error("Failed to purge finished jobs")
				return
			}
			logger.WithField("purged", purged).Info("Purged finished jobs")
		}); err != nil {
			return fmt.Errorf("failed to schedule job purge: %w", err)
		}
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"schedule":       spec,
		"purge_schedule": *purgeSchedule,
	}).Info("docmeter-stats started")

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("Shutting down docmeter-stats")
	<-c.Stop().Done()
	return nil
}

func newAggregator(cfg *config.Config, db *sql.DB, logger *observability.Logger) *stats.Aggregator {
	store := stats.NewStore(db)
	charges := stats.NewStripeCharges(billing.NewStripeClient(cfg.Stripe, logger))
	revenue := stats.NewIncrementalRevenue(stats.StripeRevenueSourceName, charges, store, cfg.Jobs.RevenueSettleWindow)
	return stats.NewAggregator(store, users.NewPostgresStore(db), revenue, stats.NewPlausibleClient(cfg.Analytics), joblog.NewStore(db), logger)
}

// runStats computes today's stats unless another process holds the
// daily stats lock.
func runStats(ctx context.Context, aggregator *stats.Aggregator, lock *jobs.RunLock, timeout time.Duration, logger *observability.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	release, ok, err := lock.Acquire(ctx, jobs.DailyStatsJob)
	switch {
	case err != nil:
		logger.WithError(err).Warn("Run lock unavailable, running without it")
	case !ok:
		logger.Info("Daily stats already running elsewhere, skipping")
		return nil
	default:
		defer release()
	}

	start := time.Now()
	ds, err := aggregator.Run(ctx)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"date":     ds.Date.Format("2006-01-02"),
		"duration": time.Since(start).String(),
	}).Info("Daily stats run complete")
	return nil
}
