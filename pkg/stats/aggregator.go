package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/docmeter/pkg/joblog"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"golang.org/x/sync/errgroup"
)

// DailyStatsStore is the persistence the aggregator needs
type DailyStatsStore interface {
	GetByDate(ctx context.Context, date time.Time) (*DailyStats, error)
	UpsertDailyStats(ctx context.Context, ds *DailyStats) (int64, error)
	UpsertSource(ctx context.Context, date time.Time, src Source, dailyStatsID int64) error
}

// LogWriter records job failures
type LogWriter interface {
	Write(ctx context.Context, level joblog.Level, message string) error
}

// Aggregator recomputes today's DailyStats row
type Aggregator struct {
	store     DailyStatsStore
	users     UserCounter
	revenue   RevenueSource
	analytics AnalyticsSource
	logs      LogWriter
	logger    *observability.Logger
	now       func() time.Time
}

// NewAggregator creates a new Aggregator
func NewAggregator(store DailyStatsStore, users UserCounter, revenue RevenueSource, analytics AnalyticsSource, logs LogWriter, logger *observability.Logger) *Aggregator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Aggregator{
		store:     store,
		users:     users,
		revenue:   revenue,
		analytics: analytics,
		logs:      logs,
		logger:    logger,
		now:       time.Now,
	}
}

// Run computes and stores today's stats. A failure is written to the logs
// table and returned; the caller does not retry.
func (a *Aggregator) Run(ctx context.Context) (*DailyStats, error) {
	ds, err := a.calculate(ctx)
	if err != nil {
		a.logger.WithError(err).Error("Error calculating daily stats")
		if a.logs != nil {
			msg := fmt.Sprintf("Error calculating daily stats: %s", err.Error())
			if logErr := a.logs.Write(context.WithoutCancel(ctx), joblog.LevelJobError, msg); logErr != nil {
				a.logger.WithError(logErr).Error("Failed to record job error")
			}
		}
		return nil, err
	}

	a.logger.WithFields(map[string]interface{}{
		"date":            ds.Date.Format("2006-01-02"),
		"user_count":      ds.UserCount,
		"paid_user_count": ds.PaidUserCount,
		"total_revenue":   ds.TotalRevenue,
		"total_views":     ds.TotalViews,
		"sources":         len(ds.Sources),
	}).Info("Daily stats updated")
	return ds, nil
}

func (a *Aggregator) calculate(ctx context.Context) (*DailyStats, error) {
	today := a.now().UTC().Truncate(24 * time.Hour)
	yesterday := today.AddDate(0, 0, -1)

	ds := &DailyStats{Date: today}
	var previous *DailyStats
	var views PageViews
	var sources []Source

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		previous, err = a.store.GetByDate(gctx, yesterday)
		return err
	})
	g.Go(func() (err error) {
		ds.UserCount, err = a.users.CountUsers(gctx)
		return err
	})
	g.Go(func() (err error) {
		ds.PaidUserCount, err = a.users.CountPaidUsers(gctx)
		return err
	})
	g.Go(func() (err error) {
		ds.TotalRevenue, err = a.revenue.TotalRevenue(gctx)
		return err
	})
	g.Go(func() (err error) {
		views, err = a.analytics.DailyPageViews(gctx)
		return err
	})
	g.Go(func() (err error) {
		sources, err = a.analytics.Sources(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ds.UserDelta = ds.UserCount
	ds.PaidUserDelta = ds.PaidUserCount
	if previous != nil {
		ds.UserDelta -= previous.UserCount
		ds.PaidUserDelta -= previous.PaidUserCount
	}
	ds.TotalViews = views.TotalViews
	ds.PrevDayViewsChangePercent = views.PrevDayViewsChangePercent

	id, err := a.store.UpsertDailyStats(ctx, ds)
	if err != nil {
		return nil, err
	}
	ds.ID = id

	ds.Sources = make([]PageViewSource, 0, len(sources))
	for _, src := range sources {
		if err := a.store.UpsertSource(ctx, today, src, id); err != nil {
			return nil, err
		}
		ds.Sources = append(ds.Sources, PageViewSource{
			Date:         today,
			Name:         src.Name,
			Visitors:     src.Visitors,
			DailyStatsID: &id,
		})
	}
	return ds, nil
}
