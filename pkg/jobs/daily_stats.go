package jobs

import (
	"context"

	"github.com/platinummonkey/docmeter/pkg/stats"
)

// DailyStatsJob is the queue name of the hourly stats aggregation
const DailyStatsJob = "dailyStatsJob"

// StatsRunner computes and stores one daily stats snapshot
type StatsRunner interface {
	Run(ctx context.Context) (*stats.DailyStats, error)
}

// DailyStatsHandler adapts a StatsRunner into a job handler
func DailyStatsHandler(runner StatsRunner) Handler {
	return func(ctx context.Context, _ *Job) error {
		_, err := runner.Run(ctx)
		return err
	}
}
