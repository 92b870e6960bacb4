package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/platinummonkey/docmeter/pkg/apperr"
)

const dailyStatsColumns = `id, date, total_views, prev_day_views_change_percent, user_count,
	paid_user_count, user_delta, paid_user_delta, total_revenue, total_profit`

// Store persists daily stats, page view sources and revenue cursors
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new Store
func NewStore(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// GetByDate returns the stats row of a day, or nil when there is none
func (s *Store) GetByDate(ctx context.Context, date time.Time) (*DailyStats, error) {
	var ds DailyStats
	err := s.db.GetContext(ctx, &ds, `SELECT `+dailyStatsColumns+` FROM daily_stats WHERE date = $1`, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	return &ds, nil
}

// UpsertDailyStats writes the row for ds.Date and returns its id
func (s *Store) UpsertDailyStats(ctx context.Context, ds *DailyStats) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO daily_stats (
			date, total_views, prev_day_views_change_percent, user_count,
			paid_user_count, user_delta, paid_user_delta, total_revenue
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (date) DO UPDATE SET
			total_views = EXCLUDED.total_views,
			prev_day_views_change_percent = EXCLUDED.prev_day_views_change_percent,
			user_count = EXCLUDED.user_count,
			paid_user_count = EXCLUDED.paid_user_count,
			user_delta = EXCLUDED.user_delta,
			paid_user_delta = EXCLUDED.paid_user_delta,
			total_revenue = EXCLUDED.total_revenue
		RETURNING id
	`, ds.Date, ds.TotalViews, ds.PrevDayViewsChangePercent, ds.UserCount,
		ds.PaidUserCount, ds.UserDelta, ds.PaidUserDelta, ds.TotalRevenue,
	).Scan(&id)
	if err != nil {
		return 0, apperr.FromDB(fmt.Errorf("failed to upsert daily stats: %w", err))
	}
	return id, nil
}

// UpsertSource writes the visitor count of a source for a day
func (s *Store) UpsertSource(ctx context.Context, date time.Time, src Source, dailyStatsID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_view_sources (date, name, visitors, daily_stats_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date, name) DO UPDATE SET visitors = EXCLUDED.visitors
	`, date, src.Name, src.Visitors, dailyStatsID)
	if err != nil {
		return apperr.FromDB(fmt.Errorf("failed to upsert page view source: %w", err))
	}
	return nil
}

// Latest returns the newest stats row with its sources, or nil when empty
func (s *Store) Latest(ctx context.Context) (*DailyStats, error) {
	var ds DailyStats
	err := s.db.GetContext(ctx, &ds, `SELECT `+dailyStatsColumns+` FROM daily_stats ORDER BY date DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest daily stats: %w", err)
	}

	ds.Sources = []PageViewSource{}
	err = s.db.SelectContext(ctx, &ds.Sources, `
		SELECT date, name, visitors, daily_stats_id
		FROM page_view_sources
		WHERE daily_stats_id = $1
		ORDER BY visitors DESC, name
	`, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get page view sources: %w", err)
	}
	return &ds, nil
}

// Recent returns up to n rows, newest first
func (s *Store) Recent(ctx context.Context, n int) ([]DailyStats, error) {
	rows := []DailyStats{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+dailyStatsColumns+` FROM daily_stats ORDER BY date DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily stats: %w", err)
	}
	return rows, nil
}

// Overview returns the latest row and the last seven days
func (s *Store) Overview(ctx context.Context) (*Overview, error) {
	latest, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	weekly, err := s.Recent(ctx, 7)
	if err != nil {
		return nil, err
	}
	return &Overview{DailyStats: latest, WeeklyStats: weekly}, nil
}

// GetRevenueCursor returns the cursor of a revenue source, or nil when the
// source has never been scanned
func (s *Store) GetRevenueCursor(ctx context.Context, source string) (*RevenueCursor, error) {
	var c RevenueCursor
	err := s.db.GetContext(ctx, &c,
		`SELECT source, window_end, total_cents FROM revenue_cursors WHERE source = $1`, source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get revenue cursor: %w", err)
	}
	return &c, nil
}

// SaveRevenueCursor writes the cursor of a revenue source
func (s *Store) SaveRevenueCursor(ctx context.Context, c RevenueCursor) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO revenue_cursors (source, window_end, total_cents, updated_at)
		VALUES (:source, :window_end, :total_cents, NOW())
		ON CONFLICT (source) DO UPDATE SET
			window_end = EXCLUDED.window_end,
			total_cents = EXCLUDED.total_cents,
			updated_at = EXCLUDED.updated_at
	`, c)
	if err != nil {
		return fmt.Errorf("failed to save revenue cursor: %w", err)
	}
	return nil
}
