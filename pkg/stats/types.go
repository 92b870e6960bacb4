package stats

import (
	"context"
	"time"
)

// DailyStats is the aggregate row for one UTC day
type DailyStats struct {
	ID                        int64            `json:"id" db:"id"`
	Date                      time.Time        `json:"date" db:"date"`
	TotalViews                int              `json:"totalViews" db:"total_views"`
	PrevDayViewsChangePercent string           `json:"prevDayViewsChangePercent" db:"prev_day_views_change_percent"`
	UserCount                 int              `json:"userCount" db:"user_count"`
	PaidUserCount             int              `json:"paidUserCount" db:"paid_user_count"`
	UserDelta                 int              `json:"userDelta" db:"user_delta"`
	PaidUserDelta             int              `json:"paidUserDelta" db:"paid_user_delta"`
	TotalRevenue              float64          `json:"totalRevenue" db:"total_revenue"`
	TotalProfit               float64          `json:"totalProfit" db:"total_profit"`
	Sources                   []PageViewSource `json:"sources" db:"-"`
}

// PageViewSource is the visitor count of one referrer on one day
type PageViewSource struct {
	Date         time.Time `json:"date" db:"date"`
	Name         string    `json:"name" db:"name"`
	Visitors     int       `json:"visitors" db:"visitors"`
	DailyStatsID *int64    `json:"dailyStatsId" db:"daily_stats_id"`
}

// Overview is the admin dashboard payload
type Overview struct {
	DailyStats  *DailyStats  `json:"dailyStats"`
	WeeklyStats []DailyStats `json:"weeklyStats"`
}

// PageViews is the analytics summary for today's row
type PageViews struct {
	TotalViews                int
	PrevDayViewsChangePercent string
}

// Source is one referrer from the analytics breakdown
type Source struct {
	Name     string
	Visitors int
}

// AnalyticsSource reads page view data from the web analytics provider
type AnalyticsSource interface {
	DailyPageViews(ctx context.Context) (PageViews, error)
	Sources(ctx context.Context) ([]Source, error)
}

// RevenueSource reports total revenue in major currency units
type RevenueSource interface {
	TotalRevenue(ctx context.Context) (float64, error)
}

// UserCounter counts users for the aggregate
type UserCounter interface {
	CountUsers(ctx context.Context) (int, error)
	CountPaidUsers(ctx context.Context) (int, error)
}

// RevenueCursor is the progress of an incremental revenue scan: every
// charge created before WindowEnd is included in TotalCents.
type RevenueCursor struct {
	Source     string    `db:"source"`
	WindowEnd  time.Time `db:"window_end"`
	TotalCents int64     `db:"total_cents"`
}

// CursorStore persists revenue cursors
type CursorStore interface {
	GetRevenueCursor(ctx context.Context, source string) (*RevenueCursor, error)
	SaveRevenueCursor(ctx context.Context, cursor RevenueCursor) error
}
