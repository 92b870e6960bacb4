// Package stats aggregates the admin dashboard numbers.
//
// Aggregator.Run computes today's row (UTC midnight) from:
//
//   - user counts, with deltas against yesterday's row (or the full counts
//     when yesterday is missing)
//   - total revenue, scanned incrementally from Stripe charge balance
//     transactions and kept in revenue_cursors
//   - page views and referrers from Plausible
//
// and upserts daily_stats by date and page_view_sources by (date, name).
// It runs hourly from the dailyStatsJob in pkg/jobs; each run overwrites
// the current day's row.
package stats
