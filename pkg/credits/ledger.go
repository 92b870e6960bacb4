package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/observability"
)

// ErrInsufficientCredits is returned when the user has no credits left
var ErrInsufficientCredits = apperr.ErrInsufficientCredits

// Ledger meters actions against the credits counter on the user row
type Ledger struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewLedger creates a new Ledger
func NewLedger(db *sql.DB, metrics *observability.Metrics) *Ledger {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Ledger{db: db, metrics: metrics}
}

// Spend consumes one credit. The guard lives in the UPDATE itself so two
// concurrent spends of the last credit cannot both succeed; a balance of
// zero is rejected, never clamped.
func (l *Ledger) Spend(ctx context.Context, userID int64) error {
	result, err := l.db.ExecContext(ctx,
		`UPDATE users SET credits = credits - 1 WHERE id = $1 AND credits > 0`, userID)
	if err != nil {
		l.metrics.CreditSpendsTotal.WithLabelValues("error").Inc()
		return apperr.FromDB(fmt.Errorf("failed to spend credit: %w", err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		l.metrics.CreditSpendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		l.metrics.CreditSpendsTotal.WithLabelValues("insufficient").Inc()
		return ErrInsufficientCredits
	}

	l.metrics.CreditSpendsTotal.WithLabelValues("success").Inc()
	return nil
}

// Balance returns the current credit balance of a user
func (l *Ledger) Balance(ctx context.Context, userID int64) (int, error) {
	var credits int
	err := l.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get credit balance: %w", err)
	}
	return credits, nil
}
