package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultClaimLease is how long a processing claim blocks redeliveries
// before a crashed attempt's claim can be taken over
const DefaultClaimLease = 5 * time.Minute

// ClaimState is the outcome of claiming a webhook event id
type ClaimState int

const (
	// ClaimAcquired means the caller owns the event and must Complete or Release it
	ClaimAcquired ClaimState = iota
	// ClaimProcessed means the event was already applied
	ClaimProcessed
	// ClaimInFlight means another delivery of the event is being applied
	ClaimInFlight
)

func (s ClaimState) String() string {
	switch s {
	case ClaimAcquired:
		return "acquired"
	case ClaimProcessed:
		return "processed"
	default:
		return "in_flight"
	}
}

// EventClaims records webhook event ids so redeliveries are skipped. A
// claim is "processing" until Complete marks it "done"; Release drops it.
type EventClaims interface {
	Claim(ctx context.Context, eventID, eventType string) (ClaimState, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

// PostgresEventClaims implements EventClaims on the processed_webhook_events table
type PostgresEventClaims struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

// NewPostgresEventClaims creates a new PostgresEventClaims with DefaultClaimLease
func NewPostgresEventClaims(db *sql.DB) *PostgresEventClaims {
	return &PostgresEventClaims{db: db, lease: DefaultClaimLease, now: time.Now}
}

// Claim inserts a processing claim for the event id. An existing
// processing claim older than the lease is taken over.
func (c *PostgresEventClaims) Claim(ctx context.Context, eventID, eventType string) (ClaimState, error) {
	now := c.now().UTC()

	var claimed string
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type, state, claimed_at)
		VALUES ($1, $2, 'processing', $3)
		ON CONFLICT (event_id) DO UPDATE
			SET state = 'processing', claimed_at = EXCLUDED.claimed_at
			WHERE processed_webhook_events.state = 'processing'
				AND processed_webhook_events.claimed_at < $4
		RETURNING event_id
	`, eventID, eventType, now, now.Add(-c.lease)).Scan(&claimed)
	if err == nil {
		return ClaimAcquired, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ClaimInFlight, fmt.Errorf("failed to claim webhook event: %w", err)
	}

	var state string
	err = c.db.QueryRowContext(ctx,
		`SELECT state FROM processed_webhook_events WHERE event_id = $1`, eventID).Scan(&state)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// released between the two statements; the processor will retry
		return ClaimInFlight, nil
	case err != nil:
		return ClaimInFlight, fmt.Errorf("failed to read webhook event claim: %w", err)
	case state == "done":
		return ClaimProcessed, nil
	default:
		return ClaimInFlight, nil
	}
}

// Complete marks a claimed event as applied
func (c *PostgresEventClaims) Complete(ctx context.Context, eventID string) error {
	if _, err := c.db.ExecContext(ctx, `
		UPDATE processed_webhook_events
		SET state = 'done', processed_at = NOW()
		WHERE event_id = $1
	`, eventID); err != nil {
		return fmt.Errorf("failed to complete webhook event: %w", err)
	}
	return nil
}

// Release deletes the claim of an event id
func (c *PostgresEventClaims) Release(ctx context.Context, eventID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM processed_webhook_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}
