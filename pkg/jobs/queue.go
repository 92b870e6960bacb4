package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/platinummonkey/docmeter/pkg/observability"
)

// State is the lifecycle position of a job
type State string

const (
	StateCreated   State = "created"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one queued unit of work
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	SingletonKey string          `json:"singletonKey"`
	State        State           `json:"state"`
	Data         json.RawMessage `json:"data"`
	StartAfter   time.Time       `json:"startAfter"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// SendOptions control how a job is enqueued
type SendOptions struct {
	// SingletonKey makes Send a no-op when a job with the same name and key exists
	SingletonKey string
	StartAfter   time.Time
}

// Queue is a durable job queue on the jobs table. Delivery is at least
// once; at most one job per name is active at a time.
type Queue struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewQueue creates a new Queue
func NewQueue(db *sql.DB, metrics *observability.Metrics) *Queue {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Queue{db: db, metrics: metrics}
}

// Send enqueues a job. It returns the job id and whether a new row was
// created; a singleton key that already exists yields created == false.
func (q *Queue) Send(ctx context.Context, name string, data interface{}, opts SendOptions) (string, bool, error) {
	payload := []byte("{}")
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return "", false, fmt.Errorf("failed to marshal job data: %w", err)
		}
	}

	id := uuid.NewString()
	key := opts.SingletonKey
	if key == "" {
		key = id
	}
	startAfter := opts.StartAfter
	if startAfter.IsZero() {
		startAfter = time.Now()
	}

	var returned string
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, name, singleton_key, state, data, start_after)
		VALUES ($1, $2, $3, 'created', $4, $5)
		ON CONFLICT (name, singleton_key) DO NOTHING
		RETURNING id
	`, id, name, key, payload, startAfter).Scan(&returned)
	if errors.Is(err, sql.ErrNoRows) {
		q.metrics.JobsEnqueuedTotal.WithLabelValues(name, "duplicate").Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.metrics.JobsEnqueuedTotal.WithLabelValues(name, "created").Inc()
	return returned, true, nil
}

const pqUniqueViolation = "23505"

// Fetch activates the oldest due job of a name. It returns nil when no
// job is due or another job of the same name is already active.
func (q *Queue) Fetch(ctx context.Context, name string) (*Job, error) {
	var (
		job       Job
		state     string
		data      []byte
		startedAt sql.NullTime
	)
	err := q.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = 'active', started_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE name = $1 AND state = 'created' AND start_after <= NOW()
				AND NOT EXISTS (SELECT 1 FROM jobs a WHERE a.name = $1 AND a.state = 'active')
			ORDER BY start_after, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, name, singleton_key, state, data, start_after, started_at, created_at
	`, name).Scan(&job.ID, &job.Name, &job.SingletonKey, &state, &data, &job.StartAfter, &startedAt, &job.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		// lost the race for the single active slot
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	job.State = State(state)
	job.Data = json.RawMessage(data)
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	return &job, nil
}

// Complete marks an active job as completed
func (q *Queue) Complete(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'completed', completed_at = NOW()
		WHERE id = $1 AND state = 'active'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail marks an active job as failed. Failed jobs are not retried.
func (q *Queue) Fail(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'failed', completed_at = NOW(), error = $2
		WHERE id = $1 AND state = 'active'
	`, id, msg)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// ExpireActive fails jobs that have been active longer than maxAge, which
// frees the active slot held by a crashed worker
func (q *Queue) ExpireActive(ctx context.Context, maxAge time.Duration) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'failed', completed_at = NOW(), error = 'expired'
		WHERE state = 'active' AND started_at < $1
	`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to expire jobs: %w", err)
	}
	return result.RowsAffected()
}

// PurgeFinished deletes completed and failed jobs created before cutoff
func (q *Queue) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE state IN ('completed', 'failed') AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return result.RowsAffected()
}
