package jobs

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Send(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs(sqlmock.AnyArg(), DailyStatsJob, "2024-03-10T12:00:00Z", []byte("{}"), start).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-1"))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs(sqlmock.AnyArg(), DailyStatsJob, "2024-03-10T12:00:00Z", []byte("{}"), start).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	q := NewQueue(db, nil)
	opts := SendOptions{SingletonKey: "2024-03-10T12:00:00Z", StartAfter: start}

	id, created, err := q.Send(context.Background(), DailyStatsJob, nil, opts)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "job-1", id)

	id, created, err = q.Send(context.Background(), DailyStatsJob, nil, opts)
	require.NoError(t, err)
	assert.False(t, created, "same singleton key must not enqueue twice")
	assert.Empty(t, id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_SendWithoutKeyUsesJobID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs(sqlmock.AnyArg(), "report", sqlmock.AnyArg(), []byte(`{"day":"2024-03-10"}`), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-2"))

	_, created, err := NewQueue(db, nil).Send(context.Background(), "report", map[string]string{"day": "2024-03-10"}, SendOptions{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var jobCols = []string{"id", "name", "singleton_key", "state", "data", "start_after", "started_at", "created_at"}

func TestQueue_Fetch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 3, 10, 12, 0, 1, 0, time.UTC)
	mock.ExpectQuery("UPDATE jobs SET state = 'active'.*FOR UPDATE SKIP LOCKED").
		WithArgs(DailyStatsJob).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("job-1", DailyStatsJob, "k", "active", []byte("{}"), now, now, now))

	job, err := NewQueue(db, nil).Fetch(context.Background(), DailyStatsJob)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, StateActive, job.State)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, now, *job.StartedAt)
	assert.JSONEq(t, "{}", string(job.Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_FetchNothingDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE jobs SET state = 'active'").
		WithArgs(DailyStatsJob).
		WillReturnRows(sqlmock.NewRows(jobCols))
	mock.ExpectQuery("UPDATE jobs SET state = 'active'").
		WithArgs(DailyStatsJob).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint \"idx_jobs_one_active\""})
	mock.ExpectQuery("UPDATE jobs SET state = 'active'").
		WithArgs(DailyStatsJob).
		WillReturnError(errors.New("connection reset"))

	q := NewQueue(db, nil)

	job, err := q.Fetch(context.Background(), DailyStatsJob)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = q.Fetch(context.Background(), DailyStatsJob)
	require.NoError(t, err, "losing the active slot race is not an error")
	assert.Nil(t, job)

	_, err = q.Fetch(context.Background(), DailyStatsJob)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_CompleteFailExpire(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET state = 'completed'")).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET state = 'failed', completed_at = NOW(), error = $2")).
		WithArgs("job-2", "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("error = 'expired'")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	q := NewQueue(db, nil)
	require.NoError(t, q.Complete(context.Background(), "job-1"))
	require.NoError(t, q.Fail(context.Background(), "job-2", errors.New("boom")))

	n, err := q.ExpireActive(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
