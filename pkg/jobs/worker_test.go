package jobs

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/platinummonkey/docmeter/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryQueue struct {
	mu        sync.Mutex
	pending   map[string][]*Job
	completed []string
	failed    map[string]string
	expired   int
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{pending: map[string][]*Job{}, failed: map[string]string{}}
}

func (m *memoryQueue) add(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[job.Name] = append(m.pending[job.Name], job)
}

func (m *memoryQueue) Fetch(_ context.Context, name string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.pending[name]
	if len(jobs) == 0 {
		return nil, nil
	}
	m.pending[name] = jobs[1:]
	jobs[0].State = StateActive
	return jobs[0], nil
}

func (m *memoryQueue) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	return nil
}

func (m *memoryQueue) Fail(_ context.Context, id string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = cause.Error()
	return nil
}

func (m *memoryQueue) ExpireActive(context.Context, time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired++
	return 0, nil
}

// runInline executes submitted tasks on the calling goroutine
func runInline(ctx context.Context) func(func(context.Context) error) error {
	return func(fn func(context.Context) error) error {
		fn(ctx)
		return nil
	}
}

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{
		PollInterval:     10 * time.Millisecond,
		Workers:          1,
		JobTimeout:       time.Second,
		ExpireActiveJobs: time.Minute,
	}
}

func TestWorker_CompletesAndFails(t *testing.T) {
	q := newMemoryQueue()
	q.add(&Job{ID: "ok", Name: "good"})
	q.add(&Job{ID: "bad", Name: "broken"})

	w := NewWorker(q, testJobsConfig(), nil, nil, nil)
	var ran []string
	w.Register("good", func(_ context.Context, job *Job) error {
		ran = append(ran, job.ID)
		return nil
	})
	w.Register("broken", func(context.Context, *Job) error {
		return errors.New("upstream down")
	})

	ctx := context.Background()
	require.NoError(t, w.poll(ctx, runInline(ctx)))

	assert.Equal(t, []string{"ok"}, ran)
	assert.Equal(t, []string{"ok"}, q.completed)
	assert.Equal(t, map[string]string{"bad": "upstream down"}, q.failed)
}

func TestWorker_SubmitFailureFailsJob(t *testing.T) {
	q := newMemoryQueue()
	q.add(&Job{ID: "j1", Name: "good"})

	w := NewWorker(q, testJobsConfig(), nil, nil, nil)
	w.Register("good", func(context.Context, *Job) error { return nil })

	err := w.poll(context.Background(), func(func(context.Context) error) error {
		return errors.New("pool closed")
	})
	assert.Error(t, err)
	assert.Contains(t, q.failed["j1"], "pool closed")
}

func TestWorker_RunProcessesQueuedJobs(t *testing.T) {
	q := newMemoryQueue()
	q.add(&Job{ID: "j1", Name: DailyStatsJob})

	done := make(chan struct{})
	w := NewWorker(q, testJobsConfig(), nil, nil, nil)
	w.Register(DailyStatsJob, func(context.Context, *Job) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
	cancel()
	require.NoError(t, <-result)

	assert.Equal(t, []string{"j1"}, q.completed)
	assert.Positive(t, q.expired)
}

func TestWorker_RunLockSkipsConcurrentRun(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	lock := NewRunLock(rdb, time.Minute, nil)
	release, ok, err := lock.Acquire(context.Background(), DailyStatsJob)
	require.NoError(t, err)
	require.True(t, ok)

	q := newMemoryQueue()
	q.add(&Job{ID: "j1", Name: DailyStatsJob})
	w := NewWorker(q, testJobsConfig(), lock, nil, nil)
	called := false
	w.Register(DailyStatsJob, func(context.Context, *Job) error {
		called = true
		return nil
	})

	ctx := context.Background()
	require.NoError(t, w.poll(ctx, runInline(ctx)))
	assert.False(t, called)
	assert.Contains(t, q.failed["j1"], "already running")

	release()
	assert.False(t, mr.Exists("docmeter:joblock:"+DailyStatsJob))
}

func TestRunLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	lock := NewRunLock(rdb, time.Minute, nil)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	// a lock whose TTL lapsed and was retaken is not released by the old holder
	mr.FastForward(2 * time.Minute)
	release2, ok, err := lock.Acquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	release()
	assert.True(t, mr.Exists("docmeter:joblock:a"))
	release2()
	assert.False(t, mr.Exists("docmeter:joblock:a"))

	var nilLock *RunLock
	release, ok, err = nilLock.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestRunLock_ReleaseErrorsAreLogged(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var buf bytes.Buffer
	lock := NewRunLock(rdb, time.Minute, observability.NewLogger(observability.InfoLevel, &buf))
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	mr.SetError("LOADING Redis is loading the dataset in memory")
	release()
	assert.Contains(t, buf.String(), "Failed to release run lock")
	assert.Contains(t, buf.String(), "docmeter:joblock:a")
	mr.SetError("")

	buf.Reset()
	release, ok, err = lock.Acquire(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Minute)
	release()
	assert.Contains(t, buf.String(), "Run lock expired before release")
}

type fakeRunner struct {
	err   error
	calls int
}

func (f *fakeRunner) Run(context.Context) (*stats.DailyStats, error) {
	f.calls++
	return &stats.DailyStats{}, f.err
}

func TestDailyStatsHandler(t *testing.T) {
	runner := &fakeRunner{}
	h := DailyStatsHandler(runner)
	require.NoError(t, h(context.Background(), &Job{Name: DailyStatsJob}))

	runner.err = errors.New("plausible down")
	assert.EqualError(t, h(context.Background(), &Job{Name: DailyStatsJob}), "plausible down")
	assert.Equal(t, 2, runner.calls)
}
