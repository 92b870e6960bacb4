package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/docmeter/pkg/async"
	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/observability"
)

// Handler processes one job
type Handler func(ctx context.Context, job *Job) error

// JobQueue is the queue surface a Worker consumes
type JobQueue interface {
	Fetch(ctx context.Context, name string) (*Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) error
	ExpireActive(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Worker polls the queue for registered job names and runs their
// handlers on a bounded worker pool
type Worker struct {
	queue   JobQueue
	cfg     config.JobsConfig
	lock    *RunLock
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewWorker creates a new Worker
func NewWorker(queue JobQueue, cfg config.JobsConfig, lock *RunLock, logger *observability.Logger, metrics *observability.Metrics) *Worker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &Worker{
		queue:    queue,
		cfg:      cfg,
		lock:     lock,
		logger:   logger.WithField("component", "job_worker"),
		metrics:  metrics,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job name
func (w *Worker) Register(name string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = h
}

func (w *Worker) names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w *Worker) handler(name string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[name]
	return h, ok
}

// Run polls until ctx is cancelled, then drains in-flight jobs
func (w *Worker) Run(ctx context.Context) error {
	pool := async.NewWorkerPool(ctx, w.logger, w.cfg.Workers, "job worker", w.cfg.JobTimeout)
	defer func() {
		if err := pool.Shutdown(w.cfg.JobTimeout); err != nil {
			w.logger.WithError(err).Warn("Job worker pool did not drain")
		}
	}()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.WithField("jobs", w.names()).Info("Job worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Job worker stopping")
			return nil
		case <-ticker.C:
			w.expire(ctx)
			if err := w.poll(ctx, pool.Submit); err != nil {
				w.logger.WithError(err).Warn("Job poll failed")
			}
		case err := <-pool.Errors():
			w.logger.WithError(err).Error("Job worker task failed")
		}
	}
}

func (w *Worker) expire(ctx context.Context) {
	if w.cfg.ExpireActiveJobs <= 0 {
		return
	}
	n, err := w.queue.ExpireActive(ctx, w.cfg.ExpireActiveJobs)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to expire stale jobs")
		return
	}
	if n > 0 {
		w.logger.WithField("count", n).Warn("Expired stale active jobs")
	}
}

// poll fetches at most one due job per registered name and submits it
func (w *Worker) poll(ctx context.Context, submit func(func(context.Context) error) error) error {
	for _, name := range w.names() {
		job, err := w.queue.Fetch(ctx, name)
		if err != nil {
			return err
		}
		if job == nil {
			continue
		}
		if err := submit(func(runCtx context.Context) error {
			return w.process(runCtx, job)
		}); err != nil {
			w.finish(ctx, job, fmt.Errorf("worker unavailable: %w", err))
			return err
		}
	}
	return nil
}

// process runs one job to completion and records its outcome
func (w *Worker) process(ctx context.Context, job *Job) error {
	h, ok := w.handler(job.Name)
	if !ok {
		err := fmt.Errorf("no handler registered for job %s", job.Name)
		w.finish(ctx, job, err)
		return err
	}

	logger := w.logger.WithFields(map[string]interface{}{"job": job.Name, "job_id": job.ID})

	release, ok, err := w.lock.Acquire(ctx, job.Name)
	if err != nil {
		logger.WithError(err).Warn("Run lock unavailable, running without it")
		release = func() {}
	} else if !ok {
		err := fmt.Errorf("job %s is already running elsewhere", job.Name)
		w.finish(ctx, job, err)
		return err
	}
	defer release()

	start := time.Now()
	runErr := h(ctx, job)
	w.metrics.ObserveJobRun(job.Name, time.Since(start), runErr)
	w.finish(ctx, job, runErr)

	if runErr != nil {
		logger.WithError(runErr).Error("Job failed")
		return runErr
	}
	logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Job completed")
	return nil
}

func (w *Worker) finish(ctx context.Context, job *Job, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var err error
	if runErr != nil {
		err = w.queue.Fail(ctx, job.ID, runErr)
	} else {
		err = w.queue.Complete(ctx, job.ID)
	}
	if err != nil {
		w.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to record job outcome")
	}
}
