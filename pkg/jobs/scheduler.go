package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/robfig/cron/v3"
)

// Sender enqueues jobs
type Sender interface {
	Send(ctx context.Context, name string, data interface{}, opts SendOptions) (string, bool, error)
}

// Scheduler enqueues a job on every tick of its cron schedule. Ticks are
// keyed by minute so several processes sharing the queue enqueue one job.
type Scheduler struct {
	cron    *cron.Cron
	queue   Sender
	logger  *observability.Logger
	timeout time.Duration
}

// NewScheduler creates a new Scheduler running in UTC
func NewScheduler(queue Sender, logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		queue:   queue,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// Schedule registers a cron expression for a job name
func (s *Scheduler) Schedule(name, spec string, data interface{}) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.enqueue(name, data, time.Now())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.logger.WithFields(map[string]interface{}{
		"job":      name,
		"schedule": spec,
	}).Info("Job scheduled")
	return nil
}

func (s *Scheduler) enqueue(name string, data interface{}, tick time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	key := tick.UTC().Truncate(time.Minute).Format(time.RFC3339)
	id, created, err := s.queue.Send(ctx, name, data, SendOptions{SingletonKey: key})
	logger := s.logger.WithFields(map[string]interface{}{"job": name, "singleton_key": key})
	if err != nil {
		logger.WithError(err).Error("Failed to enqueue scheduled job")
		return
	}
	if !created {
		logger.Debug("Scheduled job already enqueued for this tick")
		return
	}
	logger.WithField("job_id", id).Info("Scheduled job enqueued")
}

// Start runs the cron loop in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for running enqueues
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
