// Package scheduler runs the overdue scan loop: once per interval it asks
// the task repository for overdue items and publishes one reminder per item.
// The consumer is started once at startup and runs independently of the
// cycle phase; the two flows share only the queue client.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskhive/remindq/internal/health"
	"github.com/taskhive/remindq/internal/queue"
	"github.com/taskhive/remindq/internal/reminder"
	"github.com/taskhive/remindq/internal/task"
)

// QueueClient is the slice of the queue client the scheduler drives.
type QueueClient interface {
	Publish(ctx context.Context, queueName string, payload any) queue.Outcome
	StartConsuming(ctx context.Context, queueName string, handler queue.Handler)
	StopConsuming()
}

// HealthProber runs one health probe per scan cycle.
type HealthProber interface {
	Probe(ctx context.Context) health.OverallHealth
}

// Scheduler drives the reminder pipeline's timed scan loop.
type Scheduler struct {
	client    QueueClient
	tasks     task.OverdueReader
	handler   reminder.Handler
	prober    HealthProber
	queueName string
	interval  time.Duration
	cooldown  time.Duration
	logger    *slog.Logger
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithQueueName sets the queue the pipeline publishes to and consumes from.
func WithQueueName(name string) Option {
	return func(s *Scheduler) {
		s.queueName = name
	}
}

// WithInterval sets the time between scan cycles.
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

// WithCooldown sets the wait after a failed cycle before the next attempt.
func WithCooldown(cooldown time.Duration) Option {
	return func(s *Scheduler) {
		s.cooldown = cooldown
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler with the default five-minute interval and
// one-minute failure cooldown.
func New(client QueueClient, tasks task.OverdueReader, handler reminder.Handler, prober HealthProber, options ...Option) *Scheduler {
	s := &Scheduler{
		client:    client,
		tasks:     tasks,
		handler:   handler,
		prober:    prober,
		queueName: "task_reminders",
		interval:  5 * time.Minute,
		cooldown:  time.Minute,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Run executes the scan loop until ctx is cancelled. On startup it performs
// one health probe and starts the consumer exactly once; on cancellation it
// stops the consumer before returning. A failed cycle is logged and the loop
// continues after the cooldown; a single bad cycle never kills the pipeline.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler starting",
		"queue", s.queueName,
		"interval", s.interval)

	s.prober.Probe(ctx)
	s.client.StartConsuming(ctx, s.queueName, s.handler.Handle)
	defer s.client.StopConsuming()

	for cycle := 1; ; cycle++ {
		s.logger.Info("scan cycle starting", "cycle", cycle)

		wait := s.interval
		if err := s.scanOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("scan cycle failed, cooling down",
				"cycle", cycle,
				"cooldown", s.cooldown,
				"error", err)
			wait = s.cooldown
		}

		// The probe runs once per cycle regardless of the scan outcome; its
		// result is logged, never acted on.
		s.prober.Probe(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "cycles", cycle)
			return
		case <-time.After(wait):
		}
	}

	s.logger.Info("scheduler stopped")
}

// scanOnce queries overdue tasks and publishes one reminder per task,
// sequentially and unbatched. Tasks that stay overdue are re-announced on
// the next cycle; there is no cross-cycle de-duplication.
func (s *Scheduler) scanOnce(ctx context.Context) error {
	tasks, err := s.tasks.Overdue(ctx)
	if err != nil {
		return fmt.Errorf("overdue scan: %w", err)
	}

	s.logger.Info("overdue scan complete", "overdueTasks", len(tasks))

	for _, t := range tasks {
		msg := reminder.Message{
			TaskID:   t.ID,
			Title:    t.Title,
			DueDate:  t.DueDate.UTC(),
			FullName: t.FullName,
			Email:    t.Email,
		}
		if out := s.client.Publish(ctx, s.queueName, msg); out == queue.OutcomeDropped {
			s.logger.Warn("reminder dropped", "taskId", t.ID)
		}
	}

	return nil
}
