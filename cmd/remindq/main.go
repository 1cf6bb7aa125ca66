// Package main is the entry point for the overdue-task reminder pipeline:
// a scheduler that scans for overdue tasks and publishes one reminder per
// task to RabbitMQ, and a co-located consumer that processes those
// reminders with bounded retry and dead-lettering.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskhive/remindq/internal/config"
	"github.com/taskhive/remindq/internal/health"
	"github.com/taskhive/remindq/internal/queue"
	"github.com/taskhive/remindq/internal/reminder"
	"github.com/taskhive/remindq/internal/scheduler"
	"github.com/taskhive/remindq/internal/task"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := setupLogger(cfg.Log)
	logger.Info("configuration loaded",
		"queue", cfg.Queue.Name,
		"intervalMinutes", cfg.Scheduler.IntervalMinutes,
		"maxRetryAttempts", cfg.Queue.MaxRetryAttempts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	client := queue.NewClient(cfg.Broker.URL(),
		queue.WithLogger(logger),
		queue.WithRetryPolicy(queue.RetryPolicy{
			MaxAttempts: cfg.Queue.MaxRetryAttempts,
			BaseDelay:   time.Second,
			MaxDelay:    5 * time.Minute,
		}))
	defer client.Close()

	prober := health.NewProber(logger,
		health.NewBrokerChecker(client),
		health.NewDatabaseChecker(pool))

	sched := scheduler.New(
		client,
		task.NewRepository(pool),
		reminder.NewLogHandler(logger),
		prober,
		scheduler.WithQueueName(cfg.Queue.Name),
		scheduler.WithInterval(time.Duration(cfg.Scheduler.IntervalMinutes)*time.Minute),
		scheduler.WithLogger(logger))

	sched.Run(ctx)

	logger.Info("shutdown complete")
	return nil
}
