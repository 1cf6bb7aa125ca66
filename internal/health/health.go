// Package health probes the pipeline's external collaborators. The
// scheduler runs one probe per scan cycle; a failed probe is logged as
// degraded state and never halts the pipeline.
package health

import (
	"context"
	"log/slog"
	"time"
)

// Status represents the health status of a component or of the aggregate.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the result of a single health check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// OverallHealth combines the results of all registered checks.
type OverallHealth struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Healthy reports whether every check passed.
func (o OverallHealth) Healthy() bool {
	return o.Status == StatusHealthy
}

// Checker defines a single health check.
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Prober runs a fixed set of checkers and logs failures.
type Prober struct {
	checkers []Checker
	logger   *slog.Logger
}

// NewProber creates a prober over the given checkers.
func NewProber(logger *slog.Logger, checkers ...Checker) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{checkers: checkers, logger: logger}
}

// Probe runs all checks sequentially. The aggregate is healthy only when
// every individual check is healthy; failures are logged here so callers
// only need the boolean.
func (p *Prober) Probe(ctx context.Context) OverallHealth {
	overall := OverallHealth{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(p.checkers)),
	}

	for _, checker := range p.checkers {
		result := checker.Check(ctx)
		overall.Checks[result.Name] = result

		if result.Status != StatusHealthy {
			overall.Status = StatusUnhealthy
			p.logger.Warn("health check failed",
				"check", result.Name,
				"message", result.Message,
				"error", result.Error,
				"duration", result.Duration)
		}
	}

	return overall
}
