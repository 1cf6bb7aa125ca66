package health

import (
	"context"
	"time"
)

// ConnectionReporter is the slice of the queue client the broker check needs.
type ConnectionReporter interface {
	IsConnected() bool
}

// BrokerChecker reports whether the queue client holds an open connection
// and channel. The client reconnects lazily, so "disconnected" here means
// degraded, not dead: the next publish or consume call re-dials.
type BrokerChecker struct {
	reporter ConnectionReporter
}

// NewBrokerChecker creates a broker connectivity checker.
func NewBrokerChecker(reporter ConnectionReporter) *BrokerChecker {
	return &BrokerChecker{reporter: reporter}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
	}

	if c.reporter.IsConnected() {
		result.Status = StatusHealthy
		result.Message = "broker connection is open"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "broker connection is down"
	}

	result.Duration = time.Since(start)
	return result
}

// Pinger is the slice of pgxpool.Pool the database check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker verifies database reachability with a ping.
type DatabaseChecker struct {
	db      Pinger
	timeout time.Duration
}

// NewDatabaseChecker creates a database checker with a per-probe timeout.
func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db, timeout: 5 * time.Second}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.db.Ping(pingCtx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "database ping failed"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "database is reachable"
	}

	result.Duration = time.Since(start)
	return result
}
