package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubReporter struct {
	connected bool
}

func (s stubReporter) IsConnected() bool {
	return s.connected
}

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) error {
	return s.err
}

func TestBrokerChecker(t *testing.T) {
	t.Run("healthy when connected", func(t *testing.T) {
		checker := NewBrokerChecker(stubReporter{connected: true})

		result := checker.Check(context.Background())

		assert.Equal(t, "broker", result.Name)
		assert.Equal(t, StatusHealthy, result.Status)
	})

	t.Run("unhealthy when disconnected", func(t *testing.T) {
		checker := NewBrokerChecker(stubReporter{connected: false})

		result := checker.Check(context.Background())

		assert.Equal(t, StatusUnhealthy, result.Status)
	})
}

func TestDatabaseChecker(t *testing.T) {
	t.Run("healthy when ping succeeds", func(t *testing.T) {
		checker := NewDatabaseChecker(stubPinger{})

		result := checker.Check(context.Background())

		assert.Equal(t, "database", result.Name)
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Empty(t, result.Error)
	})

	t.Run("unhealthy when ping fails", func(t *testing.T) {
		checker := NewDatabaseChecker(stubPinger{err: errors.New("connection refused")})

		result := checker.Check(context.Background())

		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Contains(t, result.Error, "connection refused")
	})
}

func TestProber(t *testing.T) {
	t.Run("aggregate healthy only when every check passes", func(t *testing.T) {
		prober := NewProber(nil,
			NewBrokerChecker(stubReporter{connected: true}),
			NewDatabaseChecker(stubPinger{}))

		overall := prober.Probe(context.Background())

		assert.True(t, overall.Healthy())
		assert.Len(t, overall.Checks, 2)
	})

	t.Run("one failing check degrades the aggregate", func(t *testing.T) {
		prober := NewProber(nil,
			NewBrokerChecker(stubReporter{connected: false}),
			NewDatabaseChecker(stubPinger{}))

		overall := prober.Probe(context.Background())

		assert.False(t, overall.Healthy())
		assert.Equal(t, StatusUnhealthy, overall.Status)
		assert.Equal(t, StatusUnhealthy, overall.Checks["broker"].Status)
		assert.Equal(t, StatusHealthy, overall.Checks["database"].Status)
	})

	t.Run("no checkers means healthy", func(t *testing.T) {
		overall := NewProber(nil).Probe(context.Background())

		assert.True(t, overall.Healthy())
		assert.Empty(t, overall.Checks)
	})
}
