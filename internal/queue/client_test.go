package queue

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// badURL fails URI parsing inside amqp.Dial, so connect attempts fail fast
// without touching the network.
const badURL = "not-an-amqp-url"

func TestNewClient(t *testing.T) {
	t.Run("creates with defaults", func(t *testing.T) {
		client := NewClient(badURL)

		assert.Equal(t, StateDisconnected, client.State())
		assert.False(t, client.IsConnected())
		assert.Equal(t, DefaultRetryPolicy(), client.retry)
		assert.NotNil(t, client.logger)
	})

	t.Run("applies options", func(t *testing.T) {
		logger := slog.Default()
		policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}

		client := NewClient(badURL, WithLogger(logger), WithRetryPolicy(policy))

		assert.Equal(t, logger, client.logger)
		assert.Equal(t, policy, client.retry)
	})
}

func TestPublishWhileDisconnected(t *testing.T) {
	t.Run("returns dropped without raising", func(t *testing.T) {
		client := NewClient(badURL)

		out := client.Publish(context.Background(), "task_reminders", map[string]int{"TaskId": 1})

		assert.Equal(t, OutcomeDropped, out)
		assert.Equal(t, StateDisconnected, client.State())
		assert.False(t, client.IsConnected())
	})

	t.Run("unmarshalable payload is dropped", func(t *testing.T) {
		client := NewClient(badURL)

		out := client.Publish(context.Background(), "task_reminders", make(chan int))

		assert.Equal(t, OutcomeDropped, out)
	})
}

func TestStartConsumingWhileDisconnected(t *testing.T) {
	t.Run("logs and absorbs the failure", func(t *testing.T) {
		client := NewClient(badURL)

		client.StartConsuming(context.Background(), "task_reminders", func(ctx context.Context, body []byte) error {
			return nil
		})

		assert.Nil(t, client.consumerCancel)
		client.StopConsuming() // still a no-op
	})
}

func TestRestartAfterDeliveryChannelClose(t *testing.T) {
	t.Run("dead consumer loop does not block re-registration", func(t *testing.T) {
		client := NewClient(badURL)

		// Register a consumer, then have the broker close its delivery
		// channel so the loop exits while the registration stays set.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		deliveries := make(chan amqp.Delivery)
		close(deliveries)
		done := make(chan struct{})
		client.consumerTag = "remindq-stale"
		client.consumerCancel = cancel
		client.consumerDone = done

		client.consumeLoop(ctx, "task_reminders", deliveries, func(ctx context.Context, body []byte) error {
			return nil
		}, done)

		// The next start call must clear the dead registration and attempt
		// a fresh connect instead of refusing as "already active".
		client.StartConsuming(context.Background(), "task_reminders", func(ctx context.Context, body []byte) error {
			return nil
		})

		assert.Nil(t, client.consumerCancel, "stale registration must be cleared")
		assert.Empty(t, client.consumerTag)
		assert.Equal(t, StateDisconnected, client.State())

		client.StopConsuming() // still idempotent afterwards
	})

	t.Run("live consumer still refuses a second start", func(t *testing.T) {
		client := NewClient(badURL)
		_, cancel := context.WithCancel(context.Background())
		defer cancel()
		client.consumerTag = "remindq-live"
		client.consumerCancel = cancel
		client.consumerDone = make(chan struct{})

		client.StartConsuming(context.Background(), "task_reminders", func(ctx context.Context, body []byte) error {
			return nil
		})

		assert.Equal(t, "remindq-live", client.consumerTag)
		assert.NotNil(t, client.consumerCancel)
	})
}

func TestStopConsuming(t *testing.T) {
	t.Run("idempotent with no active consumer", func(t *testing.T) {
		client := NewClient(badURL)

		client.StopConsuming()
		client.StopConsuming()
	})
}

func TestClose(t *testing.T) {
	t.Run("idempotent and never panics", func(t *testing.T) {
		client := NewClient(badURL)

		client.Close()
		client.Close()

		assert.Equal(t, StateDisconnected, client.State())
	})

	t.Run("publish after close is dropped", func(t *testing.T) {
		client := NewClient(badURL)
		client.Close()

		out := client.Publish(context.Background(), "task_reminders", "payload")

		assert.Equal(t, OutcomeDropped, out)
	})
}

func TestConnState(t *testing.T) {
	t.Run("string representation", func(t *testing.T) {
		assert.Equal(t, "disconnected", StateDisconnected.String())
		assert.Equal(t, "connecting", StateConnecting.String())
		assert.Equal(t, "connected", StateConnected.String())
	})
}

func TestOutcome(t *testing.T) {
	t.Run("string representation", func(t *testing.T) {
		assert.Equal(t, "published", OutcomePublished.String())
		assert.Equal(t, "dropped", OutcomeDropped.String())
	})
}

// mockAcknowledger stands in for the broker-side acknowledgment channel.
type mockAcknowledger struct {
	mock.Mock
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	args := m.Called(tag, multiple)
	return args.Error(0)
}

func (m *mockAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	args := m.Called(tag, multiple, requeue)
	return args.Error(0)
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	args := m.Called(tag, requeue)
	return args.Error(0)
}

func TestHandleDelivery(t *testing.T) {
	t.Run("handler success acks the delivery", func(t *testing.T) {
		client := NewClient(badURL)
		mockAck := &mockAcknowledger{}
		mockAck.On("Ack", uint64(0), false).Return(nil)
		delivery := amqp.Delivery{Acknowledger: mockAck, Body: []byte(`{}`)}

		invoked := false
		client.handleDelivery(context.Background(), "task_reminders", delivery, func(ctx context.Context, body []byte) error {
			invoked = true
			return nil
		})

		assert.True(t, invoked)
		mockAck.AssertExpectations(t)
	})

	t.Run("handler failure below max retries re-publishes and acks the original", func(t *testing.T) {
		client := NewClient(badURL, WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}))
		mockAck := &mockAcknowledger{}
		mockAck.On("Ack", uint64(0), false).Return(nil)
		delivery := amqp.Delivery{Acknowledger: mockAck, Body: []byte(`{}`)}

		// The re-publish itself is dropped (no broker); the original delivery
		// must still be acked so the broker-side copy is removed.
		client.handleDelivery(context.Background(), "task_reminders", delivery, func(ctx context.Context, body []byte) error {
			return errors.New("boom")
		})

		mockAck.AssertExpectations(t)
		mockAck.AssertNotCalled(t, "Nack", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("handler failure at max retries dead-letters without requeue", func(t *testing.T) {
		client := NewClient(badURL)
		mockAck := &mockAcknowledger{}
		mockAck.On("Nack", uint64(0), false, false).Return(nil)
		delivery := amqp.Delivery{
			Acknowledger: mockAck,
			Body:         []byte(`{}`),
			Headers:      amqp.Table{HeaderRetryCount: int32(3)},
		}

		client.handleDelivery(context.Background(), "task_reminders", delivery, func(ctx context.Context, body []byte) error {
			return errors.New("boom")
		})

		mockAck.AssertExpectations(t)
		mockAck.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
	})

	t.Run("cancellation during backoff requeues the delivery", func(t *testing.T) {
		client := NewClient(badURL, WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}))
		mockAck := &mockAcknowledger{}
		mockAck.On("Nack", uint64(0), false, true).Return(nil)
		delivery := amqp.Delivery{Acknowledger: mockAck, Body: []byte(`{}`)}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client.handleDelivery(ctx, "task_reminders", delivery, func(ctx context.Context, body []byte) error {
			return errors.New("boom")
		})

		mockAck.AssertExpectations(t)
	})
}

func TestConsumeLoop(t *testing.T) {
	t.Run("stops when the delivery channel closes", func(t *testing.T) {
		client := NewClient(badURL)
		deliveries := make(chan amqp.Delivery)
		done := make(chan struct{})
		close(deliveries)

		client.consumeLoop(context.Background(), "task_reminders", deliveries, func(ctx context.Context, body []byte) error {
			return nil
		}, done)

		select {
		case <-done:
		default:
			t.Fatal("done channel not closed")
		}
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		client := NewClient(badURL)
		deliveries := make(chan amqp.Delivery)
		done := make(chan struct{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client.consumeLoop(ctx, "task_reminders", deliveries, func(ctx context.Context, body []byte) error {
			return nil
		}, done)

		select {
		case <-done:
		default:
			t.Fatal("done channel not closed")
		}
	})

	t.Run("delivers messages in arrival order", func(t *testing.T) {
		client := NewClient(badURL)
		deliveries := make(chan amqp.Delivery, 2)
		done := make(chan struct{})

		mockAck := &mockAcknowledger{}
		mockAck.On("Ack", mock.Anything, false).Return(nil)
		deliveries <- amqp.Delivery{Acknowledger: mockAck, Body: []byte(`{"TaskId":1}`)}
		deliveries <- amqp.Delivery{Acknowledger: mockAck, Body: []byte(`{"TaskId":2}`)}
		close(deliveries)

		var seen []string
		client.consumeLoop(context.Background(), "task_reminders", deliveries, func(ctx context.Context, body []byte) error {
			seen = append(seen, string(body))
			return nil
		}, done)

		assert.Equal(t, []string{`{"TaskId":1}`, `{"TaskId":2}`}, seen)
		mockAck.AssertNumberOfCalls(t, "Ack", 2)
	})
}
