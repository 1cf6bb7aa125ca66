package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes the payload of a single delivery. A nil return
// acknowledges the message; an error triggers the retry policy.
type Handler func(ctx context.Context, body []byte) error

// Outcome is the result of a publish operation. Broker errors never
// propagate out of the client, so the silent-drop branch is an explicit
// value instead of an error.
type Outcome int

const (
	OutcomePublished Outcome = iota
	OutcomeDropped
)

func (o Outcome) String() string {
	if o == OutcomePublished {
		return "published"
	}
	return "dropped"
}

// Client owns the broker connection and channel, declares topology, and
// provides durable publish plus a single manually-acknowledged consumer
// with retry-with-backoff and dead-lettering.
//
// The client holds at most one live connection and one live channel;
// reconnect replaces both. The connection is created lazily by the first
// Publish or StartConsuming call.
type Client struct {
	url       string
	logger    *slog.Logger
	retry     RetryPolicy
	pubPolicy publishPolicy

	mu       sync.Mutex
	state    ConnState
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
	closed   bool

	consumerMu     sync.Mutex
	consumerTag    string
	consumerCancel context.CancelFunc
	consumerDone   chan struct{}
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryPolicy sets the delivery retry policy.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = policy
	}
}

// NewClient creates a client for the given AMQP URL. No connection is made
// until the first operation needs one.
func NewClient(url string, options ...ClientOption) *Client {
	c := &Client{
		url:      url,
		logger:   slog.Default(),
		retry:    DefaultRetryPolicy(),
		state:    StateDisconnected,
		declared: make(map[string]bool),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether both the connection and the channel are open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected &&
		c.conn != nil && !c.conn.IsClosed() &&
		c.channel != nil && !c.channel.IsClosed()
}

// Publish marshals payload as JSON and publishes it persistently to the
// named queue, declaring topology first if needed. If the connection is
// down one reconnect is attempted; if that fails the message is dropped
// and logged. Publish never returns an error.
func (c *Client) Publish(ctx context.Context, queueName string, payload any) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal payload, dropping message",
			"queue", queueName,
			"error", err)
		return OutcomeDropped
	}
	return c.publishBytes(ctx, queueName, body, nil)
}

// publishBytes publishes raw payload bytes with optional headers. Used by
// Publish and by the consumer's retry re-publish, which must carry the
// original bytes forward untouched.
func (c *Client) publishBytes(ctx context.Context, queueName string, body []byte, headers amqp.Table) Outcome {
	for attempt := 0; ; attempt++ {
		err := c.publishOnce(ctx, queueName, body, headers)
		if err == nil {
			return OutcomePublished
		}

		pubErr := &PublishError{Queue: queueName, Err: err, Timestamp: time.Now()}
		c.logger.Error("publish attempt failed",
			"queue", queueName,
			"attempt", attempt+1,
			"error", pubErr)

		if c.pubPolicy.onError(attempt) == actionDrop {
			c.logger.Warn("dropping message after failed reconnect", "queue", queueName)
			return OutcomeDropped
		}
		c.markDisconnected(err)
	}
}

// publishOnce performs a single publish attempt on the current channel.
func (c *Client) publishOnce(ctx context.Context, queueName string, body []byte, headers amqp.Table) error {
	ch, err := c.ensureConnected(ctx, queueName)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(
		ctx,
		"", // default exchange routes by queue name
		queueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
			Body:         body,
		},
	)
}

// StartConsuming declares topology and registers the single consumer for
// the named queue. Deliveries are handled on a background goroutine until
// ctx is cancelled or StopConsuming is called. Broker failures are logged
// and absorbed; a second call while a consumer is active is a no-op. A
// registration whose loop has already exited (broker closed the delivery
// channel) does not count as active, so the next call re-registers.
func (c *Client) StartConsuming(ctx context.Context, queueName string, handler Handler) {
	c.consumerMu.Lock()
	defer c.consumerMu.Unlock()

	if c.consumerCancel != nil {
		select {
		case <-c.consumerDone:
			// The previous loop is dead; clear it and fall through to
			// register a fresh consumer.
			c.clearConsumerLocked()
		default:
			c.logger.Warn("consumer already active, ignoring start",
				"queue", queueName,
				"error", ErrConsumerActive)
			return
		}
	}

	ch, err := c.ensureConnected(ctx, queueName)
	if err != nil {
		c.logger.Error("cannot start consuming",
			"queue", queueName,
			"error", &ConsumerError{Queue: queueName, Op: "connect", Err: err, Timestamp: time.Now()})
		return
	}

	tag := "remindq-" + uuid.New().String()[:8]
	deliveries, err := ch.Consume(
		queueName,
		tag,
		false, // auto-ack off: acknowledgment is decided per delivery
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		c.markDisconnected(err)
		c.logger.Error("cannot start consuming",
			"queue", queueName,
			"error", &ConsumerError{Queue: queueName, ConsumerTag: tag, Op: "consume", Err: err, Timestamp: time.Now()})
		return
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.consumerTag = tag
	c.consumerCancel = cancel
	c.consumerDone = done

	go c.consumeLoop(consumerCtx, queueName, deliveries, handler, done)

	c.logger.Info("consumer started", "queue", queueName, "consumerTag", tag)
}

// consumeLoop delivers messages to the handler until cancellation or until
// the broker closes the delivery channel.
func (c *Client) consumeLoop(ctx context.Context, queueName string, deliveries <-chan amqp.Delivery, handler Handler, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "queue", queueName)
			return

		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed by broker", "queue", queueName)
				// Tear the connection down so the next publish or consume
				// call re-dials instead of reusing a dead channel.
				c.markDisconnected(ErrConnectionClosed)
				return
			}
			c.handleDelivery(ctx, queueName, d, handler)
		}
	}
}

// handleDelivery runs the handler for one delivery and applies the retry
// policy verdict: ack on success, backoff + re-publish + ack on a retryable
// failure, nack without requeue (dead-letter) once attempts are exhausted.
func (c *Client) handleDelivery(ctx context.Context, queueName string, d amqp.Delivery, handler Handler) {
	retryCount := retryCountFrom(d.Headers)
	handlerErr := handler(ctx, d.Body)

	switch c.retry.Verdict(handlerErr, retryCount) {
	case VerdictAck:
		if err := d.Ack(false); err != nil {
			c.logger.Error("failed to ack delivery",
				"queue", queueName,
				"messageId", d.MessageId,
				"error", err)
		}

	case VerdictRetry:
		delay := c.retry.Delay(retryCount)
		c.logger.Warn("handler failed, scheduling retry",
			"queue", queueName,
			"messageId", d.MessageId,
			"retryCount", retryCount,
			"delay", delay,
			"error", handlerErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Shutting down mid-backoff: leave the delivery to the broker so
			// it is redelivered after restart.
			if err := d.Nack(false, true); err != nil {
				c.logger.Error("failed to requeue delivery on shutdown", "error", err)
			}
			return
		}

		// Re-publish the original bytes with the incremented count. This is
		// a logical retry: the new message has a fresh delivery identity and
		// joins the tail of the queue.
		headers := amqp.Table{HeaderRetryCount: int32(retryCount + 1)}
		if out := c.publishBytes(ctx, queueName, d.Body, headers); out == OutcomeDropped {
			c.logger.Error("retry re-publish dropped",
				"queue", queueName,
				"messageId", d.MessageId,
				"retryCount", retryCount+1)
		}
		if err := d.Ack(false); err != nil {
			c.logger.Error("failed to ack retried delivery",
				"queue", queueName,
				"messageId", d.MessageId,
				"error", err)
		}

	case VerdictDeadLetter:
		c.logger.Error("retry attempts exhausted, dead-lettering",
			"queue", queueName,
			"messageId", d.MessageId,
			"retryCount", retryCount,
			"error", handlerErr)
		if err := d.Nack(false, false); err != nil {
			c.logger.Error("failed to dead-letter delivery",
				"queue", queueName,
				"messageId", d.MessageId,
				"error", err)
		}
	}
}

// StopConsuming cancels the active consumer and waits for its loop to
// drain. Safe to call with no consumer active and safe to call twice.
func (c *Client) StopConsuming() {
	c.consumerMu.Lock()
	defer c.consumerMu.Unlock()

	if c.consumerCancel == nil {
		return
	}

	tag := c.consumerTag
	c.consumerCancel()
	<-c.consumerDone

	// Best effort: tell the broker to stop sending for this tag.
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch != nil && !ch.IsClosed() {
		if err := ch.Cancel(tag, false); err != nil {
			c.logger.Warn("failed to cancel consumer on broker", "consumerTag", tag, "error", err)
		}
	}

	c.clearConsumerLocked()
}

// clearConsumerLocked cancels and forgets the current consumer
// registration. Caller holds c.consumerMu.
func (c *Client) clearConsumerLocked() {
	if c.consumerCancel != nil {
		c.consumerCancel()
	}
	c.consumerTag = ""
	c.consumerCancel = nil
	c.consumerDone = nil
}

// Close stops the consumer and closes the channel and connection.
// Idempotent and never returns an error to crash on; failures are logged.
func (c *Client) Close() {
	c.StopConsuming()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.state = StateDisconnected

	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("error closing channel", "error", err)
		}
	}
	c.channel = nil

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("error closing connection", "error", err)
		}
	}
	c.conn = nil
	c.declared = make(map[string]bool)

	c.logger.Info("queue client closed")
}

// ensureConnected dials if necessary and returns a channel with topology
// declared for queueName. Topology is (re)declared once per queue per
// connection; declarations are idempotent on the broker side.
func (c *Client) ensureConnected(ctx context.Context, queueName string) (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	if c.state != StateConnected || c.conn == nil || c.conn.IsClosed() ||
		c.channel == nil || c.channel.IsClosed() {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	if !c.declared[queueName] {
		if err := declareTopology(c.channel, queueName); err != nil {
			return nil, err
		}
		c.declared[queueName] = true
	}

	return c.channel, nil
}

// connectLocked dials the broker and opens the channel. Caller holds c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.state = StateConnecting
	c.logger.Info("connecting to broker", "url", SanitizeURL(c.url))

	conn, err := amqp.Dial(c.url)
	if err != nil {
		c.state = StateDisconnected
		return &ConnectionError{Op: "dial", URL: SanitizeURL(c.url), Err: err, Timestamp: time.Now()}
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		c.state = StateDisconnected
		return &ConnectionError{Op: "open channel", URL: SanitizeURL(c.url), Err: err, Timestamp: time.Now()}
	}

	c.conn = conn
	c.channel = ch
	c.declared = make(map[string]bool)
	c.state = StateConnected

	// Watch for broker-initiated closes so state reflects reality. The next
	// operation re-dials; there is no background reconnect loop.
	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func(watched *amqp.Connection) {
		amqpErr, ok := <-closes
		if !ok {
			return // graceful close
		}
		c.mu.Lock()
		if c.conn == watched {
			c.state = StateDisconnected
			c.conn = nil
			c.channel = nil
			c.declared = make(map[string]bool)
		}
		c.mu.Unlock()
		c.logger.Error("broker connection lost", "error", amqpErr)
	}(conn)

	c.logger.Info("connected to broker", "url", SanitizeURL(c.url))
	return nil
}

// markDisconnected tears down the connection after an I/O error so the next
// operation re-dials.
func (c *Client) markDisconnected(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected {
		return
	}
	c.state = StateDisconnected

	if c.channel != nil && !c.channel.IsClosed() {
		c.channel.Close()
	}
	c.channel = nil

	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}
	c.conn = nil
	c.declared = make(map[string]bool)

	c.logger.Warn("marked disconnected", "cause", cause)
}
