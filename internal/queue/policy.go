package queue

import (
	"time"
)

// HeaderRetryCount carries the processing attempt count across re-publishes.
// An absent header means the message has never failed.
const HeaderRetryCount = "x-retry-count"

// Verdict is the decision for a delivery after the handler has run.
type Verdict int

const (
	// VerdictAck acknowledges the delivery and removes it from the queue.
	VerdictAck Verdict = iota
	// VerdictRetry re-publishes the payload with an incremented retry count
	// after a backoff delay, then acknowledges the original delivery.
	VerdictRetry
	// VerdictDeadLetter rejects the delivery without requeue so the broker
	// routes it to the dead-letter queue.
	VerdictDeadLetter
)

func (v Verdict) String() string {
	switch v {
	case VerdictAck:
		return "ack"
	case VerdictRetry:
		return "retry"
	case VerdictDeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

// RetryPolicy decides the fate of failed deliveries and the delay before
// each re-publish. Delays grow as BaseDelay * 2^retryCount, so with the
// default 1s base the schedule is 1s, 2s, 4s.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the pipeline's documented behavior: three
// retries with exponential backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
	}
}

// Verdict returns the decision for a delivery given the handler result and
// the retry count extracted from the message headers.
func (p RetryPolicy) Verdict(handlerErr error, retryCount int) Verdict {
	if handlerErr == nil {
		return VerdictAck
	}
	if retryCount < p.MaxAttempts {
		return VerdictRetry
	}
	return VerdictDeadLetter
}

// Delay returns the backoff delay before re-publishing attempt retryCount+1.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if retryCount < 0 {
		retryCount = 0
	}
	// Shift overflow guard; delays this large are capped anyway.
	if retryCount > 30 {
		retryCount = 30
	}
	delay := base << uint(retryCount)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// publishAction is the decision for a failed publish attempt.
type publishAction int

const (
	// actionReconnect tears the connection down and retries the publish once
	// on a fresh connection.
	actionReconnect publishAction = iota
	// actionDrop logs the failure and absorbs it. Callers of Publish cannot
	// distinguish a dropped message from a delivered one except via logs and
	// IsConnected; that trade-off (availability over strict delivery) is
	// deliberate and must stay.
	actionDrop
)

// publishPolicy decides how publish failures are handled. A failed attempt
// gets exactly one reconnect-and-retry; anything after that is dropped.
type publishPolicy struct{}

func (publishPolicy) onError(attempt int) publishAction {
	if attempt == 0 {
		return actionReconnect
	}
	return actionDrop
}

// retryCountFrom extracts the retry count from message headers, defaulting
// to 0 when the header is absent. AMQP header tables decode numbers into a
// handful of integer widths depending on the publishing client.
func retryCountFrom(headers map[string]interface{}) int {
	v, ok := headers[HeaderRetryCount]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
