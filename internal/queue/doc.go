// Package queue provides the RabbitMQ client for the reminder pipeline.
//
// This package includes:
//   - Client: owns the single connection/channel, publishes persistent
//     messages and runs the single manually-acknowledged consumer
//   - ConnState: explicit Disconnected/Connecting/Connected state machine
//   - RetryPolicy: exponential backoff retry via re-publish with an
//     x-retry-count header, dead-lettering once attempts are exhausted
//   - topology declaration: durable main queue wired to a dead-letter
//     exchange and queue, declared idempotently on every (re)connect
//
// Broker errors never escape the client. Publish returns an Outcome
// (published or dropped) instead of an error; everything else is logged
// and absorbed so the pipeline keeps running in a degraded best-effort
// mode while the broker is unreachable.
package queue
