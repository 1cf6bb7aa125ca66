package queue

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names derived from the main queue name. With the default queue
// "task_reminders" these become task_reminders_dlx and task_reminders_dlq.
const (
	dlxSuffix = "_dlx"
	dlqSuffix = "_dlq"
)

// DeadLetterExchange returns the dead-letter exchange name for a queue.
func DeadLetterExchange(queueName string) string {
	return queueName + dlxSuffix
}

// DeadLetterQueue returns the dead-letter queue name for a queue.
func DeadLetterQueue(queueName string) string {
	return queueName + dlqSuffix
}

// mainQueueArgs returns the declaration arguments for the main queue. A
// rejected (nacked, requeue=false) message is routed by the broker through
// the DLX to the DLQ using the main queue name as routing key.
func mainQueueArgs(queueName string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange(queueName),
		"x-dead-letter-routing-key": queueName,
	}
}

// declareTopology declares the main queue, its dead-letter exchange and
// dead-letter queue on the given channel. All entities are durable and the
// declarations are idempotent, so this runs on every (re)connect and before
// every first publish or consume.
func declareTopology(ch *amqp.Channel, queueName string) error {
	dlx := DeadLetterExchange(queueName)
	dlq := DeadLetterQueue(queueName)

	if err := ch.ExchangeDeclare(
		dlx,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return &TopologyError{Component: "exchange", Name: dlx, Err: err, Timestamp: time.Now()}
	}

	if _, err := ch.QueueDeclare(
		dlq,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return &TopologyError{Component: "queue", Name: dlq, Err: err, Timestamp: time.Now()}
	}

	if err := ch.QueueBind(
		dlq,
		queueName, // routing key is the main queue name
		dlx,
		false, // no-wait
		nil,
	); err != nil {
		return &TopologyError{
			Component: "binding",
			Name:      fmt.Sprintf("%s->%s", dlx, dlq),
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		mainQueueArgs(queueName),
	); err != nil {
		return &TopologyError{Component: "queue", Name: queueName, Err: err, Timestamp: time.Now()}
	}

	return nil
}
