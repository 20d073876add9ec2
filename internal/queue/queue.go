package queue

import (
	"context"
	"fmt"
)

// Publisher publishes poll messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg PollMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg PollMessage) error

// Consumer consumes poll messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// PollQueue is the work queue for telemetry fetches.
	PollQueue = "telemetry.poll"

	pollRoutingKey = "telemetry.poll"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the poll queue.
	queueMaxPriority int32 = 2
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.telemetry.poll.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// PriorityValue maps a poll reason to RabbitMQ message priority. Explicit
// refreshes jump ahead of scheduled polls.
func PriorityValue(reason PollReason) uint8 {
	switch reason {
	case PollReasonRefresh:
		return 2
	case PollReasonScheduled:
		return 1
	default:
		return 0
	}
}
