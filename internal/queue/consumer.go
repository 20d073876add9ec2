package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// settlement is what the consumer tells the broker about a delivery.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume delivers poll messages to handler until ctx ends, reopening the
// channel with backoff when the broker drops it.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for ctx.Err() == nil {
		err := c.consumeChannel(ctx, queue, handler)
		if err == nil {
			wait = reconnectBackoff
			continue
		}
		if ctx.Err() != nil {
			break
		}

		c.logger.Warn("poll consumer interrupted",
			zap.String("queue", queue),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		wait = min(wait*2, maxBackoff)
	}

	return nil
}

func (c *RabbitMQConsumer) consumeChannel(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	tag := fmt.Sprintf("%s.%s", queue, uuid.NewString())
	deliveries, err := ch.ConsumeWithContext(ctx, queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodePollMessage(d.Body)
	if err != nil {
		c.logger.Warn("dead-lettering undecodable poll message",
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		return settle(d, settleDeadLetter)
	}

	outcome := settleAck
	if err := handler(ctx, msg); err != nil {
		outcome = settlementForFailure(d.Redelivered)
		c.logger.Warn("poll message handler failed",
			zap.String("notificationId", msg.NotificationID),
			zap.String("correlationId", msg.CorrelationID),
			zap.String("settlement", outcome.String()),
			zap.Error(err),
		)
	}

	return settle(d, outcome)
}

// settlementForFailure requeues a failed poll once; a second failure sends it
// to the dead-letter queue.
func settlementForFailure(redelivered bool) settlement {
	if redelivered {
		return settleDeadLetter
	}
	return settleRequeue
}

func decodePollMessage(body []byte) (PollMessage, error) {
	var msg PollMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return PollMessage{}, fmt.Errorf("invalid poll message json: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return PollMessage{}, fmt.Errorf("invalid poll message: %w", err)
	}
	return msg, nil
}

func settle(d amqp.Delivery, s settlement) error {
	var err error
	switch s {
	case settleAck:
		err = d.Ack(false)
	case settleRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", s, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
