package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublishNack reports a publish the broker refused to confirm. The
// message was not enqueued; callers retry or surface the failure.
var ErrPublishNack = errors.New("publish not confirmed by broker")

// Message is one outbound payload. The body is already encoded; the codec
// layer owns the wire format, this layer owns delivery semantics.
type Message struct {
	// ID carries the external message id or command requestId. Resends
	// after a failed publish reuse the same ID so consumers can dedupe.
	ID            string
	CorrelationID string
	Type          string
	Body          []byte
	Timestamp     time.Time
}

// Publish sends a message to a queue (or to the configured exchange with
// the queue name as routing key). Delivery is persistent and the channel
// runs in confirm mode: Publish returns nil only once the broker has
// acknowledged the message, and ErrPublishNack when it refuses it.
func (c *Client) Publish(ctx context.Context, queue string, msg Message) error {
	if msg.ID == "" {
		return fmt.Errorf("publish: message ID is required")
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = msg.ID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	ch, err := c.pool.Borrow(ctx, c.config.PoolRetryDelayMs)
	if err != nil {
		return fmt.Errorf("borrow channel: %w", err)
	}
	defer c.pool.Return(ch)

	// idempotent on a channel already in confirm mode
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("confirm mode: %w", err)
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, c.config.Exchange, queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          msg.Body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.ID,
		CorrelationId: msg.CorrelationID,
		Type:          msg.Type,
		Timestamp:     msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", queue, ctx.Err())
	case <-conf.Done():
		if !conf.Acked() {
			return fmt.Errorf("publish to %s: %w", queue, ErrPublishNack)
		}
	}
	return nil
}
