package bus

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/filegraph/filegraph/internal/metrics"
)

// DefaultPrefetch bounds in-flight deliveries per consumer. Keeping it at 1
// lets additional consumer processes share the queue evenly.
const DefaultPrefetch = 1

// Consumer subscribes to the durable queue with manual acknowledgment.
// An unacked delivery is redelivered by the broker if this process dies,
// which is the at-least-once contract the store's idempotence absorbs.
type Consumer struct {
	conn     *Conn
	prefetch int
}

func NewConsumer(conn *Conn, prefetch int) *Consumer {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	return &Consumer{conn: conn, prefetch: prefetch}
}

// Consume subscribes and returns the delivery stream. The channel closes when
// the connection drops; call Consume again to resubscribe over a fresh
// connection.
func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(
		c.conn.topo.Queue,
		"",    // broker-assigned consumer tag
		false, // autoAck off, acks are explicit
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.conn.topo.Queue, err)
	}
	return deliveries, nil
}

// DeadLetter moves a poison message to the dead-letter queue and acks the
// original so it is never redelivered.
func (c *Consumer) DeadLetter(ctx context.Context, d amqp.Delivery, reason string) error {
	ch, err := c.conn.Channel(ctx)
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"", // default exchange routes by queue name
		c.conn.topo.DeadLetterQueue(),
		false,
		false,
		amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.MessageId,
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{"x-dead-letter-reason": reason},
			Body:         d.Body,
		})
	if err != nil {
		return fmt.Errorf("publish to dead-letter: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await dead-letter confirm: %w", err)
	}
	if !acked {
		return ErrPublishNacked
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("ack dead-lettered delivery: %w", err)
	}
	metrics.EventsDeadLettered.Inc()
	return nil
}
