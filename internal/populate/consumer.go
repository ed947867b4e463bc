package populate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/filegraph/filegraph/internal/bus"
	"github.com/filegraph/filegraph/internal/fileevent"
	"github.com/filegraph/filegraph/internal/graph"
	"github.com/filegraph/filegraph/internal/metrics"
)

// redeliveryPause keeps an unreachable store from spinning a tight
// nack/redeliver loop.
const redeliveryPause = 500 * time.Millisecond

type busConsumer interface {
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
	DeadLetter(ctx context.Context, d amqp.Delivery, reason string) error
}

// Consumer pulls FileEvents off the durable queue and applies each to the
// store: ack on success, dead-letter on malformed, nack-and-requeue on
// anything transient. The store's idempotence makes redelivery safe.
type Consumer struct {
	bus   busConsumer
	store graph.Store
}

func NewConsumer(bus busConsumer, store graph.Store) *Consumer {
	return &Consumer{bus: bus, store: store}
}

// Run consumes until ctx cancels, resubscribing whenever the broker drops the
// delivery stream. In-flight handling finishes even after cancellation so a
// processed message is never left unacked on a clean drain.
func (c *Consumer) Run(ctx context.Context) error {
	handleCtx := context.WithoutCancel(ctx)

	for {
		deliveries, err := c.bus.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrDraining) {
				return nil
			}
			return err
		}
		slog.Info("consumer subscribed")

		if done := c.drain(ctx, handleCtx, deliveries); done {
			return nil
		}
		slog.Warn("delivery stream closed, resubscribing")
	}
}

// drain processes deliveries until the stream closes (false) or ctx cancels
// (true).
func (c *Consumer) drain(ctx, handleCtx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-deliveries:
			if !ok {
				return ctx.Err() != nil
			}
			c.Handle(handleCtx, d)
		}
	}
}

// Handle processes one delivery end to end.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	ev, err := fileevent.Decode(d.Body)
	if err != nil {
		slog.Warn("malformed message, dead-lettering", "message_id", d.MessageId, "error", err)
		if dlErr := c.bus.DeadLetter(ctx, d, err.Error()); dlErr != nil {
			slog.Error("dead-letter failed, requeueing", "message_id", d.MessageId, "error", dlErr)
			d.Nack(false, true)
		}
		return
	}

	if err := c.store.Apply(ctx, ev); err != nil {
		if graph.IsUnavailable(err) {
			slog.Warn("store unavailable, requeueing", "path", ev.Path, "error", err)
			sleepCtx(ctx, redeliveryPause)
		} else {
			slog.Error("store apply failed, requeueing", "path", ev.Path, "error", err)
		}
		d.Nack(false, true)
		return
	}

	if err := d.Ack(false); err != nil {
		// The broker will redeliver; the idempotent store absorbs it.
		slog.Warn("ack failed", "path", ev.Path, "error", err)
		return
	}
	metrics.EventsConsumed.Inc()
	slog.Info("event applied", "path", ev.Path, "kind", ev.Kind, "neighbors", len(ev.Neighbors))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
