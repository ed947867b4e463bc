package populate

import (
	"context"
	"log/slog"
	"time"

	"github.com/filegraph/filegraph/internal/bus"
	"github.com/filegraph/filegraph/internal/graph"
	"github.com/filegraph/filegraph/internal/metrics"
)

// Populator wires QueueConsumer -> GraphUpserter: one broker connection, one
// store, graceful drain on shutdown. Multiple populator processes may share
// the same queue; prefetch bounds each one's in-flight work.
type Populator struct {
	cfg      *Config
	conn     *bus.Conn
	store    graph.Store
	consumer *Consumer
}

func New(cfg *Config, store graph.Store) *Populator {
	conn := bus.New(cfg.AMQPUrl, bus.Topology{
		Exchange: cfg.Exchange,
		Queue:    cfg.Queue,
	})
	return &Populator{
		cfg:      cfg,
		conn:     conn,
		store:    store,
		consumer: NewConsumer(bus.NewConsumer(conn, cfg.Prefetch), store),
	}
}

// Run consumes until ctx cancels, then drains: the in-flight delivery is
// given the grace period to finish before the broker connection is
// force-closed. An unacked message at force-close is redelivered later, which
// the idempotent store absorbs.
func (p *Populator) Run(ctx context.Context) error {
	slog.Info("populator start", "exchange", p.cfg.Exchange, "queue", p.cfg.Queue, "store", p.cfg.Store)
	metrics.Serve(ctx, p.cfg.MetricsAddr)

	done := make(chan error, 1)
	go func() {
		done <- p.consumer.Run(ctx)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		slog.Info("populator draining", "grace", p.cfg.DrainGrace)
		select {
		case runErr = <-done:
		case <-time.After(p.cfg.DrainGrace):
			slog.Warn("drain grace exceeded, force closing bus")
		}
	}

	if err := p.conn.Close(); err != nil {
		slog.Warn("bus close failed", "error", err)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Close(closeCtx); err != nil {
		slog.Warn("store close failed", "error", err)
	}

	slog.Info("populator stopped")
	return runErr
}
