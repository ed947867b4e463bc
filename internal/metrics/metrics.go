package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filegraph_events_published_total",
		Help: "FileEvents published and confirmed by the broker",
	})
	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filegraph_publish_failures_total",
		Help: "Publish attempts that failed or were nacked",
	})
	EventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filegraph_events_consumed_total",
		Help: "FileEvents consumed and acknowledged",
	})
	EventsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filegraph_events_dead_lettered_total",
		Help: "Messages routed to the dead-letter queue",
	})
	StoreUpserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filegraph_store_upserts_total",
		Help: "FileEvents applied to the store",
	})
	BusReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filegraph_bus_reconnects_total",
		Help: "Broker reconnect attempts",
	})
	FingerprintSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "filegraph_fingerprint_seconds",
		Help:    "Wall time spent fingerprinting a file",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

// Serve exposes /metrics and /healthz on addr until ctx is canceled.
// An empty addr disables the listener.
func Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("metrics listener start", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener failed", "error", err)
		}
	}()
}
