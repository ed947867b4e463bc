package ingest

import (
	"context"
	"log/slog"

	"github.com/filegraph/filegraph/internal/bus"
	"github.com/filegraph/filegraph/internal/metrics"
)

// Service assembles the ingestion pipeline: watcher -> fingerprint/prospect ->
// publisher, all sharing one broker connection. Run it once per watched root;
// two instances on the same root would double-publish.
type Service struct {
	cfg      *Config
	conn     *bus.Conn
	ingestor *Ingestor
}

func NewService(cfg *Config) *Service {
	conn := bus.New(cfg.AMQPUrl, bus.Topology{Exchange: cfg.Exchange})

	publisher := NewEventPublisher(
		NewFingerprinter(cfg.ChunkSize),
		NewProspector(ProspectorConfig{CompanionSuffixes: cfg.CompanionSuffixes}),
		bus.NewPublisher(conn),
	)
	watcher := NewDirectoryWatcher(cfg.Root)

	return &Service{
		cfg:      cfg,
		conn:     conn,
		ingestor: NewIngestor(cfg, watcher, publisher),
	}
}

func (s *Service) Run(ctx context.Context) error {
	slog.Info("ingestor start", "root", s.cfg.Root, "exchange", s.cfg.Exchange)
	metrics.Serve(ctx, s.cfg.MetricsAddr)

	err := s.ingestor.Run(ctx)

	if closeErr := s.conn.Close(); closeErr != nil {
		slog.Warn("bus close failed", "error", closeErr)
	}
	return err
}
