package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/filegraph/filegraph/internal/fileevent"
	"github.com/filegraph/filegraph/internal/metrics"
)

// BusPublisher publishes an encoded FileEvent and returns only after the
// broker has confirmed it.
type BusPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// EventPublisher runs the per-file pipeline: fingerprint, prospect neighbors,
// assemble the FileEvent, publish with broker confirmation.
type EventPublisher struct {
	fingerprinter *Fingerprinter
	prospector    *Prospector
	bus           BusPublisher
}

func NewEventPublisher(fp *Fingerprinter, pr *Prospector, bus BusPublisher) *EventPublisher {
	return &EventPublisher{
		fingerprinter: fp,
		prospector:    pr,
		bus:           bus,
	}
}

// Process ingests one watch event. A vanished file is dropped with a nil
// return (the next notification re-triggers it). ErrTruncatedRead propagates
// so the caller can requeue the path. Publish failures propagate as errors:
// no FileEvent is ever considered published without broker acknowledgment.
func (p *EventPublisher) Process(ctx context.Context, ev WatchEvent) error {
	fp, err := p.fingerprinter.Fingerprint(ev.Path)
	if err != nil {
		if errors.Is(err, ErrTruncatedRead) {
			return err
		}
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("file vanished before fingerprint", "path", ev.Path)
			return nil
		}
		return fmt.Errorf("fingerprint: %w", err)
	}

	neighbors, err := p.prospector.Prospect(ev.Path)
	if err != nil {
		// Neighbors are hints; a listing failure degrades to none.
		slog.Warn("neighbor prospect failed", "path", ev.Path, "error", err)
		neighbors = nil
	}

	fi, err := os.Stat(ev.Path)
	if err != nil {
		slog.Debug("file vanished before stat", "path", ev.Path)
		return nil
	}
	mtime, atime, ctime := statTimes(fi)

	event := &fileevent.FileEvent{
		Path:         ev.Path,
		Kind:         ev.Kind,
		SHA256:       fp.SHA256,
		XXH128:       fp.XXH128,
		Size:         fp.Size,
		ModifiedTime: mtime,
		AccessedTime: atime,
		ChangedTime:  ctime,
		Discovered:   time.Now().UTC(),
		Neighbors:    neighbors,
	}

	body, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := p.bus.Publish(ctx, body); err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("publish %s: %w", ev.Path, err)
	}

	metrics.EventsPublished.Inc()
	slog.Info("event published", "path", ev.Path, "kind", ev.Kind, "size", fp.Size, "neighbors", len(neighbors))
	return nil
}
