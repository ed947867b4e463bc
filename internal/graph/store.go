package graph

import (
	"context"
	"errors"
	"time"

	"github.com/filegraph/filegraph/internal/fileevent"
)

var (
	// ErrStoreUnavailable marks a transient store failure; the message that
	// triggered the write should be redelivered, not dead-lettered.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned by reads for paths with no File node.
	ErrNotFound = errors.New("file not found")
)

// IsUnavailable reports whether err is a retryable store failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// FileRecord is the persistent projection of a file. Placeholder records are
// created when a path is first seen only as someone's neighbor; the record is
// enriched in place when the path's own event arrives.
type FileRecord struct {
	Path        string    `db:"path"`
	SHA256      string    `db:"sha256"`
	XXH128      string    `db:"xxh128"`
	Size        int64     `db:"size"`
	Modified    time.Time `db:"modified_time"`
	Accessed    time.Time `db:"accessed_time"`
	Changed     time.Time `db:"changed_time"`
	Discovered  time.Time `db:"discovered_time"`
	EventType   string    `db:"event_type"`
	Placeholder bool      `db:"placeholder"`
}

// Store projects FileEvents into a persistent graph. Apply is an upsert of
// upserts: the File node keyed by path (last write wins), a placeholder node
// per neighbor, and the NEIGHBOR edges, all effectively atomic per event and
// idempotent, so at-least-once redelivery converges to the same state. A
// Store never deletes nodes or edges.
type Store interface {
	Apply(ctx context.Context, ev *fileevent.FileEvent) error
	GetFile(ctx context.Context, path string) (*FileRecord, error)
	Neighbors(ctx context.Context, path string) ([]string, error)
	Close(ctx context.Context) error
}
