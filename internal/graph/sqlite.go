package graph

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/filegraph/filegraph/internal/fileevent"
	"github.com/filegraph/filegraph/internal/metrics"
)

// Relational equivalent of the graph projection: files keyed by path plus a
// neighbor join table. Timestamps are stored as RFC3339 strings.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS files (
    path TEXT PRIMARY KEY,
    sha256 TEXT NOT NULL DEFAULT '',
    xxh128 TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    modified_time TEXT NOT NULL DEFAULT '',
    accessed_time TEXT NOT NULL DEFAULT '',
    changed_time TEXT NOT NULL DEFAULT '',
    discovered_time TEXT NOT NULL DEFAULT '',
    event_type TEXT NOT NULL DEFAULT '',
    placeholder INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS file_neighbors (
    file_path TEXT NOT NULL REFERENCES files(path),
    neighbor_path TEXT NOT NULL REFERENCES files(path),
    PRIMARY KEY (file_path, neighbor_path)
);

CREATE INDEX IF NOT EXISTS idx_files_sha256 ON files(sha256);
CREATE INDEX IF NOT EXISTS idx_neighbors_neighbor ON file_neighbors(neighbor_path);
`

const sqliteUpsertFile = `
INSERT INTO files (path, sha256, xxh128, size, modified_time, accessed_time,
                   changed_time, discovered_time, event_type, placeholder)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
ON CONFLICT(path) DO UPDATE SET
    sha256 = excluded.sha256,
    xxh128 = excluded.xxh128,
    size = excluded.size,
    modified_time = excluded.modified_time,
    accessed_time = excluded.accessed_time,
    changed_time = excluded.changed_time,
    discovered_time = excluded.discovered_time,
    event_type = excluded.event_type,
    placeholder = 0
`

const sqliteUpsertPlaceholder = `
INSERT INTO files (path, placeholder) VALUES (?, 1)
ON CONFLICT(path) DO NOTHING
`

const sqliteUpsertEdge = `
INSERT OR IGNORE INTO file_neighbors (file_path, neighbor_path) VALUES (?, ?)
`

// SqliteStore is the relational Store backend.
type SqliteStore struct {
	db *sqlx.DB
}

// NewSqliteStore migrates the schema and wraps db.
func NewSqliteStore(db *sqlx.DB) (*SqliteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("migrate graph schema: %w", err)
	}
	return &SqliteStore{db: db}, nil
}

// Apply runs the full upsert in one transaction: last-write-wins on the file
// row, insert-if-absent placeholder rows for neighbors, insert-or-ignore
// edges. Re-running the same event is a no-op beyond the row overwrite.
func (s *SqliteStore) Apply(ctx context.Context, ev *fileevent.FileEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifySqliteErr(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, sqliteUpsertFile,
		ev.Path, ev.SHA256, ev.XXH128, ev.Size,
		fmtTime(ev.ModifiedTime), fmtTime(ev.AccessedTime),
		fmtTime(ev.ChangedTime), fmtTime(ev.Discovered),
		string(ev.Kind),
	)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", ev.Path, classifySqliteErr(err))
	}

	for _, neighbor := range ev.Neighbors {
		if neighbor == ev.Path {
			continue
		}
		if _, err := tx.ExecContext(ctx, sqliteUpsertPlaceholder, neighbor); err != nil {
			return fmt.Errorf("upsert placeholder %s: %w", neighbor, classifySqliteErr(err))
		}
		if _, err := tx.ExecContext(ctx, sqliteUpsertEdge, ev.Path, neighbor); err != nil {
			return fmt.Errorf("upsert edge %s -> %s: %w", ev.Path, neighbor, classifySqliteErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classifySqliteErr(err)
	}
	metrics.StoreUpserts.Inc()
	return nil
}

type sqliteFileRow struct {
	Path        string `db:"path"`
	SHA256      string `db:"sha256"`
	XXH128      string `db:"xxh128"`
	Size        int64  `db:"size"`
	Modified    string `db:"modified_time"`
	Accessed    string `db:"accessed_time"`
	Changed     string `db:"changed_time"`
	Discovered  string `db:"discovered_time"`
	EventType   string `db:"event_type"`
	Placeholder bool   `db:"placeholder"`
}

func (s *SqliteStore) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	var row sqliteFileRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM files WHERE path = ?", path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySqliteErr(err)
	}

	return &FileRecord{
		Path:        row.Path,
		SHA256:      row.SHA256,
		XXH128:      row.XXH128,
		Size:        row.Size,
		Modified:    parseTime(row.Modified),
		Accessed:    parseTime(row.Accessed),
		Changed:     parseTime(row.Changed),
		Discovered:  parseTime(row.Discovered),
		EventType:   row.EventType,
		Placeholder: row.Placeholder,
	}, nil
}

func (s *SqliteStore) Neighbors(ctx context.Context, path string) ([]string, error) {
	neighbors := []string{}
	err := s.db.SelectContext(ctx, &neighbors,
		"SELECT neighbor_path FROM file_neighbors WHERE file_path = ? ORDER BY neighbor_path", path)
	if err != nil {
		return nil, classifySqliteErr(err)
	}
	return neighbors, nil
}

func (s *SqliteStore) Close(ctx context.Context) error {
	return s.db.Close()
}

// classifySqliteErr maps transient sqlite conditions onto ErrStoreUnavailable
// so callers requeue instead of dead-lettering.
func classifySqliteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	}
	return err
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
