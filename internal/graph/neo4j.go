package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/filegraph/filegraph/internal/fileevent"
	"github.com/filegraph/filegraph/internal/metrics"
)

const cypherUpsertFile = `
MERGE (f:File {path: $path})
SET f.sha256 = $sha256,
    f.xxh128 = $xxh128,
    f.size = $size,
    f.modified_time = $modified,
    f.accessed_time = $accessed,
    f.changed_time = $changed,
    f.discovered_time = $discovered,
    f.event_type = $event_type,
    f.placeholder = false
`

const cypherUpsertNeighbor = `
MATCH (f:File {path: $path})
MERGE (n:File {path: $neighbor})
ON CREATE SET n.placeholder = true
MERGE (f)-[:NEIGHBOR]->(n)
`

const cypherGetFile = `
MATCH (f:File {path: $path})
RETURN f.path AS path, f.sha256 AS sha256, f.xxh128 AS xxh128, f.size AS size,
       f.modified_time AS modified, f.accessed_time AS accessed,
       f.changed_time AS changed, f.discovered_time AS discovered,
       f.event_type AS event_type, f.placeholder AS placeholder
`

const cypherNeighbors = `
MATCH (:File {path: $path})-[:NEIGHBOR]->(n:File)
RETURN n.path AS path
ORDER BY n.path
`

// Neo4jStore is the graph Store backend. Every Apply runs inside a single
// managed write transaction so the file upsert and its neighbor edges commit
// or roll back together.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jStore(ctx context.Context, uri, user, pass string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return &Neo4jStore{driver: driver}, nil
}

func (s *Neo4jStore) Apply(ctx context.Context, ev *fileevent.FileEvent) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, cypherUpsertFile, map[string]any{
			"path":       ev.Path,
			"sha256":     ev.SHA256,
			"xxh128":     ev.XXH128,
			"size":       ev.Size,
			"modified":   neoTime(ev.ModifiedTime),
			"accessed":   neoTime(ev.AccessedTime),
			"changed":    neoTime(ev.ChangedTime),
			"discovered": neoTime(ev.Discovered),
			"event_type": string(ev.Kind),
		}); err != nil {
			return nil, err
		}

		for _, neighbor := range ev.Neighbors {
			if neighbor == ev.Path {
				continue
			}
			if _, err := tx.Run(ctx, cypherUpsertNeighbor, map[string]any{
				"path":     ev.Path,
				"neighbor": neighbor,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("apply %s: %w", ev.Path, classifyNeo4jErr(err))
	}

	metrics.StoreUpserts.Inc()
	return nil
}

func (s *Neo4jStore) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypherGetFile, map[string]any{"path": path})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrNotFound
		}
		return recordToFile(records[0].AsMap()), nil
	})
	if err != nil {
		return nil, classifyNeo4jErr(err)
	}
	return result.(*FileRecord), nil
}

func (s *Neo4jStore) Neighbors(ctx context.Context, path string) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypherNeighbors, map[string]any{"path": path})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(records))
		for _, rec := range records {
			if v, ok := rec.Get("path"); ok {
				if p, ok := v.(string); ok {
					paths = append(paths, p)
				}
			}
		}
		return paths, nil
	})
	if err != nil {
		return nil, classifyNeo4jErr(err)
	}
	return result.([]string), nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func classifyNeo4jErr(err error) error {
	if err == nil {
		return nil
	}
	if neo4j.IsConnectivityError(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func recordToFile(m map[string]any) *FileRecord {
	rec := &FileRecord{}
	if v, ok := m["path"].(string); ok {
		rec.Path = v
	}
	if v, ok := m["sha256"].(string); ok {
		rec.SHA256 = v
	}
	if v, ok := m["xxh128"].(string); ok {
		rec.XXH128 = v
	}
	if v, ok := m["size"].(int64); ok {
		rec.Size = v
	}
	if v, ok := m["modified"].(string); ok {
		rec.Modified = parseTime(v)
	}
	if v, ok := m["accessed"].(string); ok {
		rec.Accessed = parseTime(v)
	}
	if v, ok := m["changed"].(string); ok {
		rec.Changed = parseTime(v)
	}
	if v, ok := m["discovered"].(string); ok {
		rec.Discovered = parseTime(v)
	}
	if v, ok := m["event_type"].(string); ok {
		rec.EventType = v
	}
	if v, ok := m["placeholder"].(bool); ok {
		rec.Placeholder = v
	}
	return rec
}

func neoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
