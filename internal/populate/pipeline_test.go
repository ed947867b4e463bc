package populate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegraph/filegraph/internal/db"
	"github.com/filegraph/filegraph/internal/fileevent"
	"github.com/filegraph/filegraph/internal/graph"
	"github.com/filegraph/filegraph/internal/ingest"
)

// End-to-end over everything but the broker: fingerprint and prospect real
// files, encode the FileEvent, deliver it through the consumer into a real
// sqlite store, twice, and check the projected graph.
func TestPipeline_SongWithMetaSidecar(t *testing.T) {
	dataDir := t.TempDir()
	song := filepath.Join(dataDir, "song.mp3")
	meta := filepath.Join(dataDir, "song.mp3.meta")
	require.NoError(t, os.WriteFile(song, []byte("abcdefghijklmnop"), 0o644))
	require.NoError(t, os.WriteFile(meta, []byte("artist=nobody"), 0o644))

	fp, err := ingest.NewFingerprinter(ingest.DefaultChunkSize).Fingerprint(song)
	require.NoError(t, err)
	neighbors, err := ingest.NewProspector(ingest.DefaultProspectorConfig()).Prospect(song)
	require.NoError(t, err)
	require.Equal(t, []string{meta}, neighbors)

	ev := &fileevent.FileEvent{
		Path:       song,
		Kind:       fileevent.KindCreated,
		SHA256:     fp.SHA256,
		XXH128:     fp.XXH128,
		Size:       fp.Size,
		Discovered: time.Now().UTC(),
		Neighbors:  neighbors,
	}
	body, err := ev.Encode()
	require.NoError(t, err)

	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(t.TempDir(), "graph.db")))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	store, err := graph.NewSqliteStore(database)
	require.NoError(t, err)

	bus := newFakeBus()
	consumer := NewConsumer(bus, store)
	ctx := context.Background()

	// deliver twice to simulate at-least-once redelivery
	for i := 0; i < 2; i++ {
		consumer.Handle(ctx, amqp.Delivery{
			Acknowledger: &fakeAcknowledger{},
			Body:         body,
		})
	}

	file, err := store.GetFile(ctx, song)
	require.NoError(t, err)
	want := sha256.Sum256([]byte("abcdefghijklmnop"))
	assert.Equal(t, hex.EncodeToString(want[:]), file.SHA256)
	assert.Equal(t, int64(16), file.Size)
	assert.False(t, file.Placeholder)

	placeholder, err := store.GetFile(ctx, meta)
	require.NoError(t, err)
	assert.True(t, placeholder.Placeholder)

	got, err := store.Neighbors(ctx, song)
	require.NoError(t, err)
	assert.Equal(t, []string{meta}, got)
	assert.Equal(t, 0, bus.deadLettered())
}
