package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB_MemoryDefault(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
}

func TestNewSqliteDB_CreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "graph.db")

	database, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	assert.FileExists(t, dbPath)
}

func TestNewSqliteDB_DefaultPragmasApplied(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")

	// One connection so per-connection pragmas are observable.
	database, err := NewSqliteDB(WithPath(dbPath), WithMaxOpenConns(1))
	require.NoError(t, err)
	defer database.Close()

	var journalMode string
	require.NoError(t, database.Get(&journalMode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, database.Get(&foreignKeys, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, foreignKeys)

	var busyTimeout int
	require.NoError(t, database.Get(&busyTimeout, "PRAGMA busy_timeout"))
	assert.Equal(t, 5000, busyTimeout)
}

func TestNewSqliteDB_ForeignKeysRejectOrphanEdges(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")

	database, err := NewSqliteDB(WithPath(dbPath), WithMaxOpenConns(1))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec(`
		CREATE TABLE nodes (path TEXT PRIMARY KEY);
		CREATE TABLE edges (
			a TEXT NOT NULL REFERENCES nodes(path),
			b TEXT NOT NULL REFERENCES nodes(path),
			PRIMARY KEY (a, b)
		);
	`)
	require.NoError(t, err)

	// An edge whose endpoints were never inserted must not slip in.
	_, err = database.Exec("INSERT INTO edges (a, b) VALUES ('/x', '/y')")
	assert.Error(t, err)

	_, err = database.Exec("INSERT INTO nodes (path) VALUES ('/x'), ('/y')")
	require.NoError(t, err)
	_, err = database.Exec("INSERT INTO edges (a, b) VALUES ('/x', '/y')")
	assert.NoError(t, err)
}

func TestNewSqliteDB_CustomPragmasReplaceDefaults(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")

	database, err := NewSqliteDB(
		WithPath(dbPath),
		WithPragmas("PRAGMA foreign_keys=OFF;"),
		WithMaxOpenConns(1),
	)
	require.NoError(t, err)
	defer database.Close()

	var foreignKeys int
	require.NoError(t, database.Get(&foreignKeys, "PRAGMA foreign_keys"))
	assert.Equal(t, 0, foreignKeys)
}

func TestNewSqliteDB_SharedFileAcrossHandles(t *testing.T) {
	// Two handles on the same file, as when a migration and the store open
	// it in sequence. WAL plus busy_timeout must let both operate.
	dbPath := filepath.Join(t.TempDir(), "graph.db")

	first, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer first.Close()
	_, err = first.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = first.Exec("INSERT INTO t (v) VALUES ('a')")
	require.NoError(t, err)

	second, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer second.Close()

	var count int
	require.NoError(t, second.Get(&count, "SELECT COUNT(*) FROM t"))
	assert.Equal(t, 1, count)
	_, err = second.Exec("INSERT INTO t (v) VALUES ('b')")
	assert.NoError(t, err)
}
