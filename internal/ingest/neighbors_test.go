package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdir(path string) error {
	return os.Mkdir(path, 0o755)
}

func TestProspect_StemAndCompanions(t *testing.T) {
	dir := t.TempDir()
	subject := writeFile(t, dir, "song.mp3", "x")
	meta := writeFile(t, dir, "song.mp3.meta", "x")
	flac := writeFile(t, dir, "song.flac", "x")
	writeFile(t, dir, "other.mp3", "x")
	writeFile(t, dir, "song2.mp3", "x")

	p := NewProspector(DefaultProspectorConfig())
	got, err := p.Prospect(subject)
	require.NoError(t, err)

	// directory listing order: song.flac < song.mp3.meta
	assert.Equal(t, []string{flac, meta}, got)
}

func TestProspect_NoNeighbors(t *testing.T) {
	dir := t.TempDir()
	subject := writeFile(t, dir, "alone.mp3", "x")
	writeFile(t, dir, "unrelated.txt", "x")

	got, err := NewProspector(DefaultProspectorConfig()).Prospect(subject)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestProspect_ExcludesSubjectAndDirs(t *testing.T) {
	dir := t.TempDir()
	subject := writeFile(t, dir, "song.mp3", "x")
	require.NoError(t, mkdir(filepath.Join(dir, "song.d")))

	got, err := NewProspector(DefaultProspectorConfig()).Prospect(subject)
	require.NoError(t, err)
	assert.NotContains(t, got, subject)
	assert.NotContains(t, got, filepath.Join(dir, "song.d"))
}

func TestProspect_CustomCompanionSuffixes(t *testing.T) {
	dir := t.TempDir()
	subject := writeFile(t, dir, "data.csv", "x")
	sidecar := writeFile(t, dir, "data.csv.sig", "x")
	writeFile(t, dir, "data.csv.meta", "x") // not configured

	p := NewProspector(ProspectorConfig{CompanionSuffixes: []string{".sig"}})
	got, err := p.Prospect(subject)
	require.NoError(t, err)
	assert.Contains(t, got, sidecar)
	// data.csv.meta still matches the shared-stem rule? No: its stem is
	// "data.csv", the subject's is "data".
	assert.NotContains(t, got, filepath.Join(dir, "data.csv.meta"))
}

func TestProspect_MissingDirectory(t *testing.T) {
	_, err := NewProspector(DefaultProspectorConfig()).Prospect(filepath.Join(t.TempDir(), "nope", "file.mp3"))
	assert.Error(t, err)
}

func TestProspect_Deduplicates(t *testing.T) {
	// "song.meta" matches both the shared-stem rule against "song" and no
	// companion rule; ensure a name can never appear twice regardless.
	dir := t.TempDir()
	subject := writeFile(t, dir, "song", "x")
	sidecar := writeFile(t, dir, "song.meta", "x")

	got, err := NewProspector(DefaultProspectorConfig()).Prospect(subject)
	require.NoError(t, err)
	assert.Equal(t, []string{sidecar}, got)
}
