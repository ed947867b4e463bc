package ingest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate_Defaults(t *testing.T) {
	cfg := &Config{Root: t.TempDir()}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultAMQPUrl, cfg.AMQPUrl)
	assert.Equal(t, DefaultExchange, cfg.Exchange)
	assert.Equal(t, []string{".meta", ".bak"}, cfg.CompanionSuffixes)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, DefaultMaxInflight, cfg.MaxInflight)
	assert.Equal(t, DefaultDrainGrace, cfg.DrainGrace)
	assert.True(t, filepath.IsAbs(cfg.Root))
}

func TestConfigValidate_RejectsMissingRoot(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Root: filepath.Join(t.TempDir(), "nope")}).Validate())
}

func TestConfigValidate_RejectsFileRoot(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f", "x")
	assert.Error(t, (&Config{Root: path}).Validate())
}
