package populate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate_Neo4jDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultAMQPUrl, cfg.AMQPUrl)
	assert.Equal(t, DefaultExchange, cfg.Exchange)
	assert.Equal(t, DefaultQueue, cfg.Queue)
	assert.Equal(t, StoreNeo4j, cfg.Store)
	assert.Equal(t, DefaultNeo4jURI, cfg.Neo4jURI)
	assert.Equal(t, DefaultNeo4jUser, cfg.Neo4jUser)
	assert.Equal(t, DefaultDrainGrace, cfg.DrainGrace)
}

func TestConfigValidate_SqliteRequiresPath(t *testing.T) {
	assert.Error(t, (&Config{Store: StoreSqlite}).Validate())
	assert.NoError(t, (&Config{Store: StoreSqlite, SqlitePath: "/tmp/graph.db"}).Validate())
}

func TestConfigValidate_RejectsUnknownStore(t *testing.T) {
	assert.Error(t, (&Config{Store: "redis"}).Validate())
}
