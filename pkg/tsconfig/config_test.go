package tsconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()
	assert.Equal(t, 16, cfg.HNSW.M)
	assert.Equal(t, 200, cfg.HNSW.EfConstruction)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("TENANTSEARCH_HNSW_M", "32")
	t.Setenv("TENANTSEARCH_STORE_BACKEND", "badger")
	t.Setenv("TENANTSEARCH_HTTP_PORT", "9090")

	cfg := LoadFromEnv()
	assert.Equal(t, 32, cfg.HNSW.M)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, 9090, cfg.Server.HTTPPort)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.HNSW.M = 1
	assert.Error(t, cfg.Validate())

	cfg = LoadFromEnv()
	cfg.Store.Backend = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = LoadFromEnv()
	cfg.Embedding.Dimensions = 0
	assert.Error(t, cfg.Validate())
}

func TestMergeYAMLFileOverridesEnvDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/override.yaml"
	require.NoError(t, os.WriteFile(path, []byte("hnsw:\n  m: 64\n"), 0o644))

	t.Setenv("TENANTSEARCH_CONFIG_FILE", path)
	cfg := LoadFromEnv()
	assert.Equal(t, 64, cfg.HNSW.M)
}
