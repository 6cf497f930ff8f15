package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig places a TOML config with the given content in a
// temporary directory and returns its path.
func writeConfig(t *testing.T, content string) string {

	t.Helper()

	path := filepath.Join(t.TempDir(), "weave.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	return path
}

func TestLoadConfig(t *testing.T) {

	path := writeConfig(t, `
[Sync]
AutoSync = true
SyncIntervalSeconds = 60
MaxConcurrentOps = 3
MaxRetryAttempts = 7
ConflictStrategy = "manual"
PrometheusAddr = ":9099"

[Merger]
[Merger.Strategies]
conversation = "union"
contact = "last-write-wins"

[Serializer]
Format = "json"
Compression = true
`)

	conf, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, conf.Sync.AutoSync)
	assert.Equal(t, uint64(60), conf.Sync.SyncIntervalSeconds)
	assert.Equal(t, 3, conf.Sync.MaxConcurrentOps)
	assert.Equal(t, uint32(7), conf.Sync.MaxRetryAttempts)
	assert.Equal(t, "manual", conf.Sync.ConflictStrategy)
	assert.Equal(t, ":9099", conf.Sync.PrometheusAddr)

	assert.Equal(t, "union", conf.Merger.Strategies["conversation"])
	assert.Equal(t, "last-write-wins", conf.Merger.Strategies["contact"])

	assert.True(t, conf.Serializer.Compression)
}

func TestLoadConfigDefaults(t *testing.T) {

	conf, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.False(t, conf.Sync.AutoSync)
	assert.Equal(t, uint64(30), conf.Sync.SyncIntervalSeconds)
	assert.Equal(t, 5, conf.Sync.MaxConcurrentOps)
	assert.Equal(t, uint32(5), conf.Sync.MaxRetryAttempts)
	assert.Equal(t, "auto-merge", conf.Sync.ConflictStrategy)
	assert.Equal(t, "json", conf.Serializer.Format)
	assert.False(t, conf.Serializer.Compression)
}

func TestLoadConfigUnknownStrategy(t *testing.T) {

	path := writeConfig(t, `
[Merger.Strategies]
message = "coin-flip"
`)

	conf, err := LoadConfig(path)
	assert.Nil(t, conf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown merge strategy 'coin-flip'")
}

func TestLoadConfigMissingFile(t *testing.T) {

	conf, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Nil(t, conf)
	assert.Error(t, err)
}
