package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inDir runs the test body from inside the given directory.
func inDir(t *testing.T, dir string) {

	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))

	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})
}

func TestLoadEnv(t *testing.T) {

	dir := t.TempDir()

	content := "DEVICE_NAME=laptop\nPROMETHEUS_ADDR=:9099\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0600))

	inDir(t, dir)

	env, err := LoadEnv()
	require.NoError(t, err)

	assert.Equal(t, "laptop", env.DeviceName)
	assert.Equal(t, ":9099", env.PrometheusAddr)
}

func TestLoadEnvMissingFile(t *testing.T) {

	inDir(t, t.TempDir())

	env, err := LoadEnv()
	assert.Nil(t, env)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {

	conf := &Config{}
	conf.Sync.PrometheusAddr = ":9090"

	// A missing environment leaves the file values untouched.
	conf.ApplyEnv(nil)
	assert.Equal(t, ":9090", conf.Sync.PrometheusAddr)

	conf.ApplyEnv(&Env{DeviceName: "laptop"})
	assert.Equal(t, ":9090", conf.Sync.PrometheusAddr)

	conf.ApplyEnv(&Env{PrometheusAddr: ":9099"})
	assert.Equal(t, ":9099", conf.Sync.PrometheusAddr)
}
