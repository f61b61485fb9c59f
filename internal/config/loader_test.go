package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
server:
  port: 8081
engine:
  resolution: 0.001
classifier:
  oracle: refine
charger:
  shells: [3, 2, 1]
  max_candidates: 5
repository:
  source: file
  path: /var/lib/charge/repository.zip
  min_shell: 1
  max_shell: 3
log:
  level: debug
  format: console
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.InDelta(t, 0.001, cfg.Engine.Resolution, 1e-12)
	assert.Equal(t, []int{3, 2, 1}, cfg.Charger.Shells)
	assert.Equal(t, 5, cfg.Charger.MaxCandidates)
	assert.Equal(t, "/var/lib/charge/repository.zip", cfg.Repository.Path)
	assert.Equal(t, "console", cfg.Log.Format)

	// true-by-default booleans survive a file that does not mention them
	assert.True(t, cfg.Classifier.Symmetric)
	assert.True(t, cfg.Charger.IACM)
	assert.True(t, cfg.Charger.FallbackToElements)
}

func TestLoad_ExplicitFalseBoolean(t *testing.T) {
	yaml := `
engine:
  resolution: 0.01
classifier:
  symmetric: false
repository:
  path: repo.zip
`
	cfg, err := Load(createTempConfigFile(t, yaml))
	require.NoError(t, err)
	assert.False(t, cfg.Classifier.Symmetric)
}

func TestLoad_MissingResolutionFails(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "repository:\n  path: repo.zip\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.resolution")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CHARGE_ENGINE_RESOLUTION", "0.01")
	t.Setenv("CHARGE_LOG_LEVEL", "warn")

	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)
	assert.InDelta(t, 0.01, cfg.Engine.Resolution, 1e-12)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHARGE_ENGINE_RESOLUTION", "0.001")
	t.Setenv("CHARGE_REPOSITORY_PATH", "/data/repo.zip")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/data/repo.zip", cfg.Repository.Path)
	assert.Equal(t, DefaultMaxShell, cfg.Repository.MaxShell)
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "absent.yaml")) })
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "absent.yaml"), func(*Config) {}, nil)
	assert.Error(t, err)
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.InDelta(t, 0.001, cfg.Engine.Resolution, 1e-12)
}
