package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		Engine:     EngineConfig{Resolution: 0.001},
		Repository: RepositoryConfig{Path: "repo.zip"},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_DefaultsWithResolutionAreValid(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"server port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"server mode", func(c *Config) { c.Server.Mode = "prod" }, "server.mode"},
		{"grpc port", func(c *Config) { c.GRPC.Port = -1 }, "grpc.port"},
		{"zero resolution", func(c *Config) { c.Engine.Resolution = 0 }, "engine.resolution"},
		{"negative resolution", func(c *Config) { c.Engine.Resolution = -0.01 }, "engine.resolution"},
		{"huge resolution", func(c *Config) { c.Engine.Resolution = 2 }, "engine.resolution"},
		{"table size", func(c *Config) { c.Engine.MaxTableSize = -5 }, "engine.max_table_size"},
		{"weight scale", func(c *Config) { c.Engine.WeightScale = -1 }, "engine.weight_scale"},
		{"oracle", func(c *Config) { c.Classifier.Oracle = "bliss" }, "classifier.oracle"},
		{"dreadnaut path", func(c *Config) {
			c.Classifier.Oracle = "dreadnaut"
			c.Classifier.DreadnautPath = ""
		}, "dreadnaut_path"},
		{"min shell", func(c *Config) { c.Repository.MinShell = -1 }, "min_shell"},
		{"max below min", func(c *Config) { c.Repository.MaxShell = 0 }, "max_shell"},
		{"source", func(c *Config) { c.Repository.Source = "s3" }, "repository.source"},
		{"file path", func(c *Config) { c.Repository.Path = "" }, "repository.path"},
		{"postgres source", func(c *Config) { c.Repository.Source = "postgres" }, "database.host"},
		{"shell out of range", func(c *Config) { c.Charger.Shells = []int{9} }, "charger.shells"},
		{"no shells", func(c *Config) { c.Charger.Shells = nil }, "charger.shells"},
		{"max candidates", func(c *Config) { c.Charger.MaxCandidates = -1 }, "max_candidates"},
		{"batch", func(c *Config) { c.Charger.BatchConcurrency = 0 }, "batch_concurrency"},
		{"redis addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"worker", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "text" }, "log.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_MinIOSource(t *testing.T) {
	cfg := validConfig()
	cfg.Repository.Source = "minio"
	assert.NoError(t, cfg.Validate())

	cfg.Repository.ObjectKey = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_DreadnautWithPath(t *testing.T) {
	cfg := validConfig()
	cfg.Classifier.Oracle = "dreadnaut"
	cfg.Classifier.DreadnautPath = "/usr/bin/dreadnaut"
	assert.NoError(t, cfg.Validate())
}
