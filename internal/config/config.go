// Package config defines all configuration structures for ChargeAssign.
// No I/O or parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// MaxBatchSize caps the molecules of one batch request.
	MaxBatchSize   int      `mapstructure:"max_batch_size"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"` // 0 disables rate limiting
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

// GRPCConfig holds gRPC server tunables.
type GRPCConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Debug          bool   `mapstructure:"debug"` // enables server reflection
	MaxRecvMsgSize int    `mapstructure:"max_recv_msg_size"`
}

// EngineConfig holds the assignment engine tunables.
type EngineConfig struct {
	// Resolution is the charge resolution ε. It has no default and must be > 0.
	Resolution   float64       `mapstructure:"resolution"`
	MaxTableSize int           `mapstructure:"max_table_size"`
	WeightScale  float64       `mapstructure:"weight_scale"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ClassifierConfig selects and tunes the graph canonicalisation oracle.
type ClassifierConfig struct {
	Oracle          string        `mapstructure:"oracle"` // "refine" | "dreadnaut"
	DreadnautPath   string        `mapstructure:"dreadnaut_path"`
	OracleTimeout   time.Duration `mapstructure:"oracle_timeout"`
	SearchBudget    int           `mapstructure:"search_budget"`
	ColorBondOrders bool          `mapstructure:"color_bond_orders"`
	Symmetric       bool          `mapstructure:"symmetric"`
}

// ChargerConfig holds the charging service policy.
type ChargerConfig struct {
	// Shells are tried from largest to smallest.
	Shells             []int `mapstructure:"shells"`
	IACM               bool  `mapstructure:"iacm"`
	FallbackToElements bool  `mapstructure:"fallback_to_elements"`
	MaxCandidates      int   `mapstructure:"max_candidates"`
	BatchConcurrency   int   `mapstructure:"batch_concurrency"`
	CacheResults       bool  `mapstructure:"cache_results"`
}

// RepositoryConfig describes where the reference charge repository comes from.
type RepositoryConfig struct {
	Source         string `mapstructure:"source"` // "file" | "minio" | "postgres"
	Path           string `mapstructure:"path"`
	ObjectKey      string `mapstructure:"object_key"`
	MinShell       int    `mapstructure:"min_shell"`
	MaxShell       int    `mapstructure:"max_shell"`
	OverridesPath  string `mapstructure:"overrides_path"`
	ReloadSchedule string `mapstructure:"reload_schedule"` // cron spec; empty disables reloads
	BuildWorkers   int    `mapstructure:"build_workers"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds Apache Kafka producer/consumer parameters.
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	RequestTopic    string        `mapstructure:"request_topic"`
	ResultTopic     string        `mapstructure:"result_topic"`
	DLQTopic        string        `mapstructure:"dlq_topic"`
	AutoOffsetReset string        `mapstructure:"auto_offset_reset"` // "earliest" | "latest"
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	BatchSize       int           `mapstructure:"batch_size"`
}

// MinIOConfig holds MinIO / S3-compatible object-storage parameters.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// WorkerConfig holds Kafka worker execution parameters.
type WorkerConfig struct {
	// Concurrency is the number of consumers the worker runs in its group.
	Concurrency int           `mapstructure:"concurrency"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
	// HealthPort serves /healthz, /readyz and /metrics.
	HealthPort int `mapstructure:"health_port"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure. Every infrastructure component
// and application service reads its settings from the relevant sub-struct.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Charger    ChargerConfig    `mapstructure:"charger"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers should treat any error as
// fatal and refuse to start the application.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("config: grpc.port %d is out of range [1, 65535]", c.GRPC.Port)
	}

	// Engine
	if c.Engine.Resolution <= 0 {
		return fmt.Errorf("config: engine.resolution must be > 0, got %g", c.Engine.Resolution)
	}
	if c.Engine.Resolution > 1 {
		return fmt.Errorf("config: engine.resolution must be ≤ 1, got %g", c.Engine.Resolution)
	}
	if c.Engine.MaxTableSize < 1 {
		return fmt.Errorf("config: engine.max_table_size must be ≥ 1, got %d", c.Engine.MaxTableSize)
	}
	if c.Engine.WeightScale <= 0 {
		return fmt.Errorf("config: engine.weight_scale must be > 0, got %g", c.Engine.WeightScale)
	}

	// Classifier
	switch c.Classifier.Oracle {
	case "refine":
	case "dreadnaut":
		if c.Classifier.DreadnautPath == "" {
			return fmt.Errorf("config: classifier.dreadnaut_path is required when oracle is dreadnaut")
		}
	default:
		return fmt.Errorf("config: classifier.oracle %q is invalid; expected refine|dreadnaut", c.Classifier.Oracle)
	}

	// Repository
	if c.Repository.MinShell < 1 {
		return fmt.Errorf("config: repository.min_shell must be ≥ 1, got %d", c.Repository.MinShell)
	}
	if c.Repository.MaxShell < c.Repository.MinShell {
		return fmt.Errorf("config: repository.max_shell %d is below min_shell %d",
			c.Repository.MaxShell, c.Repository.MinShell)
	}
	switch c.Repository.Source {
	case "file":
		if c.Repository.Path == "" {
			return fmt.Errorf("config: repository.path is required for source file")
		}
	case "minio":
		if c.MinIO.Bucket == "" || c.Repository.ObjectKey == "" {
			return fmt.Errorf("config: minio.bucket and repository.object_key are required for source minio")
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("config: database.host and database.db_name are required for source postgres")
		}
	default:
		return fmt.Errorf("config: repository.source %q is invalid; expected file|minio|postgres", c.Repository.Source)
	}

	// Charger
	if len(c.Charger.Shells) == 0 {
		return fmt.Errorf("config: charger.shells must contain at least one shell")
	}
	for _, s := range c.Charger.Shells {
		if s < c.Repository.MinShell || s > c.Repository.MaxShell {
			return fmt.Errorf("config: charger.shells entry %d is outside repository range [%d, %d]",
				s, c.Repository.MinShell, c.Repository.MaxShell)
		}
	}
	if c.Charger.MaxCandidates < 0 {
		return fmt.Errorf("config: charger.max_candidates must be ≥ 0, got %d", c.Charger.MaxCandidates)
	}
	if c.Charger.BatchConcurrency < 1 {
		return fmt.Errorf("config: charger.batch_concurrency must be ≥ 1, got %d", c.Charger.BatchConcurrency)
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	// Worker
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be ≥ 1, got %d", c.Worker.Concurrency)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
