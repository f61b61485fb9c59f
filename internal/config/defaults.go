package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort = 8080
	DefaultServerMode = "release"
	DefaultGRPCPort   = 9090

	DefaultMaxBatchSize = 256

	DefaultMaxTableSize = 1 << 22
	DefaultWeightScale  = 1e6

	DefaultOracle        = "refine"
	DefaultOracleTimeout = 10 * time.Second
	DefaultSearchBudget  = 100000

	DefaultMinShell         = 1
	DefaultMaxShell         = 7
	DefaultRepositorySource = "file"
	DefaultObjectKey        = "repository.zip"

	DefaultBatchConcurrency = 4

	DefaultDBPort     = 5432
	DefaultDBMaxConns = 10

	DefaultRedisAddr = "localhost:6379"
	DefaultRedisTTL  = time.Hour

	DefaultKafkaGroupID      = "chargeassign-worker"
	DefaultKafkaRequestTopic = "charge.requests"
	DefaultKafkaResultTopic  = "charge.results"
	DefaultKafkaDLQTopic     = "charge.requests.dlq"

	DefaultMinIOBucket = "chargeassign"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultWorkerConcurrency = 4
	DefaultWorkerHealthPort  = 8081

	DefaultMetricsNamespace = "chargeassign"
	DefaultMetricsPath      = "/metrics"
)

// ApplyDefaults fills every zero-value field in cfg with the platform default.
// Fields that have already been set by the caller (non-zero values) are left
// unchanged so that explicit configuration always wins.
//
// engine.resolution is never defaulted.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 8 << 20
	}
	if cfg.Server.MaxBatchSize == 0 {
		cfg.Server.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Server.RateLimitRPS > 0 && cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = int(2 * cfg.Server.RateLimitRPS)
	}
	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = DefaultGRPCPort
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	if cfg.Engine.MaxTableSize == 0 {
		cfg.Engine.MaxTableSize = DefaultMaxTableSize
	}
	if cfg.Engine.WeightScale == 0 {
		cfg.Engine.WeightScale = DefaultWeightScale
	}

	// ── Classifier ────────────────────────────────────────────────────────────
	if cfg.Classifier.Oracle == "" {
		cfg.Classifier.Oracle = DefaultOracle
	}
	if cfg.Classifier.OracleTimeout == 0 {
		cfg.Classifier.OracleTimeout = DefaultOracleTimeout
	}
	if cfg.Classifier.SearchBudget == 0 {
		cfg.Classifier.SearchBudget = DefaultSearchBudget
	}

	// ── Repository ────────────────────────────────────────────────────────────
	if cfg.Repository.Source == "" {
		cfg.Repository.Source = DefaultRepositorySource
	}
	if cfg.Repository.MinShell == 0 {
		cfg.Repository.MinShell = DefaultMinShell
	}
	if cfg.Repository.MaxShell == 0 {
		cfg.Repository.MaxShell = DefaultMaxShell
	}
	if cfg.Repository.ObjectKey == "" {
		cfg.Repository.ObjectKey = DefaultObjectKey
	}
	if cfg.Repository.BuildWorkers == 0 {
		cfg.Repository.BuildWorkers = DefaultBatchConcurrency
	}

	// ── Charger ───────────────────────────────────────────────────────────────
	if len(cfg.Charger.Shells) == 0 {
		for s := cfg.Repository.MaxShell; s >= cfg.Repository.MinShell; s-- {
			cfg.Charger.Shells = append(cfg.Charger.Shells, s)
		}
	}
	if cfg.Charger.BatchConcurrency == 0 {
		cfg.Charger.BatchConcurrency = DefaultBatchConcurrency
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = DefaultRedisTTL
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = DefaultKafkaRequestTopic
	}
	if cfg.Kafka.ResultTopic == "" {
		cfg.Kafka.ResultTopic = DefaultKafkaResultTopic
	}
	if cfg.Kafka.DLQTopic == "" {
		cfg.Kafka.DLQTopic = DefaultKafkaDLQTopic
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 3
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = time.Second
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.JobTimeout == 0 {
		cfg.Worker.JobTimeout = 2 * time.Minute
	}
	if cfg.Worker.HealthPort == 0 {
		cfg.Worker.HealthPort = DefaultWorkerHealthPort
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}
