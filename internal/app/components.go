// Package app assembles the charging components from configuration. The API
// server, the job worker and chargectl share it.
package app

import (
	"context"
	"fmt"

	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/application/repository"
	"github.com/turtacn/ChargeAssign/internal/config"
	"github.com/turtacn/ChargeAssign/internal/domain/assignment"
	"github.com/turtacn/ChargeAssign/internal/domain/equivalence"
	"github.com/turtacn/ChargeAssign/internal/domain/result"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/database/postgres"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/database/redis"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/storage/minio"
)

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) (logging.Logger, error) {
	return logging.NewLogger(logging.LogConfig{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
	})
}

// NewMetrics builds the collector and the charge metrics registered on it.
// Both are nil when metrics are disabled.
func NewMetrics(cfg config.MetricsConfig, subsystem string, logger logging.Logger) (prometheus.MetricsCollector, *prometheus.ChargeMetrics, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfigFrom(cfg, subsystem), logger.Named("metrics"))
	if err != nil {
		return nil, nil, err
	}
	return collector, prometheus.NewChargeMetrics(collector), nil
}

// OracleName returns the oracle identifier NewClassifier would use, without
// checking that the oracle is available.
func OracleName(cfg config.ClassifierConfig) string {
	if cfg.Oracle == "dreadnaut" {
		return equivalence.OracleDreadnaut
	}
	return equivalence.OracleRefine
}

// NewClassifier selects the canonicalisation oracle.
func NewClassifier(cfg config.ClassifierConfig) (*equivalence.Classifier, error) {
	var canon equivalence.Canonicalizer
	switch cfg.Oracle {
	case "dreadnaut":
		d, err := equivalence.NewDreadnautCanonicalizer(cfg.DreadnautPath)
		if err != nil {
			return nil, err
		}
		canon = d
	case "", "refine":
		canon = equivalence.NewRefinementCanonicalizer(cfg.SearchBudget)
	default:
		return nil, fmt.Errorf("unknown oracle %q", cfg.Oracle)
	}
	return equivalence.NewClassifier(canon,
		equivalence.WithOracleTimeout(cfg.OracleTimeout),
		equivalence.WithBondOrderColors(cfg.ColorBondOrders),
		equivalence.WithSymmetry(cfg.Symmetric),
	), nil
}

// NewPipeline builds classifier, engine and mapper.
func NewPipeline(cfg *config.Config, logger logging.Logger) (*charging.Pipeline, error) {
	classifier, err := NewClassifier(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	engine, err := assignment.NewEngine(assignment.Config{
		Resolution:   cfg.Engine.Resolution,
		WeightScale:  cfg.Engine.WeightScale,
		MaxTableSize: cfg.Engine.MaxTableSize,
	})
	if err != nil {
		return nil, err
	}
	mapper, err := result.NewMapper(cfg.Engine.Resolution)
	if err != nil {
		return nil, err
	}
	return charging.NewPipeline(classifier, engine, mapper, logger.Named("pipeline")), nil
}

// ChargeDefaults converts the charger section into service defaults.
func ChargeDefaults(cfg config.ChargerConfig) charging.Options {
	return charging.Options{
		Shells:             append([]int(nil), cfg.Shells...),
		IACM:               cfg.IACM,
		FallbackToElements: cfg.FallbackToElements,
	}
}

// LoaderOptions converts the repository settings into loader options.
func LoaderOptions(cfg *config.Config) repository.LoaderOptions {
	return repository.LoaderOptions{
		Resolution:    cfg.Engine.Resolution,
		MaxCandidates: cfg.Charger.MaxCandidates,
		OverridesPath: cfg.Repository.OverridesPath,
		Oracle:        OracleName(cfg.Classifier),
	}
}

// ServiceOptions returns the service options implied by cfg. cache may be nil.
func ServiceOptions(cfg *config.Config, cache charging.Cache, metrics *prometheus.ChargeMetrics) []charging.ServiceOption {
	opts := []charging.ServiceOption{
		charging.WithBatchConcurrency(cfg.Charger.BatchConcurrency),
		charging.WithTimeout(cfg.Engine.Timeout),
	}
	if metrics != nil {
		opts = append(opts, charging.WithMetrics(metrics))
	}
	if cache != nil && cfg.Charger.CacheResults {
		opts = append(opts, charging.WithCache(cache, cfg.Redis.DefaultTTL))
	}
	return opts
}

// Stores holds the repository source named by repository.source and the
// connections behind it.
type Stores struct {
	Source repository.Source
	Sink   repository.Sink

	db      *postgres.Connection
	closers []func() error
}

// OpenStores connects to the configured repository backend. For postgres the
// schema is migrated first.
func OpenStores(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Stores, error) {
	s := &Stores{}
	switch cfg.Repository.Source {
	case "minio":
		client, err := minio.NewMinIOClient(cfg.MinIO, logger.Named("minio"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		store := repository.ObjectStore{Archives: minio.NewArchiveStore(client, logger), Key: cfg.Repository.ObjectKey}
		s.Source, s.Sink = store, store
	case "postgres":
		conn, err := postgres.NewConnection(cfg.Database, logger.Named("postgres"))
		if err != nil {
			return nil, err
		}
		s.db = conn
		s.closers = append(s.closers, conn.Close)
		if err := conn.RunMigrations(); err != nil {
			s.Close()
			return nil, err
		}
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		store := repository.DatabaseStore{Observations: repositories.NewObservationRepo(conn, pool, logger)}
		s.Source, s.Sink = store, store
	default:
		store := repository.FileStore{Path: cfg.Repository.Path}
		s.Source, s.Sink = store, store
	}
	return s, nil
}

// HealthCheck pings the database when the source is postgres.
func (s *Stores) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.HealthCheck(ctx)
}

// Close releases the connections in reverse order.
func (s *Stores) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// OpenCache connects to Redis when enabled. It returns nil, nil when the
// cache is disabled.
func OpenCache(cfg config.RedisConfig, logger logging.Logger) (*redis.Client, redis.Cache, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	client, err := redis.NewClient(cfg, logger.Named("redis"))
	if err != nil {
		return nil, nil, err
	}
	return client, redis.NewRedisCache(client, logger, redis.WithDefaultTTL(cfg.DefaultTTL)), nil
}
