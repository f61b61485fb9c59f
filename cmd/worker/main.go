// Worker entry point for ChargeAssign. Consumes charge jobs from Kafka,
// publishes their results and dead-letters jobs that keep failing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/ChargeAssign/internal/app"
	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/application/jobs"
	"github.com/turtacn/ChargeAssign/internal/application/repository"
	"github.com/turtacn/ChargeAssign/internal/config"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/ChargeAssign/internal/interfaces/http"
	"github.com/turtacn/ChargeAssign/internal/interfaces/http/handlers"
)

const (
	defaultWorkerConfigPath = "configs/config.yaml"
	shutdownTimeout         = 30 * time.Second
	ensureTopicsTimeout     = 30 * time.Second
)

// Injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", defaultWorkerConfigPath, "path to configuration file")
	workers := flag.Int("workers", 0, "number of consumers in the group (overrides worker.concurrency)")
	flag.Parse()

	if err := run(*configPath, *workers); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, workers int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if workers > 0 {
		cfg.Worker.Concurrency = workers
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	logger.Info("starting ChargeAssign worker",
		logging.String("version", version),
		logging.Int("consumers", cfg.Worker.Concurrency),
		logging.String("request_topic", cfg.Kafka.RequestTopic),
		logging.String("result_topic", cfg.Kafka.ResultTopic),
	)

	collector, metrics, err := app.NewMetrics(cfg.Metrics, "worker", logger)
	if err != nil {
		return err
	}
	pipeline, err := app.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	holder := candidate.NewHolder(nil)
	loader := repository.NewLoader(stores.Source, holder, app.LoaderOptions(cfg), metrics, logger.Named("repository"))
	if _, err := loader.Reload(ctx); err != nil {
		// Jobs fail with a retryable error until a reload succeeds.
		logger.Warn("starting without a charge repository", logging.Err(err))
	}

	cacheClient, cache, err := app.OpenCache(cfg.Redis, logger)
	if err != nil {
		return err
	}
	if cacheClient != nil {
		defer cacheClient.Close()
	}
	svc := charging.NewService(pipeline, holder, app.ChargeDefaults(cfg.Charger), logger.Named("charging"),
		app.ServiceOptions(cfg, cache, metrics)...)
	loader.OnSwap(svc.Evict)

	if cfg.Repository.ReloadSchedule != "" {
		sched, err := app.NewReloadScheduler(cfg.Repository.ReloadSchedule, loader, cfg.Engine.Timeout, logger.Named("reload"))
		if err != nil {
			return fmt.Errorf("repository.reload_schedule: %w", err)
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}
	if err := config.Watch(configPath, func(next *config.Config) {
		svc.SetDefaults(app.ChargeDefaults(next.Charger))
		logger.Info("configuration reloaded", logging.String("path", configPath))
		go func() {
			_, _ = loader.Reload(context.Background())
		}()
	}, func(err error) {
		logger.Warn("ignoring invalid configuration change", logging.Err(err))
	}); err != nil {
		logger.Warn("configuration watch disabled", logging.Err(err))
	}

	ensureTopics(ctx, cfg.Kafka, logger)

	producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), logger.Named("producer"))
	if err != nil {
		return err
	}
	defer producer.Close()

	handler := jobs.NewHandler(svc, producer, cfg.Kafka.ResultTopic, logger.Named("jobs"),
		jobs.WithMetrics(metrics),
		jobs.WithTimeout(cfg.Worker.JobTimeout),
	)

	consumers := make([]*kafka.Consumer, 0, cfg.Worker.Concurrency)
	defer func() {
		for _, c := range consumers {
			if err := c.Close(); err != nil {
				logger.Error("consumer close error", logging.Err(err))
			}
		}
	}()
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		ccfg := kafka.ConsumerConfigFrom(cfg.Kafka)
		ccfg.RetryConfig.OnRetry = handler.OnRetry
		consumer, err := kafka.NewConsumer(ccfg, logger.Named("consumer").With(logging.Int("consumer", i)))
		if err != nil {
			return err
		}
		consumers = append(consumers, consumer)
		consumer.Subscribe(cfg.Kafka.RequestTopic, handler.Handle)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	}

	healthSrv, err := httpserver.NewServer(config.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Worker.HealthPort,
		ShutdownTimeout: shutdownTimeout,
	}, httpserver.NewRouter(httpserver.RouterConfig{
		HealthHandler:    handlers.NewHealthHandler(version, handlers.RepositoryChecker(svc.Ready)),
		Logger:           logger.Named("http"),
		MetricsCollector: collector,
		Metrics:          metrics,
	}), logger.Named("http"))
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("health server listening", logging.String("addr", healthSrv.Addr()))
		errCh <- healthSrv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down worker")
	case err := <-errCh:
		if err != nil {
			logger.Error("health server failed", logging.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", logging.Err(err))
	}
	logger.Info("worker stopped")
	return nil
}

// ensureTopics creates the job topics when the brokers allow it. Clusters
// that manage topics externally only log the failure.
func ensureTopics(ctx context.Context, cfg config.KafkaConfig, logger logging.Logger) {
	tm, err := kafka.NewTopicManager(cfg.Brokers, logger.Named("topics"))
	if err != nil {
		logger.Warn("topic manager unavailable", logging.Err(err))
		return
	}
	defer tm.Close()

	ctx, cancel := context.WithTimeout(ctx, ensureTopicsTimeout)
	defer cancel()
	if err := tm.EnsureTopics(ctx, kafka.ChargeTopics(cfg)); err != nil {
		logger.Warn("failed to ensure job topics", logging.Err(err))
	}
}
