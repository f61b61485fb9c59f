// API server entry point for ChargeAssign. Serves the charge API over HTTP
// and gRPC from a single reference repository snapshot.
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
	"github.com/turtacn/ChargeAssign/internal/application/repository"
	"github.com/turtacn/ChargeAssign/internal/config"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	grpcserver "github.com/turtacn/ChargeAssign/internal/interfaces/grpc"
	"github.com/turtacn/ChargeAssign/internal/interfaces/grpc/services"
	httpserver "github.com/turtacn/ChargeAssign/internal/interfaces/http"
	"github.com/turtacn/ChargeAssign/internal/interfaces/http/handlers"
)

const defaultConfigPath = "configs/config.yaml"

// Injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	logger.Info("starting ChargeAssign API server",
		logging.String("version", version),
		logging.Int("http_port", cfg.Server.Port),
		logging.Int("grpc_port", cfg.GRPC.Port),
		logging.String("repository_source", cfg.Repository.Source),
	)

	collector, metrics, err := app.NewMetrics(cfg.Metrics, "api", logger)
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
		// Not fatal: readiness stays down and charge calls answer 503 until
		// a later reload succeeds.
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
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
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

	routerCfg := httpserver.RouterConfig{
		ChargeHandler:    handlers.NewChargeHandler(svc, cfg.Server.MaxBodySize, cfg.Server.MaxBatchSize, logger.Named("http")),
		HealthHandler:    handlers.NewHealthHandler(version, healthCheckers(cfg, svc, stores, cacheClient)...),
		CORS:             corsConfig(cfg.Server.CORSOrigins),
		RequestTimeout:   cfg.Server.RequestTimeout,
		Logger:           logger.Named("http"),
		MetricsCollector: collector,
		Metrics:          metrics,
	}
	limiter, rl := rateLimit(cfg.Server)
	if limiter != nil {
		defer limiter.Stop()
		routerCfg.RateLimiter = limiter
		routerCfg.RateLimit = rl
	}

	httpSrv, err := httpserver.NewServer(cfg.Server, httpserver.NewRouter(routerCfg), logger.Named("http"))
	if err != nil {
		return err
	}

	grpcSrv, err := grpcserver.NewServer(cfg.GRPC,
		grpcserver.WithLogger(logger.Named("grpc")),
		grpcserver.WithMetrics(metrics),
		grpcserver.WithGracefulTimeout(cfg.Server.ShutdownTimeout),
	)
	if err != nil {
		return err
	}
	grpcSrv.RegisterService(&services.ChargeServiceDesc, services.NewChargeService(svc, cfg.Server.MaxBatchSize, logger.Named("grpc")))

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", logging.String("addr", httpSrv.Addr()))
		errCh <- httpSrv.Start()
	}()
	go func() {
		logger.Info("gRPC server listening", logging.String("addr", grpcSrv.Addr()))
		errCh <- grpcSrv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down servers")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", logging.Err(err))
		}
	}

	grpcSrv.SetServing(services.ServiceName, false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := httpSrv.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
	}
	if err := grpcSrv.Stop(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", logging.Err(err))
	}

	logger.Info("servers stopped")
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}
