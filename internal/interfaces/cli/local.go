package cli

import (
	"context"

	"github.com/turtacn/ChargeAssign/internal/app"
	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/application/repository"
	"github.com/turtacn/ChargeAssign/internal/config"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/storage/archive"
	"github.com/turtacn/ChargeAssign/pkg/client"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
)

// loadDataset reads the archive at path, or the configured repository
// source when path is empty.
func loadDataset(ctx context.Context, cfg *config.Config, path string, logger logging.Logger) (*candidate.Dataset, error) {
	if path != "" {
		return archive.ReadFile(path)
	}
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer stores.Close()
	return stores.Source.Load(ctx)
}

// loadRepository builds a queryable repository from loadDataset.
func loadRepository(ctx context.Context, cfg *config.Config, path string, logger logging.Logger) (*candidate.Repository, error) {
	d, err := loadDataset(ctx, cfg, path, logger)
	if err != nil {
		return nil, err
	}
	return repository.NewRepository(d, app.LoaderOptions(cfg))
}

// localService assembles an in-process charging service over the repository
// named by path or the configuration.
func localService(ctx context.Context, cfg *config.Config, path string, logger logging.Logger) (*charging.Service, error) {
	pipeline, err := app.NewPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}
	repo, err := loadRepository(ctx, cfg, path, logger)
	if err != nil {
		return nil, err
	}
	return charging.NewService(pipeline, candidate.NewHolder(repo), app.ChargeDefaults(cfg.Charger), logger,
		charging.WithBatchConcurrency(cfg.Charger.BatchConcurrency),
		charging.WithTimeout(cfg.Engine.Timeout),
	), nil
}

type localCharger struct{ svc *charging.Service }

func (l localCharger) charge(ctx context.Context, req *charge.Request) (*charge.Response, error) {
	return l.svc.ChargeWire(ctx, req)
}

func (l localCharger) chargeBatch(ctx context.Context, reqs []charge.Request) (*charge.BatchResponse, error) {
	return l.svc.ChargeBatchWire(ctx, reqs), nil
}

type remoteCharger struct{ c *client.Client }

func (r remoteCharger) charge(ctx context.Context, req *charge.Request) (*charge.Response, error) {
	return r.c.Charge(ctx, req)
}

func (r remoteCharger) chargeBatch(ctx context.Context, reqs []charge.Request) (*charge.BatchResponse, error) {
	return r.c.ChargeBatch(ctx, reqs)
}
