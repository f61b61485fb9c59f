package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
)

// Reloader is the part of repository.Loader the scheduler drives.
type Reloader interface {
	Reload(ctx context.Context) (*candidate.Repository, error)
}

// ReloadScheduler reloads the repository on a cron schedule.
type ReloadScheduler struct {
	cron    *cron.Cron
	loader  Reloader
	timeout time.Duration
	logger  logging.Logger
}

// NewReloadScheduler parses spec, a standard five-field cron expression or a
// descriptor such as "@every 10m". Each run is bounded by timeout when it is
// positive. An overlapping run is skipped.
func NewReloadScheduler(spec string, loader Reloader, timeout time.Duration, logger logging.Logger) (*ReloadScheduler, error) {
	s := &ReloadScheduler{loader: loader, timeout: timeout, logger: logger}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ReloadScheduler) run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.logger.Debug("Scheduled repository reload")
	// Reload logs its own failures and keeps the previous snapshot.
	_, _ = s.loader.Reload(ctx)
}

// Start runs the schedule in its own goroutine.
func (s *ReloadScheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running reload to finish.
func (s *ReloadScheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
