package repository

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/format/overrides"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// LoaderOptions controls how a loaded dataset becomes a repository.
type LoaderOptions struct {
	Resolution    float64
	MaxCandidates int
	// OverridesPath names an optional YAML overrides file, re-read on every
	// reload.
	OverridesPath string
	// Oracle is the canonicaliser the service classifies with. A dataset
	// recorded under another oracle is refused.
	Oracle string
}

// Loader reads the dataset from its source and publishes a fresh repository
// snapshot into a Holder.
type Loader struct {
	source  Source
	holder  *candidate.Holder
	opts    LoaderOptions
	metrics *prometheus.ChargeMetrics
	logger  logging.Logger

	mu     sync.Mutex
	onSwap []SwapHook
}

// SwapHook runs after a reload has replaced previous.
type SwapHook func(ctx context.Context, previous *candidate.Repository)

// OnSwap registers h to run after every reload that replaces a snapshot.
func (l *Loader) OnSwap(h SwapHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSwap = append(l.onSwap, h)
}

// NewLoader returns a Loader. metrics may be nil.
func NewLoader(source Source, holder *candidate.Holder, opts LoaderOptions, metrics *prometheus.ChargeMetrics, logger logging.Logger) *Loader {
	return &Loader{source: source, holder: holder, opts: opts, metrics: metrics, logger: logger}
}

// Reload loads the source and swaps the result in. On failure the current
// snapshot stays in place. Concurrent reloads run one after the other.
func (l *Loader) Reload(ctx context.Context) (*candidate.Repository, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	repo, err := l.load(ctx)
	if l.metrics != nil {
		var molecules int
		var loadedAt time.Time
		if repo != nil {
			molecules = len(repo.Dataset().Molecules())
			loadedAt = repo.LoadedAt()
		}
		prometheus.RecordReload(l.metrics, l.source.Name(), molecules, loadedAt, err)
	}
	if err != nil {
		l.logger.Error("Repository reload failed", logging.String("source", l.source.Name()), logging.Err(err))
		return nil, err
	}
	if prev := l.holder.Swap(repo); prev != nil {
		for _, h := range l.onSwap {
			h(ctx, prev)
		}
	}

	info := repo.Info()
	l.logger.Info("Repository loaded",
		logging.String("source", l.source.Name()),
		logging.Int("molecules", info.Molecules),
		logging.Int("min_shell", info.MinShell),
		logging.Int("max_shell", info.MaxShell),
		logging.Int("overrides", info.Overrides),
		logging.Duration("elapsed", time.Since(start)))
	return repo, nil
}

func (l *Loader) load(ctx context.Context) (*candidate.Repository, error) {
	d, err := l.source.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRepositoryUnavailable, "failed to load charge repository").
			WithDetail(l.source.Name())
	}
	if d.Oracle == "" {
		l.logger.Warn("Repository does not record its oracle, signatures are assumed compatible",
			logging.String("source", l.source.Name()),
			logging.String("oracle", l.opts.Oracle))
	}
	return NewRepository(d, l.opts)
}

// NewRepository wraps d with the overrides named in opts.
func NewRepository(d *candidate.Dataset, opts LoaderOptions) (*candidate.Repository, error) {
	if err := d.CheckOracle(opts.Oracle); err != nil {
		return nil, err
	}
	var list []candidate.Override
	if opts.OverridesPath != "" {
		var err error
		if list, err = overrides.Load(opts.OverridesPath); err != nil {
			return nil, err
		}
	}
	repo, err := candidate.NewRepository(d, candidate.Options{
		Resolution:    opts.Resolution,
		MaxCandidates: opts.MaxCandidates,
		Overrides:     list,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "invalid charge repository")
	}
	return repo, nil
}

// Locker serialises publishers across processes.
// redis.DistributedLock implements it.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// Publisher writes a dataset to every configured sink under a lock.
type Publisher struct {
	sinks  []Sink
	lock   Locker
	logger logging.Logger
}

// NewPublisher returns a Publisher. lock may be nil when only one process
// ever publishes.
func NewPublisher(lock Locker, logger logging.Logger, sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks, lock: lock, logger: logger}
}

// Publish stores d in each sink in order and stops at the first failure.
func (p *Publisher) Publish(ctx context.Context, d *candidate.Dataset) error {
	if len(p.sinks) == 0 {
		return errors.InvalidParam("no repository destination configured")
	}
	if p.lock != nil {
		if err := p.lock.Lock(ctx); err != nil {
			return errors.Wrap(err, errors.CodeUnknown, "another repository publish is in progress")
		}
		defer func() {
			if err := p.lock.Unlock(context.Background()); err != nil {
				p.logger.Warn("Failed to release publish lock", logging.Err(err))
			}
		}()
	}
	for _, s := range p.sinks {
		if err := s.Store(ctx, d); err != nil {
			return errors.Wrap(err, errors.CodeUnknown, "failed to publish charge repository").WithDetail(s.Name())
		}
		p.logger.Info("Published charge repository",
			logging.String("sink", s.Name()),
			logging.Int("molecules", len(d.Molecules())))
	}
	return nil
}
