package charging

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/ChargeAssign/internal/domain/assignment"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/equivalence"
	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/internal/domain/result"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Request asks for the charges of one molecule.
type Request struct {
	Molecule *molecule.Molecule
	// TotalCharge is the target net charge. It must be integral. When nil
	// the molecule's own total_charge attribute is used.
	TotalCharge *float64
	// Options overrides the service defaults when set.
	Options *Options
}

// BatchResult pairs one batch request with its outcome.
type BatchResult struct {
	Solution *result.Solution
	Err      error
}

// Cache stores solved molecules between requests.
// redis.Cache implements it.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache enables the result cache.
func WithCache(c Cache, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithMetrics records request and solver metrics.
func WithMetrics(m *prometheus.ChargeMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithTimeout bounds every Charge call.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

// WithBatchConcurrency bounds the molecules ChargeBatch solves at once.
func WithBatchConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Service is the charge assignment entry point shared by every transport.
type Service struct {
	pipeline *Pipeline
	holder   *candidate.Holder
	defaults atomic.Pointer[Options]
	logger   logging.Logger

	cache       Cache
	cacheTTL    time.Duration
	metrics     *prometheus.ChargeMetrics
	timeout     time.Duration
	concurrency int

	group singleflight.Group
}

// NewService returns a Service reading repository snapshots from holder.
func NewService(pipeline *Pipeline, holder *candidate.Holder, defaults Options, logger logging.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		pipeline:    pipeline,
		holder:      holder,
		logger:      logger,
		concurrency: 8,
	}
	s.defaults.Store(&defaults)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Defaults returns the options applied to requests that carry none.
func (s *Service) Defaults() Options { return *s.defaults.Load() }

// SetDefaults replaces the defaults for subsequent requests.
func (s *Service) SetDefaults(opts Options) { s.defaults.Store(&opts) }

// Repository returns the active repository snapshot, or nil before the first
// successful load.
func (s *Service) Repository() *candidate.Repository { return s.holder.Current() }

// Ready reports whether a repository is loaded.
func (s *Service) Ready() bool { return s.holder.Current() != nil }

// Charge assigns partial charges to req.Molecule.
func (s *Service) Charge(ctx context.Context, req Request) (sol *result.Solution, err error) {
	start := time.Now()
	defer func() {
		if s.metrics == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = errors.GetCode(err).String()
		}
		prometheus.RecordCharge(s.metrics, outcome, time.Since(start))
	}()

	if req.Molecule == nil {
		return nil, errors.InvalidParam("molecule is required")
	}
	total, err := resolveTotal(req)
	if err != nil {
		return nil, err
	}
	opts := s.Defaults()
	if req.Options != nil {
		opts = *req.Options
	}
	repo := s.holder.Current()
	if repo == nil {
		return nil, errors.New(errors.ErrCodeRepositoryUnavailable, "no charge repository loaded")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	key, err := cacheKey(req.Molecule, total, opts, repo)
	if err != nil {
		return nil, err
	}
	if sol := s.lookup(ctx, key, req.Molecule); sol != nil {
		return sol, nil
	}

	// Callers with the same key share one solve. Only structure-level data
	// is shared; each caller's Solution is rebuilt on its own molecule so
	// labels and extra columns never leak between requests.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.solve(ctx, key, repo, req.Molecule, total, opts)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.CodeTimeout, "charge assignment cancelled")
	}
	if res.Err != nil {
		s.logger.Debug("Charge assignment failed",
			logging.Int("atoms", req.Molecule.NumAtoms()),
			logging.Int("total_charge", total),
			logging.String("code", errors.GetCode(res.Err).String()),
			logging.Err(res.Err))
		return nil, res.Err
	}
	if res.Shared {
		s.logger.Debug("Charge assignment shared with a concurrent request", logging.String("key", key))
	}
	return res.Val.(*cacheEntry).solution(req.Molecule)
}

// solve runs the pipeline for the first caller of key. It is detached from
// that caller's cancellation since other callers may be waiting on it; the
// service timeout still bounds it.
func (s *Service) solve(ctx context.Context, key string, repo *candidate.Repository, mol *molecule.Molecule, total int, opts Options) (*cacheEntry, error) {
	ctx = context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	sol, err := s.pipeline.Run(ctx, repo, mol, total, opts)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		prometheus.RecordSolve(s.metrics, string(sol.Stats.Mode), sol.Stats.Solve, sol.Stats.PeakSize, sol.Stats.Attempts)
	}
	e := newCacheEntry(sol)
	s.store(ctx, key, e)
	return e, nil
}

// Evict drops the cached results computed against repo. It is called when a
// reload replaces repo.
func (s *Service) Evict(ctx context.Context, repo *candidate.Repository) {
	if s.cache == nil || repo == nil {
		return
	}
	n, err := s.cache.DeleteByPrefix(ctx, snapshotPrefix(repo))
	if err != nil {
		s.logger.Warn("Failed to evict cached charges", logging.Err(err))
		return
	}
	s.logger.Info("Evicted cached charges of the previous repository", logging.Int64("entries", n))
}

// ChargeBatch charges every request concurrently. One failing molecule does
// not stop the others; results are in request order.
func (s *Service) ChargeBatch(ctx context.Context, reqs []Request) []BatchResult {
	out := make([]BatchResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range reqs {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = errors.Wrap(err, errors.CodeTimeout, "batch cancelled")
				return nil
			}
			out[i].Solution, out[i].Err = s.Charge(ctx, reqs[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func resolveTotal(req Request) (int, error) {
	if req.TotalCharge == nil {
		total, ok := req.Molecule.TotalCharge()
		if !ok {
			return 0, errors.InvalidParam("total charge is required")
		}
		return total, nil
	}
	v := *req.TotalCharge
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, errors.InvalidParam("total charge must be an integer").WithDetail(fmt.Sprint(v))
	}
	if math.Abs(v) > molecule.MaxTotalCharge {
		return 0, errors.InvalidParam("total charge is out of range").WithDetail(fmt.Sprint(v))
	}
	return int(v), nil
}

// cacheEntry is the stored form of a Solution. The molecule itself is
// rebuilt from the request on a hit.
type cacheEntry struct {
	Charges   []float64            `msgpack:"charges"`
	ClassOf   []int                `msgpack:"class_of"`
	Classes   []equivalence.Class  `msgpack:"classes"`
	Selection assignment.Selection `msgpack:"selection"`
	Total     int                  `msgpack:"total"`
	Stats     result.Stats         `msgpack:"stats"`
}

func (s *Service) lookup(ctx context.Context, key string, mol *molecule.Molecule) *result.Solution {
	if s.cache == nil {
		return nil
	}
	var e cacheEntry
	err := s.cache.Get(ctx, key, &e)
	if s.metrics != nil {
		prometheus.RecordCacheAccess(s.metrics, err == nil)
	}
	if err != nil {
		if !errors.IsNotFound(err) {
			s.logger.Warn("Charge cache read failed", logging.Err(err))
		}
		return nil
	}
	sol, err := e.solution(mol)
	if err != nil {
		s.logger.Warn("Discarding unusable cache entry", logging.String("key", key), logging.Err(err))
		return nil
	}
	return sol
}

func newCacheEntry(sol *result.Solution) *cacheEntry {
	classOf := make([]int, len(sol.Charges))
	for _, c := range sol.Classes {
		for _, a := range c.Members {
			classOf[a] = c.ID
		}
	}
	return &cacheEntry{
		Charges:   sol.Charges,
		ClassOf:   classOf,
		Classes:   sol.Classes,
		Selection: sol.Selection,
		Total:     sol.Total,
		Stats:     sol.Stats,
	}
}

func (s *Service) store(ctx context.Context, key string, e *cacheEntry) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, e, s.cacheTTL); err != nil {
		s.logger.Warn("Charge cache write failed", logging.Err(err))
	}
}

func (e *cacheEntry) solution(mol *molecule.Molecule) (*result.Solution, error) {
	if len(e.Charges) != mol.NumAtoms() || len(e.ClassOf) != mol.NumAtoms() {
		return nil, errors.Internal("cache entry does not match the molecule")
	}
	out, err := mol.WithCharges(e.Charges)
	if err != nil {
		return nil, err
	}
	if out, err = out.WithClasses(e.ClassOf); err != nil {
		return nil, err
	}
	return &result.Solution{
		Molecule:  out.WithTotalCharge(e.Total),
		Charges:   e.Charges,
		Classes:   e.Classes,
		Selection: e.Selection,
		Total:     e.Total,
		Stats:     e.Stats,
	}, nil
}

type bondKey struct {
	From int    `msgpack:"f"`
	To   int    `msgpack:"t"`
	Type string `msgpack:"o"`
}

type keyMaterial struct {
	Types    []string  `msgpack:"types"`
	Elements []string  `msgpack:"elements"`
	Bonds    []bondKey `msgpack:"bonds"`
	Total    int       `msgpack:"total"`
	Options  Options   `msgpack:"options"`
	Snapshot int64     `msgpack:"snapshot"`
}

// snapshotPrefix is shared by every cache key computed against repo.
func snapshotPrefix(repo *candidate.Repository) string {
	return "charge:" + strconv.FormatInt(repo.LoadedAt().UnixNano(), 36) + ":"
}

// cacheKey identifies a request by the molecule's structure in atom order,
// the target, the options and the repository snapshot. Atom order is part of
// the key because cached charges are stored per atom.
func cacheKey(mol *molecule.Molecule, total int, opts Options, repo *candidate.Repository) (string, error) {
	atoms := mol.Atoms()
	km := keyMaterial{
		Types:    make([]string, len(atoms)),
		Elements: make([]string, len(atoms)),
		Total:    total,
		Options:  opts,
		Snapshot: repo.LoadedAt().UnixNano(),
	}
	for i, a := range atoms {
		km.Types[i] = a.AtomType
		km.Elements[i] = a.Element
	}
	for _, b := range mol.Bonds() {
		km.Bonds = append(km.Bonds, bondKey{From: int(b.From), To: int(b.To), Type: b.Type.String()})
	}
	raw, err := msgpack.Marshal(&km)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode cache key")
	}
	sum := md5.Sum(raw)
	return snapshotPrefix(repo) + hex.EncodeToString(sum[:]), nil
}
