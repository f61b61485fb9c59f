package validation

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/application/repository"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Options selects what a cross-validation run covers.
type Options struct {
	// IACM keeps IACM atom types on the test molecule and falls back to
	// elements. When false the molecule is reduced to plain elements.
	IACM bool
	// Shells to try, largest first. Empty means every repository shell.
	Shells []int
	// Only molecules with molid % Buckets == Bucket are tested.
	Bucket  int
	Buckets int
}

// Validator charges each reference molecule from the rest of the
// repository and compares the result with its reference charges.
type Validator struct {
	pipeline *charging.Pipeline
	logger   logging.Logger
	metrics  *prometheus.ChargeMetrics
	workers  int
}

type Option func(*Validator)

func WithMetrics(m *prometheus.ChargeMetrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithWorkers bounds the molecules validated at once.
func WithWorkers(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.workers = n
		}
	}
}

func NewValidator(pipeline *charging.Pipeline, logger logging.Logger, opts ...Option) *Validator {
	v := &Validator{pipeline: pipeline, logger: logger, workers: 4}
	for _, o := range opts {
		o(v)
	}
	return v
}

// CrossValidate tests every selected "<molid>.lgf" molecule in dir against
// repo with that molecule and its isomorphs left out. Molecules that cannot
// be charged are logged and counted in Warnings.
func (v *Validator) CrossValidate(ctx context.Context, repo *candidate.Repository, dir string, opts Options) (*Report, error) {
	if repo == nil {
		return nil, errors.New(errors.ErrCodeRepositoryUnavailable, "no charge repository loaded")
	}
	if opts.Buckets == 0 {
		opts.Buckets = 1
	}
	if opts.Buckets < 0 || opts.Bucket < 0 || opts.Bucket >= opts.Buckets {
		return nil, errors.InvalidParam("bucket out of range").
			WithDetail(fmt.Sprintf("bucket %d of %d", opts.Bucket, opts.Buckets))
	}
	shells, err := v.shells(repo, opts.Shells)
	if err != nil {
		return nil, err
	}
	charge := charging.Options{Shells: shells, IACM: opts.IACM, FallbackToElements: opts.IACM}

	ids, err := repository.ListMolecules(dir)
	if err != nil {
		return nil, err
	}
	var selected []int
	for _, id := range ids {
		if id%opts.Buckets == opts.Bucket {
			selected = append(selected, id)
		}
	}

	reports := make([]*Report, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, id := range selected {
		i, id := i, id
		g.Go(func() error {
			mol, err := repository.ReadMolecule(dir, id)
			if err != nil {
				return err
			}
			reports[i], err = v.validateMolecule(gctx, repo, id, mol, opts.IACM, charge)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := NewReport()
	for _, r := range reports {
		out.Merge(r)
	}
	if v.metrics != nil {
		for _, c := range Categories {
			v.metrics.ValidationMAE.WithLabelValues(c).Set(out.PerAtom[c].MAE())
		}
	}
	v.logger.Info("Cross-validation finished",
		logging.Int("molecules", len(selected)),
		logging.Int("charged", out.PerMolecule.TotalMolecules),
		logging.Int("warnings", out.Warnings),
		logging.Bool("iacm", opts.IACM))
	return out, nil
}

func (v *Validator) shells(repo *candidate.Repository, wanted []int) ([]int, error) {
	if len(wanted) == 0 {
		return nil, nil
	}
	var out []int
	for _, s := range wanted {
		if !repo.HasShell(s) {
			v.logger.Warn("Shell is not in the repository and will not be used", logging.Shell(s))
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.InvalidParam("no requested shell is available").WithDetail(fmt.Sprint(wanted))
	}
	return out, nil
}

// validateMolecule returns an error only when the run itself must stop.
// A molecule that cannot be charged yields an empty report with one warning.
func (v *Validator) validateMolecule(ctx context.Context, repo *candidate.Repository, molid int, mol *molecule.Molecule, iacm bool, opts charging.Options) (*Report, error) {
	report := NewReport()
	ref, err := mol.Charges()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "reference molecule must be fully charged").
			WithDetail(fmt.Sprintf("molecule %d", molid))
	}
	var sum float64
	for _, q := range ref {
		sum += q
	}
	total := int(math.Round(sum))

	test := mol.WithoutCharges()
	if !iacm {
		test = test.AsElements()
	}

	start := time.Now()
	sol, err := v.pipeline.Run(ctx, repo.Without(molid), test, total, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		v.logger.Warn("Could not charge molecule",
			logging.Int("molid", molid),
			logging.Any("shells", opts.Shells),
			logging.Err(err))
		report.Warnings++
		return report, nil
	}

	own := &AtomReport{}
	var assigned float64
	for i, a := range mol.Atoms() {
		e := sol.Charges[i] - ref[i]
		report.Category(a.Element).Add(e)
		own.Add(e)
		assigned += sol.Charges[i]
	}
	report.PerMolecule.AddTotalChargeError(molid, assigned-float64(total))
	report.PerMolecule.SolverStats = append(report.PerMolecule.SolverStats, SolverStat{
		MoleculeID:    molid,
		MAE:           own.MAE(),
		Seconds:       time.Since(start).Seconds(),
		Items:         sol.Stats.Items,
		PeakTableSize: sol.Stats.PeakSize,
		Shell:         sol.Stats.Shell,
		Mode:          string(sol.Stats.Mode),
	})
	return report, nil
}
