// Package charging assigns partial charges to molecules: classification,
// candidate lookup, exact-sum search and result mapping, with shell and
// atom-type fallback.
package charging

import (
	"context"
	"fmt"
	"sort"

	"github.com/turtacn/ChargeAssign/internal/domain/assignment"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/equivalence"
	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/internal/domain/result"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Options selects the lookup strategy for one molecule.
type Options struct {
	// Shells are tried from largest to smallest. Empty means every shell the
	// repository holds.
	Shells []int `json:"shells,omitempty" msgpack:"shells"`
	// IACM looks candidates up by IACM atom type first.
	IACM bool `json:"iacm" msgpack:"iacm"`
	// FallbackToElements retries with plain elements when no IACM shell
	// succeeds.
	FallbackToElements bool `json:"fallback_to_elements" msgpack:"fallback"`
}

// Pipeline runs one molecule through classification, lookup, search and
// mapping. It is stateless and safe for concurrent use.
type Pipeline struct {
	classifier *equivalence.Classifier
	engine     *assignment.Engine
	mapper     *result.Mapper
	logger     logging.Logger
}

// NewPipeline wires the domain components together.
func NewPipeline(classifier *equivalence.Classifier, engine *assignment.Engine, mapper *result.Mapper, logger logging.Logger) *Pipeline {
	return &Pipeline{classifier: classifier, engine: engine, mapper: mapper, logger: logger}
}

// attempt is one (mode, shell) combination.
type attempt struct {
	mode  molecule.Mode
	shell int
}

func plan(repo *candidate.Repository, opts Options) ([]attempt, error) {
	shells := opts.Shells
	if len(shells) == 0 {
		for s := repo.MinShell(); s <= repo.MaxShell(); s++ {
			shells = append(shells, s)
		}
	}
	seen := make(map[int]bool)
	var usable []int
	for _, s := range shells {
		if repo.HasShell(s) && !seen[s] {
			seen[s] = true
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 {
		return nil, errors.InvalidParam("no requested shell is available").
			WithDetail(fmt.Sprintf("requested %v, repository has [%d, %d]", shells, repo.MinShell(), repo.MaxShell()))
	}
	sort.Sort(sort.Reverse(sort.IntSlice(usable)))

	modes := []molecule.Mode{molecule.ModeElement}
	if opts.IACM {
		modes = []molecule.Mode{molecule.ModeIACM}
		if opts.FallbackToElements {
			modes = append(modes, molecule.ModeElement)
		}
	}
	out := make([]attempt, 0, len(modes)*len(usable))
	for _, m := range modes {
		for _, s := range usable {
			out = append(out, attempt{mode: m, shell: s})
		}
	}
	return out, nil
}

// Run charges mol so that its charges sum to total. Attempts that end in
// UnknownFragment, Infeasible or SearchExhausted fall through to the next
// (mode, shell); any other failure ends the run. When every attempt fails
// the last failure is returned.
func (p *Pipeline) Run(ctx context.Context, repo *candidate.Repository, mol *molecule.Molecule, total int, opts Options) (*result.Solution, error) {
	if repo == nil {
		return nil, errors.New(errors.ErrCodeRepositoryUnavailable, "no charge repository loaded")
	}
	if mol == nil {
		return nil, errors.InvalidParam("molecule is required")
	}
	attempts, err := plan(repo, opts)
	if err != nil {
		return nil, err
	}

	var (
		lastErr error
		orbits  *equivalence.Orbits
	)
	for i, at := range attempts {
		if orbits == nil || orbits.Mode != at.mode {
			if orbits, err = p.classifier.Orbits(ctx, mol, at.mode); err != nil {
				return nil, err
			}
		}
		sol, err := p.solve(ctx, repo, mol, orbits, at.shell, total)
		if err == nil {
			sol.Stats.Attempts = i + 1
			return sol, nil
		}
		if !errors.IsUnsolvable(err) {
			return nil, err
		}
		p.logger.Debug("Charge attempt failed, falling back",
			logging.Mode(string(at.mode)),
			logging.Shell(at.shell),
			logging.String("code", errors.GetCode(err).String()))
		lastErr = err
	}
	return nil, lastErr
}

func (p *Pipeline) solve(ctx context.Context, repo *candidate.Repository, mol *molecule.Molecule, orbits *equivalence.Orbits, shell, total int) (*result.Solution, error) {
	cls, err := p.classifier.Label(ctx, mol, orbits, shell)
	if err != nil {
		return nil, err
	}
	table, err := repo.Table(cls.Mode, shell)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "candidate table unavailable")
	}

	problem := assignment.Problem{
		Classes: make([]assignment.Class, len(cls.Classes)),
		Target:  float64(total),
	}
	domains := make([][]candidate.Candidate, len(cls.Classes))
	for i, c := range cls.Classes {
		domains[i] = table.Lookup(c.Signature)
		problem.Classes[i] = assignment.Class{Multiplicity: c.Multiplicity(), Candidates: domains[i]}
	}

	res, err := p.engine.Solve(ctx, problem)
	if err != nil {
		return nil, err
	}
	return p.mapper.Map(result.Input{
		Molecule:       mol,
		Classification: cls,
		Domains:        domains,
		Result:         res,
		Total:          total,
	})
}
