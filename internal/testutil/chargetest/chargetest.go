// Package chargetest builds a charging service over the testutil reference
// set for transport and worker tests.
package chargetest

import (
	"context"
	"testing"

	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/application/repository"
	"github.com/turtacn/ChargeAssign/internal/domain/assignment"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/equivalence"
	"github.com/turtacn/ChargeAssign/internal/domain/result"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/testutil"
)

const Resolution = 0.001

// Defaults tries shells 2 and 1 with IACM types and falls back to elements.
var Defaults = charging.Options{Shells: []int{2, 1}, IACM: true, FallbackToElements: true}

// Fixture is a service together with the parts it was built from.
type Fixture struct {
	Service  *charging.Service
	Pipeline *charging.Pipeline
	Holder   *candidate.Holder
	Repo     *candidate.Repository
	Dir      string
}

// New builds the reference set at shells 1..2 and returns a ready service.
func New(t testing.TB, opts ...charging.ServiceOption) *Fixture {
	t.Helper()
	dir := testutil.WriteReferenceSet(t)
	classifier := equivalence.NewClassifier(equivalence.NewRefinementCanonicalizer(100000))
	d, err := repository.Build(context.Background(), classifier, dir, 1, 2, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("build reference repository: %v", err)
	}
	repo, err := candidate.NewRepository(d, candidate.Options{Resolution: Resolution})
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	engine, err := assignment.NewEngine(assignment.Config{Resolution: Resolution, MaxTableSize: 100000})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	mapper, err := result.NewMapper(Resolution)
	if err != nil {
		t.Fatalf("new mapper: %v", err)
	}
	pipeline := charging.NewPipeline(classifier, engine, mapper, logging.NewNopLogger())
	holder := candidate.NewHolder(repo)
	return &Fixture{
		Service:  charging.NewService(pipeline, holder, Defaults, logging.NewNopLogger(), opts...),
		Pipeline: pipeline,
		Holder:   holder,
		Repo:     repo,
		Dir:      dir,
	}
}

// Empty returns a service with no repository loaded.
func (f *Fixture) Empty() *charging.Service {
	return charging.NewService(f.Pipeline, candidate.NewHolder(nil), Defaults, logging.NewNopLogger())
}
