// Package result turns an engine selection back into per-atom charges and
// verifies the outcome before it leaves the domain layer.
package result

import (
	"fmt"
	"math"
	"time"

	"github.com/turtacn/ChargeAssign/internal/domain/assignment"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/equivalence"
	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Stats describes how a solution was found.
type Stats struct {
	Mode     molecule.Mode `json:"mode"`
	Shell    int           `json:"shell"`
	Classes  int           `json:"classes"`
	Items    int           `json:"items"`
	PeakSize int           `json:"peak_table_size"`
	Weight   float64       `json:"weight"`
	Solve    time.Duration `json:"solve_duration"`
	// Attempts counts the (mode, shell) combinations tried before this one
	// succeeded, this one included.
	Attempts int `json:"attempts"`
}

// Solution is an immutable charged molecule.
type Solution struct {
	// Molecule carries the charges, class ids and total charge.
	Molecule  *molecule.Molecule   `json:"-"`
	Charges   []float64            `json:"charges"`
	Classes   []equivalence.Class  `json:"classes"`
	Selection assignment.Selection `json:"selection"`
	Total     int                  `json:"total_charge"`
	Stats     Stats                `json:"stats"`
}

// Input collects everything Map needs.
type Input struct {
	Molecule       *molecule.Molecule
	Classification *equivalence.Classification
	Domains        [][]candidate.Candidate
	Result         *assignment.Result
	Total          int
}

// Mapper broadcasts class values to atoms and rechecks the sum, symmetry and
// domain membership on the resolution grid.
type Mapper struct {
	resolution float64
}

// NewMapper returns a Mapper for the given grid.
func NewMapper(resolution float64) (*Mapper, error) {
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, errors.InvalidParam("resolution must be a positive number")
	}
	return &Mapper{resolution: resolution}, nil
}

func inconsistent(format string, args ...interface{}) error {
	return errors.InternalInconsistency("charge assignment violated its invariants").
		WithDetail(fmt.Sprintf(format, args...))
}

// Map produces the Solution for in. Any violated post-condition is reported
// as CodeInternalInconsistency and no partial solution is returned.
func (m *Mapper) Map(in Input) (*Solution, error) {
	mol, cls, res := in.Molecule, in.Classification, in.Result
	if mol == nil || cls == nil || res == nil {
		return nil, errors.Internal("incomplete result mapping input")
	}
	k := len(cls.Classes)
	if len(res.Selection) != k || len(res.Values) != k || len(in.Domains) != k {
		return nil, inconsistent("classes=%d selection=%d values=%d domains=%d",
			k, len(res.Selection), len(res.Values), len(in.Domains))
	}

	n := mol.NumAtoms()
	charges := make([]float64, n)
	classOf := make([]int, n)
	assigned := make([]bool, n)
	for i, c := range cls.Classes {
		j := res.Selection[i]
		if j < 0 || j >= len(in.Domains[i]) {
			return nil, inconsistent("class %d selects candidate %d of %d", i, j, len(in.Domains[i]))
		}
		v := res.Values[i]
		if in.Domains[i][j].Value != v {
			return nil, inconsistent("class %d value %v is not candidate %d (%v)", i, v, j, in.Domains[i][j].Value)
		}
		for _, a := range c.Members {
			if int(a) < 0 || int(a) >= n {
				return nil, inconsistent("class %d member %d outside molecule", i, a)
			}
			if assigned[a] {
				return nil, inconsistent("atom %d is in more than one class", a)
			}
			assigned[a] = true
			charges[a] = v
			classOf[a] = c.ID
		}
	}
	for a, ok := range assigned {
		if !ok {
			return nil, inconsistent("atom %d has no class", a)
		}
	}

	for i, c := range cls.Classes {
		for _, a := range c.Members[1:] {
			if charges[a] != charges[c.Members[0]] {
				return nil, inconsistent("class %d members %d and %d differ", i, c.Members[0], a)
			}
		}
	}

	var sum int64
	for _, q := range charges {
		sum += candidate.Quantize(q, m.resolution)
	}
	if want := candidate.Quantize(float64(in.Total), m.resolution); sum != want {
		return nil, inconsistent("charge sum %d steps, want %d", sum, want)
	}

	out, err := mol.WithCharges(charges)
	if err != nil {
		return nil, err
	}
	out, err = out.WithClasses(classOf)
	if err != nil {
		return nil, err
	}
	out = out.WithTotalCharge(in.Total)

	return &Solution{
		Molecule:  out,
		Charges:   charges,
		Classes:   append([]equivalence.Class(nil), cls.Classes...),
		Selection: append(assignment.Selection(nil), res.Selection...),
		Total:     in.Total,
		Stats: Stats{
			Mode:     cls.Mode,
			Shell:    cls.Shell,
			Classes:  res.Stats.Classes,
			Items:    res.Stats.Items,
			PeakSize: res.Stats.PeakTableSize,
			Weight:   res.Weight,
			Solve:    res.Stats.Duration,
			Attempts: 1,
		},
	}, nil
}
