// Package validation measures charge assignment quality by leave-one-out
// cross-validation over a reference set.
package validation

import (
	"encoding/json"
	"io"
	"math"

	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Categories are the element groups atom errors are reported under.
var Categories = []string{"C", "H", "N", "O", "P", "S", "Other"}

// CategoryOf maps an element symbol to its report category.
func CategoryOf(element string) string {
	switch element {
	case "C", "H", "N", "O", "P", "S":
		return element
	}
	return "Other"
}

// AtomReport accumulates per-atom charge errors.
type AtomReport struct {
	TotalAtoms int       `json:"total_atoms"`
	SumAbsErr  float64   `json:"sum_abs_atom_err"`
	SumSqErr   float64   `json:"sum_sq_atom_err"`
	Errors     []float64 `json:"atom_errors"`
}

// Add records one atom error (assigned minus reference).
func (r *AtomReport) Add(err float64) {
	r.TotalAtoms++
	r.SumAbsErr += math.Abs(err)
	r.SumSqErr += err * err
	r.Errors = append(r.Errors, err)
}

// Merge adds o's observations to r.
func (r *AtomReport) Merge(o *AtomReport) {
	r.TotalAtoms += o.TotalAtoms
	r.SumAbsErr += o.SumAbsErr
	r.SumSqErr += o.SumSqErr
	r.Errors = append(r.Errors, o.Errors...)
}

// MAE is the mean absolute error, or 0 when empty.
func (r *AtomReport) MAE() float64 {
	if r.TotalAtoms == 0 {
		return 0
	}
	return r.SumAbsErr / float64(r.TotalAtoms)
}

// MSE is the mean squared error, or 0 when empty.
func (r *AtomReport) MSE() float64 {
	if r.TotalAtoms == 0 {
		return 0
	}
	return r.SumSqErr / float64(r.TotalAtoms)
}

func (r *AtomReport) RMSE() float64 { return math.Sqrt(r.MSE()) }

// TotalChargeError is the deviation of one molecule's assigned total.
type TotalChargeError struct {
	MoleculeID int     `json:"molid"`
	Err        float64 `json:"error"`
}

// SolverStat describes the solve of one molecule.
type SolverStat struct {
	MoleculeID    int     `json:"molid"`
	MAE           float64 `json:"mean_abs_atom_err"`
	Seconds       float64 `json:"seconds"`
	Items         int     `json:"items"`
	PeakTableSize int     `json:"peak_table_size"`
	Shell         int     `json:"shell"`
	Mode          string  `json:"mode"`
}

// MoleculeReport accumulates per-molecule results.
type MoleculeReport struct {
	TotalMolecules    int                `json:"total_mols"`
	SumAbsTotalErr    float64            `json:"sum_abs_total_err"`
	SumSqTotalErr     float64            `json:"sum_sq_total_err"`
	TotalChargeErrors []TotalChargeError `json:"total_charge_errors"`
	SolverStats       []SolverStat       `json:"solver_stats"`
}

// AddTotalChargeError records one charged molecule.
func (r *MoleculeReport) AddTotalChargeError(molid int, err float64) {
	r.TotalMolecules++
	r.SumAbsTotalErr += math.Abs(err)
	r.SumSqTotalErr += err * err
	r.TotalChargeErrors = append(r.TotalChargeErrors, TotalChargeError{MoleculeID: molid, Err: err})
}

func (r *MoleculeReport) Merge(o *MoleculeReport) {
	r.TotalMolecules += o.TotalMolecules
	r.SumAbsTotalErr += o.SumAbsTotalErr
	r.SumSqTotalErr += o.SumSqTotalErr
	r.TotalChargeErrors = append(r.TotalChargeErrors, o.TotalChargeErrors...)
	r.SolverStats = append(r.SolverStats, o.SolverStats...)
}

func (r *MoleculeReport) MeanAbsTotalErr() float64 {
	if r.TotalMolecules == 0 {
		return 0
	}
	return r.SumAbsTotalErr / float64(r.TotalMolecules)
}

func (r *MoleculeReport) MeanSqTotalErr() float64 {
	if r.TotalMolecules == 0 {
		return 0
	}
	return r.SumSqTotalErr / float64(r.TotalMolecules)
}

func (r *MoleculeReport) RMSTotalErr() float64 { return math.Sqrt(r.MeanSqTotalErr()) }

// MeanTime is the mean solve time in seconds.
func (r *MoleculeReport) MeanTime() float64 {
	if r.TotalMolecules == 0 {
		return 0
	}
	var sum float64
	for _, s := range r.SolverStats {
		sum += s.Seconds
	}
	return sum / float64(r.TotalMolecules)
}

// Report is the outcome of a cross-validation run. Reports of separate
// buckets merge into the report of the whole set.
type Report struct {
	PerAtom     map[string]*AtomReport `json:"per_atom"`
	PerMolecule *MoleculeReport        `json:"per_molecule"`
	// Warnings counts molecules that could not be charged.
	Warnings int `json:"warnings"`
}

// NewReport returns an empty report with every category present.
func NewReport() *Report {
	r := &Report{
		PerAtom:     make(map[string]*AtomReport, len(Categories)),
		PerMolecule: &MoleculeReport{},
	}
	for _, c := range Categories {
		r.PerAtom[c] = &AtomReport{}
	}
	return r
}

// Category returns the atom report for element's category.
func (r *Report) Category(element string) *AtomReport {
	return r.PerAtom[CategoryOf(element)]
}

// Merge adds o to r.
func (r *Report) Merge(o *Report) {
	for _, c := range Categories {
		if a := o.PerAtom[c]; a != nil {
			r.PerAtom[c].Merge(a)
		}
	}
	if o.PerMolecule != nil {
		r.PerMolecule.Merge(o.PerMolecule)
	}
	r.Warnings += o.Warnings
}

// WriteJSON writes r as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode validation report")
	}
	return nil
}

// ReadReport decodes a report written by WriteJSON. Missing categories are
// filled in empty.
func ReadReport(rd io.Reader) (*Report, error) {
	r := NewReport()
	if err := json.NewDecoder(rd).Decode(r); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode validation report")
	}
	for _, c := range Categories {
		if r.PerAtom[c] == nil {
			r.PerAtom[c] = &AtomReport{}
		}
	}
	if r.PerMolecule == nil {
		r.PerMolecule = &MoleculeReport{}
	}
	return r, nil
}
