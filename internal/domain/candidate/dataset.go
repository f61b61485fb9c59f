package candidate

import (
	"fmt"
	"sort"

	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Observation is one reference charge together with where it was observed.
// It encodes as a [charge, molid, atom] array.
type Observation struct {
	_msgpack struct{} `msgpack:",as_array"`

	Charge     float64 `msgpack:"charge" json:"charge"`
	MoleculeID int     `msgpack:"molid" json:"molid"`
	Atom       string  `msgpack:"atom" json:"atom"`
}

// ShellData maps environment signatures to their observations at one shell.
type ShellData map[string][]Observation

// Dataset is the raw, traceable content of a repository: observations per
// (mode, shell, signature) and, per mode, the groups of isomorphic molecules.
// A Dataset is mutable while a repository is being built and must not be
// modified once handed to NewRepository.
type Dataset struct {
	// Oracle names the canonicaliser the signatures were computed with. It
	// is empty for datasets written before it was recorded.
	Oracle    string                              `msgpack:"oracle" json:"oracle"`
	MinShell  int                                 `msgpack:"min_shell" json:"min_shell"`
	MaxShell  int                                 `msgpack:"max_shell" json:"max_shell"`
	Charges   map[molecule.Mode]map[int]ShellData `msgpack:"charges" json:"charges"`
	Isomorphs map[molecule.Mode]map[int][]int     `msgpack:"isomorphs" json:"isomorphs"`
}

// NewDataset returns an empty dataset covering shells min..max.
func NewDataset(minShell, maxShell int) *Dataset {
	d := &Dataset{
		MinShell:  minShell,
		MaxShell:  maxShell,
		Charges:   make(map[molecule.Mode]map[int]ShellData),
		Isomorphs: make(map[molecule.Mode]map[int][]int),
	}
	for _, mode := range []molecule.Mode{molecule.ModeIACM, molecule.ModeElement} {
		d.Charges[mode] = make(map[int]ShellData)
		d.Isomorphs[mode] = make(map[int][]int)
	}
	return d
}

// CheckOracle fails when d was built with an oracle other than oracle. An
// unrecorded oracle on either side is not checked.
func (d *Dataset) CheckOracle(oracle string) error {
	if d.Oracle == "" || oracle == "" || d.Oracle == oracle {
		return nil
	}
	return errors.New(errors.ErrCodeRepositoryUnavailable, "repository signatures come from a different oracle").
		WithDetail(fmt.Sprintf("repository built with %s, classifier uses %s", d.Oracle, oracle))
}

// Add records an observation.
func (d *Dataset) Add(mode molecule.Mode, shell int, signature string, obs Observation) {
	shells, ok := d.Charges[mode]
	if !ok {
		shells = make(map[int]ShellData)
		d.Charges[mode] = shells
	}
	sd, ok := shells[shell]
	if !ok {
		sd = make(ShellData)
		shells[shell] = sd
	}
	sd[signature] = append(sd[signature], obs)
}

// RemoveMolecule drops every observation of molid and its isomorphism
// membership. It returns the number of observations removed.
func (d *Dataset) RemoveMolecule(molid int) int {
	removed := 0
	for _, shells := range d.Charges {
		for _, sd := range shells {
			for sig, list := range sd {
				kept := list[:0]
				for _, o := range list {
					if o.MoleculeID == molid {
						removed++
						continue
					}
					kept = append(kept, o)
				}
				if len(kept) == 0 {
					delete(sd, sig)
				} else {
					sd[sig] = kept
				}
			}
		}
	}
	for mode, iso := range d.Isomorphs {
		group, ok := iso[molid]
		if !ok {
			continue
		}
		delete(iso, molid)
		var rest []int
		for _, m := range group {
			if m != molid {
				rest = append(rest, m)
			}
		}
		for _, m := range rest {
			if len(rest) > 1 {
				iso[m] = rest
			} else {
				delete(iso, m)
			}
		}
		d.Isomorphs[mode] = iso
	}
	return removed
}

// SetIsomorphs replaces the isomorphism groups for mode. Groups of one
// molecule are not recorded.
func (d *Dataset) SetIsomorphs(mode molecule.Mode, groups [][]int) {
	iso := make(map[int][]int)
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		members := append([]int(nil), g...)
		sort.Ints(members)
		for _, m := range members {
			iso[m] = members
		}
	}
	d.Isomorphs[mode] = iso
}

// Molecules returns the ids of every molecule with at least one observation.
func (d *Dataset) Molecules() []int {
	seen := make(map[int]struct{})
	for _, shells := range d.Charges {
		for _, sd := range shells {
			for _, list := range sd {
				for _, o := range list {
					seen[o.MoleculeID] = struct{}{}
				}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// ObservationCount returns the number of observations at (mode, shell).
func (d *Dataset) ObservationCount(mode molecule.Mode, shell int) int {
	n := 0
	for _, list := range d.Charges[mode][shell] {
		n += len(list)
	}
	return n
}
