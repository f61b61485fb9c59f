// Package molecule provides the molecular graph model that every charging
// step operates on. A Molecule is an undirected, connected graph of atoms and
// bonds; it is built through a Builder, validated once, and immutable
// afterwards. Methods that "change" a molecule return a modified copy.
package molecule

import (
	"fmt"
	"sort"
	"strings"

	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Value Objects
// ─────────────────────────────────────────────────────────────────────────────

// AtomID is the dense, zero-based index of an atom inside its molecule.
type AtomID int

// BondType is the chemical order of a bond.
type BondType int

const (
	BondUnspecified BondType = 0 // treated as single for topology
	BondSingle      BondType = 1
	BondDouble      BondType = 2
	BondTriple      BondType = 3
	BondAromatic    BondType = 4
)

// IsValid reports whether t is a supported bond type.
func (t BondType) IsValid() bool {
	return t >= BondUnspecified && t <= BondAromatic
}

// String returns the LGF spelling of the bond type.
func (t BondType) String() string {
	if t == BondAromatic {
		return "ar"
	}
	return fmt.Sprintf("%d", int(t))
}

// ParseBondType parses an LGF bond type: 0..4 or "ar".
func ParseBondType(s string) (BondType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0":
		return BondUnspecified, nil
	case "1":
		return BondSingle, nil
	case "2":
		return BondDouble, nil
	case "3":
		return BondTriple, nil
	case "4", "ar":
		return BondAromatic, nil
	}
	return 0, errors.InvalidGraph("unsupported bond type").WithDetail(s)
}

// Mode selects which atom attribute colours the graph during classification.
type Mode string

const (
	// ModeIACM colours atoms by their IACM (GROMOS) atom type.
	ModeIACM Mode = "iacm"
	// ModeElement colours atoms by plain chemical element.
	ModeElement Mode = "elem"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeIACM || m == ModeElement
}

// Atom is one vertex of a molecule.
type Atom struct {
	ID AtomID `json:"id"`

	// Label is the caller's identifier for the atom (the LGF "label" column).
	Label string `json:"label"`

	// Name is the optional secondary label (the LGF "label2" column).
	Name string `json:"name,omitempty"`

	// AtomType is the IACM type, or a plain element when no IACM typing exists.
	AtomType string `json:"atom_type"`

	// Element is derived from AtomType when not given explicitly.
	Element string `json:"element"`

	// Charge is nil until assigned, or the reference charge read from input.
	Charge *float64 `json:"charge,omitempty"`

	// ClassID is nil until the molecule has been classified.
	ClassID *int `json:"class_id,omitempty"`

	// Attrs keeps input columns this package does not interpret.
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Color returns the atom's colour under mode.
func (a Atom) Color(mode Mode) string {
	if mode == ModeElement {
		return a.Element
	}
	return a.AtomType
}

func (a Atom) clone() Atom {
	c := a
	if a.Charge != nil {
		v := *a.Charge
		c.Charge = &v
	}
	if a.ClassID != nil {
		v := *a.ClassID
		c.ClassID = &v
	}
	if a.Attrs != nil {
		c.Attrs = make(map[string]string, len(a.Attrs))
		for k, v := range a.Attrs {
			c.Attrs[k] = v
		}
	}
	return c
}

// Bond is an undirected edge between two atoms.
type Bond struct {
	From AtomID   `json:"from"`
	To   AtomID   `json:"to"`
	Type BondType `json:"type"`

	// Label is the optional LGF edge label.
	Label string `json:"label,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Molecule Aggregate Root
// ─────────────────────────────────────────────────────────────────────────────

// Molecule is an immutable, validated molecular graph.
type Molecule struct {
	atoms []Atom
	bonds []Bond
	adj   [][]AtomID

	totalCharge    int
	hasTotalCharge bool

	// attrs holds graph-level attributes other than total_charge.
	attrs map[string]string
	// attrOrder is the input order of attrs.
	attrOrder []string
	// nodeColumns is the input order of the node columns.
	nodeColumns []string
}

// NumAtoms returns the number of atoms.
func (m *Molecule) NumAtoms() int { return len(m.atoms) }

// NumBonds returns the number of bonds.
func (m *Molecule) NumBonds() int { return len(m.bonds) }

// Atom returns a copy of the atom with the given id.
func (m *Molecule) Atom(id AtomID) Atom { return m.atoms[id].clone() }

// Atoms returns a copy of all atoms in id order.
func (m *Molecule) Atoms() []Atom {
	out := make([]Atom, len(m.atoms))
	for i, a := range m.atoms {
		out[i] = a.clone()
	}
	return out
}

// Bonds returns a copy of all bonds in input order.
func (m *Molecule) Bonds() []Bond {
	out := make([]Bond, len(m.bonds))
	copy(out, m.bonds)
	return out
}

// Neighbours returns the ids adjacent to id, ascending.
func (m *Molecule) Neighbours(id AtomID) []AtomID {
	out := make([]AtomID, len(m.adj[id]))
	copy(out, m.adj[id])
	return out
}

// Degree returns the number of bonds incident to id.
func (m *Molecule) Degree(id AtomID) int { return len(m.adj[id]) }

// MaxTotalCharge bounds the magnitude of a net charge accepted from input.
const MaxTotalCharge = 10000

// TotalCharge returns the total charge recorded with the molecule, if any.
func (m *Molecule) TotalCharge() (int, bool) { return m.totalCharge, m.hasTotalCharge }

// Attribute returns a graph-level attribute.
func (m *Molecule) Attribute(key string) (string, bool) {
	v, ok := m.attrs[key]
	return v, ok
}

// AttributeKeys returns graph-level attribute keys in input order.
func (m *Molecule) AttributeKeys() []string {
	out := make([]string, len(m.attrOrder))
	copy(out, m.attrOrder)
	return out
}

// NodeColumns returns the node columns in input order.
func (m *Molecule) NodeColumns() []string {
	out := make([]string, len(m.nodeColumns))
	copy(out, m.nodeColumns)
	return out
}

// Colors returns every atom's colour under mode, indexed by AtomID.
func (m *Molecule) Colors(mode Mode) []string {
	out := make([]string, len(m.atoms))
	for i, a := range m.atoms {
		out[i] = a.Color(mode)
	}
	return out
}

// BondOrders returns the sorted bond types incident to id.
func (m *Molecule) BondOrders(id AtomID) []BondType {
	var out []BondType
	for _, b := range m.bonds {
		if b.From == id || b.To == id {
			out = append(out, b.Type)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Edges returns every bond as an ordered pair (lower id first), sorted.
func (m *Molecule) Edges() [][2]AtomID {
	out := make([][2]AtomID, 0, len(m.bonds))
	for _, b := range m.bonds {
		u, v := b.From, b.To
		if u > v {
			u, v = v, u
		}
		out = append(out, [2]AtomID{u, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// HasCharges reports whether every atom carries a charge.
func (m *Molecule) HasCharges() bool {
	for _, a := range m.atoms {
		if a.Charge == nil {
			return false
		}
	}
	return true
}

// Charges returns every atom's charge, indexed by AtomID. It fails when an
// atom has no charge.
func (m *Molecule) Charges() ([]float64, error) {
	out := make([]float64, len(m.atoms))
	for i, a := range m.atoms {
		if a.Charge == nil {
			return nil, errors.InvalidParam("atom has no partial charge").WithDetail(a.Label)
		}
		out[i] = *a.Charge
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Copy-on-write derivations
// ─────────────────────────────────────────────────────────────────────────────

func (m *Molecule) clone() *Molecule {
	c := &Molecule{
		atoms:          m.Atoms(),
		bonds:          m.Bonds(),
		adj:            m.adj,
		totalCharge:    m.totalCharge,
		hasTotalCharge: m.hasTotalCharge,
		attrOrder:      append([]string(nil), m.attrOrder...),
		nodeColumns:    append([]string(nil), m.nodeColumns...),
		attrs:          make(map[string]string, len(m.attrs)),
	}
	for k, v := range m.attrs {
		c.attrs[k] = v
	}
	return c
}

// WithCharges returns a copy whose atoms carry the given charges.
func (m *Molecule) WithCharges(charges []float64) (*Molecule, error) {
	if len(charges) != len(m.atoms) {
		return nil, errors.InvalidParam("charge count does not match atom count").
			WithDetail(fmt.Sprintf("charges=%d atoms=%d", len(charges), len(m.atoms)))
	}
	c := m.clone()
	for i := range c.atoms {
		v := charges[i]
		c.atoms[i].Charge = &v
	}
	return c, nil
}

// WithClasses returns a copy whose atoms carry the given class ids.
func (m *Molecule) WithClasses(classOf []int) (*Molecule, error) {
	if len(classOf) != len(m.atoms) {
		return nil, errors.InvalidParam("class count does not match atom count")
	}
	c := m.clone()
	for i := range c.atoms {
		v := classOf[i]
		c.atoms[i].ClassID = &v
	}
	return c, nil
}

// WithTotalCharge returns a copy recording total as the molecule's charge.
func (m *Molecule) WithTotalCharge(total int) *Molecule {
	c := m.clone()
	c.totalCharge = total
	c.hasTotalCharge = true
	return c
}

// WithoutCharges returns a copy with every charge and class id cleared.
func (m *Molecule) WithoutCharges() *Molecule {
	c := m.clone()
	for i := range c.atoms {
		c.atoms[i].Charge = nil
		c.atoms[i].ClassID = nil
	}
	return c
}

// AsElements returns a copy whose atom types are replaced by plain elements.
func (m *Molecule) AsElements() *Molecule {
	c := m.clone()
	for i := range c.atoms {
		c.atoms[i].AtomType = c.atoms[i].Element
	}
	return c
}
