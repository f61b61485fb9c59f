package molecule

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/dominikbraun/graph"

	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Builder accumulates atoms and bonds and validates them into a Molecule.
// A Builder is not safe for concurrent use.
type Builder struct {
	atoms  []Atom
	bonds  []Bond
	labels map[string]AtomID

	totalCharge    int
	hasTotalCharge bool
	attrs          map[string]string
	attrOrder      []string
	nodeColumns    []string

	err error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		labels: make(map[string]AtomID),
		attrs:  make(map[string]string),
	}
}

// AddAtom appends an atom and returns its id. An empty label defaults to the
// one-based position; a repeated label is reported by Build.
func (b *Builder) AddAtom(a Atom) AtomID {
	id := AtomID(len(b.atoms))
	a = a.clone()
	a.ID = id
	a.ClassID = nil
	if a.Label == "" {
		a.Label = strconv.Itoa(int(id) + 1)
	}
	if a.Element == "" {
		a.Element = ElementOf(a.AtomType)
	}
	if _, dup := b.labels[a.Label]; dup && b.err == nil {
		b.err = errors.InvalidGraph("duplicate atom label").WithDetail(a.Label)
	}
	b.labels[a.Label] = id
	b.atoms = append(b.atoms, a)
	return id
}

// AddBond appends a bond between two atom ids.
func (b *Builder) AddBond(from, to AtomID, t BondType) *Builder {
	b.bonds = append(b.bonds, Bond{From: from, To: to, Type: t})
	return b
}

// AddLabelledBond appends a bond between two atoms identified by label.
func (b *Builder) AddLabelledBond(from, to string, t BondType, label string) *Builder {
	u, okU := b.labels[from]
	v, okV := b.labels[to]
	if !okU || !okV {
		if b.err == nil {
			b.err = errors.InvalidGraph("bond references unknown atom").
				WithDetail(fmt.Sprintf("%s-%s", from, to))
		}
		return b
	}
	b.bonds = append(b.bonds, Bond{From: u, To: v, Type: t, Label: label})
	return b
}

// SetTotalCharge records the molecule's total charge.
func (b *Builder) SetTotalCharge(total int) *Builder {
	b.totalCharge = total
	b.hasTotalCharge = true
	return b
}

// SetAttribute records a graph-level attribute, preserving first-seen order.
func (b *Builder) SetAttribute(key, value string) *Builder {
	if _, ok := b.attrs[key]; !ok {
		b.attrOrder = append(b.attrOrder, key)
	}
	b.attrs[key] = value
	return b
}

// SetNodeColumns records the input order of the per-atom columns.
func (b *Builder) SetNodeColumns(cols []string) *Builder {
	b.nodeColumns = append([]string(nil), cols...)
	return b
}

// Build validates the accumulated graph. Every structural defect is reported
// as CodeInvalidGraph: no atoms, a bond to an unknown atom, a self loop, a
// repeated bond, an unsupported bond type, or a disconnected graph.
func (b *Builder) Build() (*Molecule, error) {
	if b.err != nil {
		return nil, b.err
	}
	n := len(b.atoms)
	if n == 0 {
		return nil, errors.InvalidGraph("molecule has no atoms")
	}

	g := graph.New(graph.IntHash)
	for i := 0; i < n; i++ {
		if err := g.AddVertex(i); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "graph construction failed")
		}
	}
	for _, bd := range b.bonds {
		if bd.From < 0 || int(bd.From) >= n || bd.To < 0 || int(bd.To) >= n {
			return nil, errors.InvalidGraph("bond references unknown atom").
				WithDetail(fmt.Sprintf("%d-%d", bd.From, bd.To))
		}
		if bd.From == bd.To {
			return nil, errors.InvalidGraph("self loop").WithDetail(b.atoms[bd.From].Label)
		}
		if !bd.Type.IsValid() {
			return nil, errors.InvalidGraph("unsupported bond type").WithDetail(strconv.Itoa(int(bd.Type)))
		}
		if err := g.AddEdge(int(bd.From), int(bd.To)); err != nil {
			if stderrors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, errors.InvalidGraph("duplicate bond").
					WithDetail(fmt.Sprintf("%s-%s", b.atoms[bd.From].Label, b.atoms[bd.To].Label))
			}
			return nil, errors.Wrap(err, errors.CodeInvalidGraph, "cannot add bond")
		}
	}

	reached := 0
	if err := graph.BFS(g, 0, func(int) bool {
		reached++
		return false
	}); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "connectivity check failed")
	}
	if reached != n {
		return nil, errors.InvalidGraph("molecule graph is disconnected").
			WithDetail(fmt.Sprintf("reached %d of %d atoms", reached, n))
	}

	adjMap, err := g.AdjacencyMap()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "adjacency map failed")
	}
	adj := make([][]AtomID, n)
	for u, nbrs := range adjMap {
		list := make([]AtomID, 0, len(nbrs))
		for v := range nbrs {
			list = append(list, AtomID(v))
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		adj[u] = list
	}

	m := &Molecule{
		atoms:          make([]Atom, n),
		bonds:          append([]Bond(nil), b.bonds...),
		adj:            adj,
		totalCharge:    b.totalCharge,
		hasTotalCharge: b.hasTotalCharge,
		attrs:          make(map[string]string, len(b.attrs)),
		attrOrder:      append([]string(nil), b.attrOrder...),
		nodeColumns:    append([]string(nil), b.nodeColumns...),
	}
	for i, a := range b.atoms {
		m.atoms[i] = a.clone()
	}
	for k, v := range b.attrs {
		m.attrs[k] = v
	}
	return m, nil
}
