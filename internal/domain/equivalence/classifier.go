package equivalence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Class is one topological equivalence class: atoms the graph's symmetry
// maps onto each other. Multiplicity is len(Members).
type Class struct {
	ID        int               `json:"id"`
	Signature string            `json:"signature"`
	Members   []molecule.AtomID `json:"members"`
}

// Multiplicity returns the number of atoms in the class.
func (c Class) Multiplicity() int { return len(c.Members) }

// Classification is the partition of a molecule into classes.
type Classification struct {
	Mode    molecule.Mode `json:"mode"`
	Shell   int           `json:"shell"`
	Classes []Class       `json:"classes"`
	// ClassOf maps every AtomID to its class ID.
	ClassOf []int `json:"class_of"`
}

// Orbits is the shell-independent symmetry partition of a molecule.
type Orbits struct {
	Mode   molecule.Mode
	Groups [][]molecule.AtomID
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithOracleTimeout bounds every classification call.
func WithOracleTimeout(d time.Duration) Option {
	return func(c *Classifier) { c.timeout = d }
}

// WithBondOrderColors extends atom colours with incident bond orders when
// detecting symmetry. Environment signatures are unaffected.
func WithBondOrderColors(enabled bool) Option {
	return func(c *Classifier) { c.bondOrders = enabled }
}

// WithSymmetry toggles symmetry detection. When disabled every atom forms its
// own class.
func WithSymmetry(enabled bool) Option {
	return func(c *Classifier) { c.symmetric = enabled }
}

// Classifier partitions molecules into equivalence classes.
type Classifier struct {
	canon      Canonicalizer
	timeout    time.Duration
	bondOrders bool
	symmetric  bool
}

// NewClassifier returns a Classifier backed by canon.
func NewClassifier(canon Canonicalizer, opts ...Option) *Classifier {
	c := &Classifier{canon: canon, symmetric: true}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Oracle names the canonicaliser behind every signature c computes.
func (c *Classifier) Oracle() string { return c.canon.Oracle() }

func (c *Classifier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func oracleFailure(err error, what string) error {
	return errors.Wrap(err, errors.CodeInvalidGraph, "graph canonicalisation failed").WithDetail(what)
}

// Classify partitions mol at the given shell. It is Orbits followed by
// Label.
func (c *Classifier) Classify(ctx context.Context, mol *molecule.Molecule, mode molecule.Mode, shell int) (*Classification, error) {
	orbits, err := c.Orbits(ctx, mol, mode)
	if err != nil {
		return nil, err
	}
	return c.Label(ctx, mol, orbits, shell)
}

// Orbits computes the automorphism orbits of mol coloured under mode.
// Vertices are only compared within the same stable refinement cell; two
// vertices share an orbit when marking either as the core yields the same
// canonical form.
func (c *Classifier) Orbits(ctx context.Context, mol *molecule.Molecule, mode molecule.Mode) (*Orbits, error) {
	if !mode.IsValid() {
		return nil, errors.InvalidParam("unknown atom type mode").WithDetail(string(mode))
	}
	n := mol.NumAtoms()
	if !c.symmetric {
		groups := make([][]molecule.AtomID, n)
		for i := range groups {
			groups[i] = []molecule.AtomID{molecule.AtomID(i)}
		}
		return &Orbits{Mode: mode, Groups: groups}, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	g := c.moleculeGraph(mol, mode)
	cells := refine(g.adjacency(), initialCells(g.Colors))
	byCell := make(map[int][]int)
	for v, cell := range cells {
		byCell[cell] = append(byCell[cell], v)
	}

	var groups [][]molecule.AtomID
	for _, members := range byCell {
		if len(members) == 1 {
			groups = append(groups, []molecule.AtomID{molecule.AtomID(members[0])})
			continue
		}
		byKey := make(map[string][]molecule.AtomID)
		var keys []string
		for _, v := range members {
			marked := *g
			marked.Colors = append([]Color(nil), g.Colors...)
			marked.Colors[v].Core = true
			form, err := c.canon.Canonize(ctx, &marked)
			if err != nil {
				return nil, oracleFailure(err, fmt.Sprintf("orbit of atom %d", v))
			}
			key, err := form.Key()
			if err != nil {
				return nil, oracleFailure(err, "certificate encoding")
			}
			if _, ok := byKey[key]; !ok {
				keys = append(keys, key)
			}
			byKey[key] = append(byKey[key], molecule.AtomID(v))
		}
		for _, k := range keys {
			groups = append(groups, byKey[k])
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return &Orbits{Mode: mode, Groups: groups}, nil
}

// Label signs every orbit with the environment key of its first member at the
// given shell and orders classes by (signature, size, smallest member).
func (c *Classifier) Label(ctx context.Context, mol *molecule.Molecule, orbits *Orbits, shell int) (*Classification, error) {
	if shell < 0 {
		return nil, errors.InvalidParam("shell must be non-negative")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	classes := make([]Class, 0, len(orbits.Groups))
	for _, members := range orbits.Groups {
		sig, err := c.environmentKey(ctx, mol, orbits.Mode, members[0], shell)
		if err != nil {
			return nil, err
		}
		classes = append(classes, Class{
			Signature: sig,
			Members:   append([]molecule.AtomID(nil), members...),
		})
	}
	sort.SliceStable(classes, func(i, j int) bool {
		a, b := classes[i], classes[j]
		if a.Signature != b.Signature {
			return a.Signature < b.Signature
		}
		if len(a.Members) != len(b.Members) {
			return len(a.Members) < len(b.Members)
		}
		return a.Members[0] < b.Members[0]
	})

	classOf := make([]int, mol.NumAtoms())
	for i := range classOf {
		classOf[i] = -1
	}
	for id := range classes {
		classes[id].ID = id
		for _, a := range classes[id].Members {
			if classOf[a] != -1 {
				return nil, errors.InternalInconsistency("atom assigned to two classes").
					WithDetail(fmt.Sprintf("atom %d", a))
			}
			classOf[a] = id
		}
	}
	for a, id := range classOf {
		if id == -1 {
			return nil, errors.InternalInconsistency("atom without class").WithDetail(fmt.Sprintf("atom %d", a))
		}
	}
	return &Classification{Mode: orbits.Mode, Shell: shell, Classes: classes, ClassOf: classOf}, nil
}

// EnvironmentKey returns the canonical key of the neighbourhood of core
// within shell bonds, with core marked.
func (c *Classifier) EnvironmentKey(ctx context.Context, mol *molecule.Molecule, mode molecule.Mode, core molecule.AtomID, shell int) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.environmentKey(ctx, mol, mode, core, shell)
}

func (c *Classifier) environmentKey(ctx context.Context, mol *molecule.Molecule, mode molecule.Mode, core molecule.AtomID, shell int) (string, error) {
	nodes := mol.Neighbourhood(core, shell)
	g := &ColoredGraph{N: len(nodes), Colors: make([]Color, len(nodes)), Edges: mol.InducedEdges(nodes)}
	for i, id := range nodes {
		g.Colors[i] = Color{Core: id == core, Label: mol.Atom(id).Color(mode)}
	}
	form, err := c.canon.Canonize(ctx, g)
	if err != nil {
		return "", oracleFailure(err, fmt.Sprintf("environment of atom %d at shell %d", core, shell))
	}
	key, err := form.Key()
	if err != nil {
		return "", oracleFailure(err, "key encoding")
	}
	return key, nil
}

// MoleculeKey returns the canonical key of the whole molecule under mode.
// Isomorphic molecules share a key.
func (c *Classifier) MoleculeKey(ctx context.Context, mol *molecule.Molecule, mode molecule.Mode) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	g := &ColoredGraph{N: mol.NumAtoms(), Colors: make([]Color, mol.NumAtoms())}
	for i, color := range mol.Colors(mode) {
		g.Colors[i] = Color{Label: color}
	}
	for _, e := range mol.Edges() {
		g.Edges = append(g.Edges, [2]int{int(e[0]), int(e[1])})
	}
	form, err := c.canon.Canonize(ctx, g)
	if err != nil {
		return "", oracleFailure(err, "whole molecule")
	}
	key, err := form.Key()
	if err != nil {
		return "", oracleFailure(err, "key encoding")
	}
	return key, nil
}

// moleculeGraph builds the symmetry-detection graph of mol.
func (c *Classifier) moleculeGraph(mol *molecule.Molecule, mode molecule.Mode) *ColoredGraph {
	n := mol.NumAtoms()
	g := &ColoredGraph{N: n, Colors: make([]Color, n)}
	for i, color := range mol.Colors(mode) {
		if c.bondOrders {
			orders := mol.BondOrders(molecule.AtomID(i))
			parts := make([]string, len(orders))
			for j, o := range orders {
				parts[j] = o.String()
			}
			color = color + "|" + strings.Join(parts, ",")
		}
		g.Colors[i] = Color{Label: color}
	}
	for _, e := range mol.Edges() {
		g.Edges = append(g.Edges, [2]int{int(e[0]), int(e[1])})
	}
	return g
}
