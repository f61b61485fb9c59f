// Package equivalence partitions a molecule into topological equivalence
// classes (automorphism orbits) and labels every class with a canonical
// signature of its bounded-radius atomic environment. Graph canonisation is
// delegated to an injected Canonicalizer.
package equivalence

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// Color is a vertex colour: whether the vertex is the environment's core,
// then its atom type. Non-core colours order before core colours.
type Color struct {
	Core  bool
	Label string
}

// Less orders colours by (Core, Label) with false before true.
func (c Color) Less(o Color) bool {
	if c.Core != o.Core {
		return !c.Core
	}
	return c.Label < o.Label
}

// ColoredGraph is a simple undirected vertex-coloured graph on 0..N-1.
type ColoredGraph struct {
	N      int
	Colors []Color
	Edges  [][2]int
}

// adjacency returns ascending neighbour lists.
func (g *ColoredGraph) adjacency() [][]int {
	adj := make([][]int, g.N)
	for _, e := range g.Edges {
		adj[e[0]] = append(adj[e[0]], e[1])
		adj[e[1]] = append(adj[e[1]], e[0])
	}
	for _, l := range adj {
		sort.Ints(l)
	}
	return adj
}

// CanonicalForm is the canonically relabelled graph. Two coloured graphs are
// isomorphic exactly when their forms are equal.
type CanonicalForm struct {
	// Labeling[i] is the input vertex placed at canonical position i.
	Labeling []int
	// Colors holds the vertex colours in canonical order.
	Colors []Color
	// Edges lists every adjacency in both directions on canonical positions, sorted.
	Edges [][2]int
}

// Key hashes the form into a fixed-size hex string: md5 over the msgpack
// encoding of [[[core, label]...], [[u, v]...]].
func (f *CanonicalForm) Key() (string, error) {
	colors := make([][]interface{}, len(f.Colors))
	for i, c := range f.Colors {
		colors[i] = []interface{}{c.Core, c.Label}
	}
	edges := make([][]int, len(f.Edges))
	for i, e := range f.Edges {
		edges[i] = []int{e[0], e[1]}
	}
	raw, err := msgpack.Marshal([]interface{}{colors, edges})
	if err != nil {
		return "", err
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Oracle names. Two oracles label the same graph differently, so signatures
// computed under one never match signatures computed under the other.
const (
	OracleRefine    = "refine/1"
	OracleDreadnaut = "dreadnaut/1"
)

// Canonicalizer computes canonical forms of coloured graphs. Implementations
// must be safe for concurrent use and must honour ctx.
type Canonicalizer interface {
	Canonize(ctx context.Context, g *ColoredGraph) (*CanonicalForm, error)
	// Oracle identifies the labelling scheme and its version.
	Oracle() string
}

// newForm builds a CanonicalForm from a labelling (position → vertex).
func newForm(g *ColoredGraph, labeling []int) *CanonicalForm {
	pos := make([]int, g.N)
	for i, v := range labeling {
		pos[v] = i
	}
	colors := make([]Color, g.N)
	for i, v := range labeling {
		colors[i] = g.Colors[v]
	}
	edges := make([][2]int, 0, 2*len(g.Edges))
	for _, e := range g.Edges {
		u, v := pos[e[0]], pos[e[1]]
		edges = append(edges, [2]int{u, v}, [2]int{v, u})
	}
	sortPairs(edges)
	return &CanonicalForm{Labeling: labeling, Colors: colors, Edges: edges}
}

func sortPairs(p [][2]int) {
	sort.Slice(p, func(i, j int) bool {
		if p[i][0] != p[j][0] {
			return p[i][0] < p[j][0]
		}
		return p[i][1] < p[j][1]
	})
}
