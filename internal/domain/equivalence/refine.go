package equivalence

import (
	"context"
	stderrors "errors"
	"sort"
)

// ErrSearchBudget is returned when canonical labelling visits more search
// nodes than its budget allows.
var ErrSearchBudget = stderrors.New("equivalence: canonical search budget exceeded")

// RefinementCanonicalizer labels graphs in-process by individualisation and
// colour refinement. Every branch of the search tree is explored except those
// pruned by automorphisms already discovered; the smallest leaf certificate
// wins.
type RefinementCanonicalizer struct {
	budget int
}

// NewRefinementCanonicalizer returns a canonicaliser that gives up after
// budget search nodes. A budget ≤ 0 means unbounded.
func NewRefinementCanonicalizer(budget int) *RefinementCanonicalizer {
	return &RefinementCanonicalizer{budget: budget}
}

// Oracle implements Canonicalizer.
func (r *RefinementCanonicalizer) Oracle() string { return OracleRefine }

// Canonize implements Canonicalizer.
func (r *RefinementCanonicalizer) Canonize(ctx context.Context, g *ColoredGraph) (*CanonicalForm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.N == 0 {
		return &CanonicalForm{Labeling: []int{}, Colors: []Color{}, Edges: [][2]int{}}, nil
	}
	adj := g.adjacency()
	s := &search{
		ctx:    ctx,
		adj:    adj,
		edges:  g.Edges,
		budget: r.budget,
	}
	if err := s.visit(refine(adj, initialCells(g.Colors)), nil); err != nil {
		return nil, err
	}
	return newForm(g, s.bestLab), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Colour refinement
// ─────────────────────────────────────────────────────────────────────────────

// initialCells ranks vertices by colour.
func initialCells(colors []Color) []int {
	order := make([]int, len(colors))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return colors[order[i]].Less(colors[order[j]]) })
	cells := make([]int, len(colors))
	rank := 0
	for i, v := range order {
		if i > 0 && colors[order[i-1]] != colors[v] {
			rank++
		}
		cells[v] = rank
	}
	return cells
}

func countCells(cells []int) int {
	seen := make(map[int]struct{}, len(cells))
	for _, c := range cells {
		seen[c] = struct{}{}
	}
	return len(seen)
}

// refine splits cells by the multiset of neighbouring cells until stable.
// New ranks keep the previous order as their primary key, so refinement is
// independent of vertex numbering.
func refine(adj [][]int, cells []int) []int {
	n := len(cells)
	count := countCells(cells)
	for {
		sig := make([][]int, n)
		for v := 0; v < n; v++ {
			s := make([]int, 0, len(adj[v])+1)
			s = append(s, cells[v])
			nb := make([]int, len(adj[v]))
			for i, u := range adj[v] {
				nb[i] = cells[u]
			}
			sort.Ints(nb)
			sig[v] = append(s, nb...)
		}
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool { return lessInts(sig[order[i]], sig[order[j]]) })

		next := make([]int, n)
		rank := 0
		for i, v := range order {
			if i > 0 && !equalInts(sig[order[i-1]], sig[v]) {
				rank++
			}
			next[v] = rank
		}
		nextCount := rank + 1
		cells = next
		if nextCount == count {
			return cells
		}
		count = nextCount
	}
}

// individualise gives v its own cell, ordered just before the rest of its cell.
func individualise(cells []int, v int) []int {
	out := make([]int, len(cells))
	for u, c := range cells {
		out[u] = 2*c + 1
	}
	out[v] = 2 * cells[v]
	return out
}

func lessInts(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// Search tree
// ─────────────────────────────────────────────────────────────────────────────

type search struct {
	ctx    context.Context
	adj    [][]int
	edges  [][2]int
	budget int
	nodes  int

	best    []int // flattened sorted certificate edges
	bestLab []int
	autos   [][]int // automorphisms as vertex permutations
}

func (s *search) visit(cells []int, path []int) error {
	s.nodes++
	if s.budget > 0 && s.nodes > s.budget {
		return ErrSearchBudget
	}
	if s.nodes%64 == 0 {
		if err := s.ctx.Err(); err != nil {
			return err
		}
	}

	target := -1
	size := make(map[int]int)
	for _, c := range cells {
		size[c]++
	}
	for c, k := range size {
		if k > 1 && (target == -1 || c < target) {
			target = c
		}
	}
	if target == -1 {
		s.leaf(cells)
		return nil
	}

	var members []int
	for v, c := range cells {
		if c == target {
			members = append(members, v)
		}
	}

	var explored []int
	for _, v := range members {
		if len(explored) > 0 && s.sameOrbit(v, explored, path) {
			continue
		}
		explored = append(explored, v)
		child := refine(s.adj, individualise(cells, v))
		if err := s.visit(child, append(append([]int(nil), path...), v)); err != nil {
			return err
		}
	}
	return nil
}

func (s *search) leaf(cells []int) {
	n := len(cells)
	lab := make([]int, n)
	for v, c := range cells {
		lab[c] = v
	}
	cert := make([][2]int, len(s.edges))
	for i, e := range s.edges {
		u, v := cells[e[0]], cells[e[1]]
		if u > v {
			u, v = v, u
		}
		cert[i] = [2]int{u, v}
	}
	sortPairs(cert)
	flat := make([]int, 0, 2*len(cert))
	for _, e := range cert {
		flat = append(flat, e[0], e[1])
	}

	switch {
	case s.best == nil || lessInts(flat, s.best):
		s.best, s.bestLab = flat, lab
	case equalInts(flat, s.best):
		perm := make([]int, n)
		for i := range lab {
			perm[s.bestLab[i]] = lab[i]
		}
		s.autos = append(s.autos, perm)
	}
}

// sameOrbit reports whether v shares an orbit with an explored vertex under
// the automorphisms found so far that fix path pointwise.
func (s *search) sameOrbit(v int, explored, path []int) bool {
	n := len(s.adj)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	applied := false
	for _, a := range s.autos {
		fixes := true
		for _, p := range path {
			if a[p] != p {
				fixes = false
				break
			}
		}
		if !fixes {
			continue
		}
		applied = true
		for x, y := range a {
			rx, ry := find(x), find(y)
			if rx != ry {
				parent[rx] = ry
			}
		}
	}
	if !applied {
		return false
	}
	rv := find(v)
	for _, w := range explored {
		if find(w) == rv {
			return true
		}
	}
	return false
}
