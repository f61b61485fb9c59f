package molecule

import "sort"

// Neighbourhood returns the atoms at most shell bonds away from core,
// including core, in ascending id order. A shell of zero yields only core.
func (m *Molecule) Neighbourhood(core AtomID, shell int) []AtomID {
	depth := map[AtomID]int{core: 0}
	frontier := []AtomID{core}
	for d := 1; d <= shell && len(frontier) > 0; d++ {
		var next []AtomID
		for _, u := range frontier {
			for _, v := range m.adj[u] {
				if _, seen := depth[v]; !seen {
					depth[v] = d
					next = append(next, v)
				}
			}
		}
		frontier = next
	}
	out := make([]AtomID, 0, len(depth))
	for id := range depth {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InducedEdges returns the bonds whose endpoints both lie in nodes, expressed
// as index pairs into nodes (lower index first).
func (m *Molecule) InducedEdges(nodes []AtomID) [][2]int {
	index := make(map[AtomID]int, len(nodes))
	for i, id := range nodes {
		index[id] = i
	}
	var out [][2]int
	for i, u := range nodes {
		for _, v := range m.adj[u] {
			if j, ok := index[v]; ok && i < j {
				out = append(out, [2]int{i, j})
			}
		}
	}
	return out
}
