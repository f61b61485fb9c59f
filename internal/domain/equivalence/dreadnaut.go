package equivalence

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// DreadnautCanonicalizer canonises graphs by running nauty's dreadnaut
// interpreter. Each call starts a short-lived process bound to ctx, so a
// timeout kills the process instead of leaving it blocked on a pipe.
type DreadnautCanonicalizer struct {
	exe string
}

// NewDreadnautCanonicalizer checks that exe is an executable file.
func NewDreadnautCanonicalizer(exe string) (*DreadnautCanonicalizer, error) {
	info, err := os.Stat(exe)
	if err != nil {
		return nil, fmt.Errorf("equivalence: dreadnaut executable not found at %q: %w", exe, err)
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return nil, fmt.Errorf("equivalence: %q is not an executable file", exe)
	}
	return &DreadnautCanonicalizer{exe: exe}, nil
}

// Oracle implements Canonicalizer.
func (d *DreadnautCanonicalizer) Oracle() string { return OracleDreadnaut }

// Canonize implements Canonicalizer.
func (d *DreadnautCanonicalizer) Canonize(ctx context.Context, g *ColoredGraph) (*CanonicalForm, error) {
	if g.N == 0 {
		return &CanonicalForm{Labeling: []int{}, Colors: []Color{}, Edges: [][2]int{}}, nil
	}
	cmd := exec.CommandContext(ctx, d.exe)
	cmd.Stdin = strings.NewReader(dreadnautInput(g) + "q\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("equivalence: dreadnaut failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	labeling, adjacency, err := parseDreadnautOutput(stdout.String(), g.N)
	if err != nil {
		return nil, err
	}

	colors := make([]Color, g.N)
	for i, v := range labeling {
		colors[i] = g.Colors[v]
	}
	var edges [][2]int
	for u, nbrs := range adjacency {
		for _, v := range nbrs {
			edges = append(edges, [2]int{u, v})
		}
	}
	if edges == nil {
		edges = [][2]int{}
	}
	sortPairs(edges)
	return &CanonicalForm{Labeling: labeling, Colors: colors, Edges: edges}, nil
}

// dreadnautInput renders g as a dreadnaut command line: the edge list, the
// colour partition (cells ordered by colour), then canonical labelling with
// output of the labelling and the canonical graph, terminated by END.
func dreadnautInput(g *ColoredGraph) string {
	edges := make([][2]int, len(g.Edges))
	copy(edges, g.Edges)
	sortPairs(edges)
	es := make([]string, len(edges))
	for i, e := range edges {
		es[i] = fmt.Sprintf("%d:%d", e[0], e[1])
	}

	order := make([]int, g.N)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return g.Colors[order[i]].Less(g.Colors[order[j]]) })
	var cells []string
	var cell []string
	for i, v := range order {
		if i > 0 && g.Colors[order[i-1]] != g.Colors[v] {
			cells = append(cells, strings.Join(cell, ","))
			cell = nil
		}
		cell = append(cell, strconv.Itoa(v))
	}
	cells = append(cells, strings.Join(cell, ","))

	return fmt.Sprintf(" n=%d g %s. f=[%s] cxb\"END\\n\"->>\n",
		g.N, strings.Join(es, ";"), strings.Join(cells, "|"))
}

// parseDreadnautOutput extracts the canonical labelling and the canonical
// adjacency lists from everything dreadnaut printed after its timing line.
func parseDreadnautOutput(out string, n int) ([]int, [][]int, error) {
	idx := strings.LastIndex(out, "seconds")
	if idx < 0 {
		return nil, nil, fmt.Errorf("equivalence: unexpected dreadnaut output: no statistics line")
	}
	data := out[idx+len("seconds"):]
	if end := strings.Index(data, "END"); end >= 0 {
		data = data[:end]
	}

	lines := strings.Split(strings.TrimSpace(data), "\n")
	labeling := make([]int, 0, n)
	i := 0
	for ; i < len(lines) && !strings.Contains(lines[i], ":"); i++ {
		for _, f := range strings.Fields(lines[i]) {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, nil, fmt.Errorf("equivalence: bad dreadnaut labelling %q: %w", lines[i], err)
			}
			labeling = append(labeling, v)
		}
	}
	if len(labeling) != n {
		return nil, nil, fmt.Errorf("equivalence: dreadnaut labelled %d of %d vertices", len(labeling), n)
	}

	adjacency := make([][]int, n)
	body := strings.Join(lines[i:], " ")
	for _, entry := range strings.Split(body, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("equivalence: bad dreadnaut adjacency %q", entry)
		}
		u, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || u < 0 || u >= n {
			return nil, nil, fmt.Errorf("equivalence: bad dreadnaut vertex %q", parts[0])
		}
		for _, f := range strings.Fields(parts[1]) {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, nil, fmt.Errorf("equivalence: bad dreadnaut neighbour %q: %w", f, err)
			}
			adjacency[u] = append(adjacency[u], v)
		}
	}
	return labeling, adjacency, nil
}
