// Package assignment solves the symmetry-aware exact-sum charge selection:
// pick one candidate per equivalence class so that the multiplicity-weighted
// sum of the chosen values equals the target exactly on the resolution grid,
// maximising the summed plausibility weight.
//
// Values and the target are quantised to int64 steps of the resolution, and
// weights to a fixed weight scale, so both the equality constraint and tie
// detection are exact. The search is a multiple-choice exact-sum dynamic
// programme with one layer per class.
package assignment

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Class is one equivalence class as seen by the engine.
type Class struct {
	Multiplicity int
	Candidates   []candidate.Candidate
}

// Problem is a complete engine input.
type Problem struct {
	Classes []Class
	Target  float64
}

// Selection maps a class index to the index of its chosen candidate.
type Selection []int

// Stats describes one search.
type Stats struct {
	Classes       int           `json:"classes"`
	Items         int           `json:"items"`
	PeakTableSize int           `json:"peak_table_size"`
	Duration      time.Duration `json:"duration"`
}

// Result is a successful search.
type Result struct {
	Selection Selection `json:"selection"`
	// Values holds the chosen candidate value per class.
	Values []float64 `json:"values"`
	// Weight is the summed weight of the chosen candidates.
	Weight float64 `json:"weight"`
	Stats  Stats   `json:"stats"`
}

// Config tunes an Engine.
type Config struct {
	// Resolution is the charge grid ε. Required, > 0.
	Resolution float64
	// WeightScale quantises weights; defaults to 1e6.
	WeightScale float64
	// MaxTableSize bounds the number of distinct partial sums per layer.
	MaxTableSize int
}

// DefaultWeightScale is used when Config.WeightScale is zero.
const DefaultWeightScale = 1e6

// Engine runs searches. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	resolution   float64
	weightScale  float64
	maxTableSize int
}

// NewEngine validates cfg. There is no default resolution.
func NewEngine(cfg Config) (*Engine, error) {
	if !(cfg.Resolution > 0) || math.IsInf(cfg.Resolution, 0) {
		return nil, errors.InvalidParam("resolution must be a positive number").
			WithDetail(fmt.Sprintf("got %v", cfg.Resolution))
	}
	if cfg.WeightScale == 0 {
		cfg.WeightScale = DefaultWeightScale
	}
	if !(cfg.WeightScale > 0) {
		return nil, errors.InvalidParam("weight scale must be positive")
	}
	if cfg.MaxTableSize < 1 {
		return nil, errors.InvalidParam("max table size must be at least 1")
	}
	return &Engine{
		resolution:   cfg.Resolution,
		weightScale:  cfg.WeightScale,
		maxTableSize: cfg.MaxTableSize,
	}, nil
}

// Resolution returns the engine's charge grid.
func (e *Engine) Resolution() float64 { return e.resolution }

// Quantize maps a charge onto the engine grid.
func (e *Engine) Quantize(v float64) int64 { return candidate.Quantize(v, e.resolution) }

// entry is one reachable partial sum in a layer.
type entry struct {
	sum    int64
	weight int64
	cand   int // candidate chosen for this layer's class
	prev   int // index of the predecessor entry in the previous layer
}

// Solve searches p. Failures carry CodeUnknownFragment (a class without
// candidates, detected before searching), CodeSearchExhausted (a layer over
// the table ceiling), CodeInfeasible (target unreachable) or CodeTimeout
// (ctx ended between classes).
func (e *Engine) Solve(ctx context.Context, p Problem) (*Result, error) {
	start := time.Now()
	k := len(p.Classes)
	stats := Stats{Classes: k}

	for i, c := range p.Classes {
		if len(c.Candidates) == 0 {
			return nil, errors.UnknownFragment("class has no candidate charges").
				WithDetail(fmt.Sprintf("class %d", i))
		}
		if c.Multiplicity < 1 {
			return nil, errors.InvalidParam("class multiplicity must be at least 1").
				WithDetail(fmt.Sprintf("class %d", i))
		}
		stats.Items += len(c.Candidates)
	}

	// Layer order: descending multiplicity, class order on ties.
	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return p.Classes[order[a]].Multiplicity > p.Classes[order[b]].Multiplicity
	})
	layerOf := make([]int, k)
	for l, c := range order {
		layerOf[c] = l
	}

	// Quantised contributions and weights, per layer.
	contrib := make([][]int64, k)
	weights := make([][]int64, k)
	for l, c := range order {
		cls := p.Classes[c]
		contrib[l] = make([]int64, len(cls.Candidates))
		weights[l] = make([]int64, len(cls.Candidates))
		for j, cand := range cls.Candidates {
			contrib[l][j] = int64(cls.Multiplicity) * e.Quantize(cand.Value)
			weights[l][j] = int64(math.Round(cand.Weight * e.weightScale))
		}
	}

	// minRest[l] / maxRest[l]: extreme contributions of layers l..k-1.
	minRest := make([]int64, k+1)
	maxRest := make([]int64, k+1)
	for l := k - 1; l >= 0; l-- {
		lo, hi := contrib[l][0], contrib[l][0]
		for _, v := range contrib[l][1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		minRest[l] = minRest[l+1] + lo
		maxRest[l] = maxRest[l+1] + hi
	}

	target := e.Quantize(p.Target)
	if target < minRest[0] || target > maxRest[0] {
		stats.Duration = time.Since(start)
		return nil, errors.Infeasible("total charge outside the reachable range").
			WithDetail(fmt.Sprintf("target=%d range=[%d, %d] steps", target, minRest[0], maxRest[0]))
	}

	layers := make([][]entry, k)
	prev := []entry{{sum: 0, weight: 0, cand: -1, prev: -1}}
	stats.PeakTableSize = 1

	for l := 0; l < k; l++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeTimeout, "charge search cancelled").
				WithDetail(fmt.Sprintf("after %d of %d classes", l, k))
		}

		hint := len(prev) * len(contrib[l])
		if hint > e.maxTableSize+1 {
			hint = e.maxTableSize + 1
		}
		index := make(map[int64]int, hint)
		var cur []entry
		for pi, pe := range prev {
			for j, v := range contrib[l] {
				s := pe.sum + v
				rest := target - s
				if rest < minRest[l+1] || rest > maxRest[l+1] {
					continue
				}
				cand := entry{sum: s, weight: pe.weight + weights[l][j], cand: j, prev: pi}
				at, seen := index[s]
				if !seen {
					if len(cur) == e.maxTableSize {
						return nil, errors.SearchExhausted("partial-sum table exceeded its ceiling").
							WithDetail(fmt.Sprintf("layer %d of %d has more than %d sums", l+1, k, e.maxTableSize))
					}
					index[s] = len(cur)
					cur = append(cur, cand)
					continue
				}
				inc := cur[at]
				if cand.weight > inc.weight ||
					(cand.weight == inc.weight && e.lexLess(layers, l, layerOf, cand, inc, prev)) {
					cur[at] = cand
				}
			}
		}
		if len(cur) > stats.PeakTableSize {
			stats.PeakTableSize = len(cur)
		}
		if len(cur) == 0 {
			return nil, errors.Infeasible("no combination of candidate charges reaches the total charge").
				WithDetail(fmt.Sprintf("pruned empty at class %d of %d", l+1, k))
		}
		layers[l] = cur
		prev = cur
	}

	final := -1
	for i, en := range prev {
		if en.sum == target {
			final = i
			break
		}
	}
	if final < 0 {
		return nil, errors.Infeasible("no combination of candidate charges reaches the total charge")
	}

	sel := make(Selection, k)
	var weight int64
	if k > 0 {
		weight = prev[final].weight
	}
	at := final
	for l := k - 1; l >= 0; l-- {
		en := layers[l][at]
		sel[order[l]] = en.cand
		at = en.prev
	}
	values := make([]float64, k)
	for c, j := range sel {
		values[c] = p.Classes[c].Candidates[j].Value
	}
	stats.Duration = time.Since(start)
	return &Result{
		Selection: sel,
		Values:    values,
		Weight:    float64(weight) / e.weightScale,
		Stats:     stats,
	}, nil
}

// lexLess reports whether path a precedes path b in canonical order: compare
// chosen candidates class by class in class-index order, over the classes
// processed so far (layers 0..l). Both paths end at layer l; their
// predecessors live in prev (layer l-1) and earlier layers.
func (e *Engine) lexLess(layers [][]entry, l int, layerOf []int, a, b entry, prev []entry) bool {
	selA := partial(layers, l, a, prev)
	selB := partial(layers, l, b, prev)
	for c := range layerOf {
		pos := layerOf[c]
		if pos > l {
			continue
		}
		if selA[pos] != selB[pos] {
			return selA[pos] < selB[pos]
		}
	}
	return false
}

// partial reconstructs the candidate chosen at each layer 0..l for a path
// ending in en.
func partial(layers [][]entry, l int, en entry, prev []entry) []int {
	sel := make([]int, l+1)
	sel[l] = en.cand
	at := en.prev
	for pos := l - 1; pos >= 0; pos-- {
		var cur entry
		if pos == l-1 {
			cur = prev[at]
		} else {
			cur = layers[pos][at]
		}
		sel[pos] = cur.cand
		at = cur.prev
	}
	return sel
}
