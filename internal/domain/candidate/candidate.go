// Package candidate holds the reference charge statistics: for every atomic
// environment signature, the charge values observed for it and how plausible
// each value is. Tables are immutable once built and safe for concurrent
// readers.
package candidate

import (
	"fmt"
	"math"
	"sort"
)

// Candidate is one admissible charge value for a class and its plausibility.
type Candidate struct {
	Value  float64 `json:"value" yaml:"value" msgpack:"value"`
	Weight float64 `json:"weight" yaml:"weight" msgpack:"weight"`
}

// Store looks up candidate lists by environment signature. An unknown
// signature yields an empty list.
type Store interface {
	Lookup(signature string) []Candidate
}

// Table is an immutable Store.
type Table struct {
	entries map[string][]Candidate
}

// NewTable builds a Table from explicit lists. Lists are copied, sorted by
// value ascending, and rejected if a weight is negative or not finite.
func NewTable(entries map[string][]Candidate) (*Table, error) {
	t := &Table{entries: make(map[string][]Candidate, len(entries))}
	for sig, list := range entries {
		cp := make([]Candidate, len(list))
		copy(cp, list)
		for _, c := range cp {
			if c.Weight < 0 || math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) {
				return nil, fmt.Errorf("candidate: invalid weight %v for %s", c.Weight, sig)
			}
			if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
				return nil, fmt.Errorf("candidate: invalid value %v for %s", c.Value, sig)
			}
		}
		sort.SliceStable(cp, func(i, j int) bool { return cp[i].Value < cp[j].Value })
		t.entries[sig] = cp
	}
	return t, nil
}

// Lookup implements Store. The returned slice is a copy.
func (t *Table) Lookup(signature string) []Candidate {
	list := t.entries[signature]
	out := make([]Candidate, len(list))
	copy(out, list)
	return out
}

// Len returns the number of signatures in the table.
func (t *Table) Len() int { return len(t.entries) }

// Signatures returns every signature, sorted.
func (t *Table) Signatures() []string {
	out := make([]string, 0, len(t.entries))
	for sig := range t.entries {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}

// WithOverrides returns a new Table in which the given signatures are
// replaced by the supplied lists.
func (t *Table) WithOverrides(overrides map[string][]Candidate) (*Table, error) {
	merged := make(map[string][]Candidate, len(t.entries)+len(overrides))
	for sig, list := range t.entries {
		merged[sig] = list
	}
	for sig, list := range overrides {
		merged[sig] = list
	}
	return NewTable(merged)
}

// ─────────────────────────────────────────────────────────────────────────────
// Builder
// ─────────────────────────────────────────────────────────────────────────────

// Builder derives candidate lists from raw observed charges: values are
// rounded to the resolution grid, equal rounded values merge, and a value's
// weight is its relative frequency among the signature's observations.
type Builder struct {
	resolution    float64
	maxCandidates int
	counts        map[string]map[int64]int
	totals        map[string]int
}

// NewBuilder returns a Builder on the given resolution grid. maxCandidates
// keeps only the heaviest N values per signature (ties keep the smaller
// value); zero keeps all.
func NewBuilder(resolution float64, maxCandidates int) (*Builder, error) {
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, fmt.Errorf("candidate: resolution must be > 0, got %v", resolution)
	}
	if maxCandidates < 0 {
		return nil, fmt.Errorf("candidate: max candidates must be ≥ 0, got %d", maxCandidates)
	}
	return &Builder{
		resolution:    resolution,
		maxCandidates: maxCandidates,
		counts:        make(map[string]map[int64]int),
		totals:        make(map[string]int),
	}, nil
}

// Add records one observed charge for signature.
func (b *Builder) Add(signature string, charge float64) {
	q := Quantize(charge, b.resolution)
	m, ok := b.counts[signature]
	if !ok {
		m = make(map[int64]int)
		b.counts[signature] = m
	}
	m[q]++
	b.totals[signature]++
}

// Build freezes the accumulated observations into a Table.
func (b *Builder) Build() *Table {
	t := &Table{entries: make(map[string][]Candidate, len(b.counts))}
	for sig, m := range b.counts {
		total := float64(b.totals[sig])
		list := make([]Candidate, 0, len(m))
		steps := make([]int64, 0, len(m))
		for q := range m {
			steps = append(steps, q)
		}
		sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
		for _, q := range steps {
			list = append(list, Candidate{
				Value:  StepValue(q, b.resolution),
				Weight: float64(m[q]) / total,
			})
		}
		if b.maxCandidates > 0 && len(list) > b.maxCandidates {
			list = heaviest(list, b.maxCandidates)
		}
		t.entries[sig] = list
	}
	return t
}

// heaviest keeps the n heaviest candidates, preferring smaller values on
// equal weight, and returns them sorted by value.
func heaviest(list []Candidate, n int) []Candidate {
	byWeight := make([]Candidate, len(list))
	copy(byWeight, list)
	sort.SliceStable(byWeight, func(i, j int) bool {
		if byWeight[i].Weight != byWeight[j].Weight {
			return byWeight[i].Weight > byWeight[j].Weight
		}
		return byWeight[i].Value < byWeight[j].Value
	})
	kept := byWeight[:n]
	sort.Slice(kept, func(i, j int) bool { return kept[i].Value < kept[j].Value })
	return kept
}

// Quantize maps v onto the integer grid of step resolution, rounding half
// away from zero.
func Quantize(v, resolution float64) int64 {
	return int64(math.Round(v / resolution))
}

// StepValue is the charge of q resolution steps. When the resolution is the
// reciprocal of an integer (0.001, 0.01, 0.5) the value is q divided by it,
// which is the double nearest to the decimal charge: 408 steps of 0.001 is
// 0.408, not 0.40800000000000003.
func StepValue(q int64, resolution float64) float64 {
	if inv := math.Round(1 / resolution); inv >= 1 && math.Abs(inv*resolution-1) < 1e-12 {
		return float64(q) / inv
	}
	return float64(q) * resolution
}
