package candidate

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
)

func TestQuantize(t *testing.T) {
	assert.Equal(t, int64(300), Quantize(0.3, 0.001))
	assert.Equal(t, int64(-600), Quantize(-0.6, 0.001))
	assert.Equal(t, int64(1), Quantize(0.0005, 0.001), "half rounds away from zero")
	assert.Equal(t, int64(-1), Quantize(-0.0005, 0.001))
	assert.Equal(t, int64(0), Quantize(0.0004, 0.001))
}

func TestStepValue(t *testing.T) {
	assert.Equal(t, 0.408, StepValue(408, 0.001))
	assert.Equal(t, -0.674, StepValue(-674, 0.001))
	assert.Equal(t, 0.41, StepValue(41, 0.01))
	assert.Equal(t, 1.5, StepValue(3, 0.5))
	assert.InDelta(t, 0.6, StepValue(2, 0.3), 1e-12)
}

func TestBuilder_ValuesAreExactDecimals(t *testing.T) {
	b, err := NewBuilder(0.001, 0)
	require.NoError(t, err)
	b.Add("h", 0.408)
	b.Add("o", -0.674)

	table := b.Build()
	assert.Equal(t, 0.408, table.Lookup("h")[0].Value)
	assert.Equal(t, -0.674, table.Lookup("o")[0].Value)
}

func TestBuilder_DerivesFrequencies(t *testing.T) {
	b, err := NewBuilder(0.01, 0)
	require.NoError(t, err)
	for _, c := range []float64{0.101, 0.099, 0.1, 0.2, -0.3} {
		b.Add("k", c)
	}
	b.Add("other", 0.5)

	table := b.Build()
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, []string{"k", "other"}, table.Signatures())

	got := table.Lookup("k")
	require.Len(t, got, 3)
	assert.InDelta(t, -0.3, got[0].Value, 1e-12)
	assert.InDelta(t, 0.1, got[1].Value, 1e-12)
	assert.InDelta(t, 0.2, got[2].Value, 1e-12)
	assert.InDelta(t, 0.2, got[0].Weight, 1e-12)
	assert.InDelta(t, 0.6, got[1].Weight, 1e-12)
	assert.InDelta(t, 0.2, got[2].Weight, 1e-12)

	var sum float64
	for _, c := range got {
		sum += c.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestBuilder_MaxCandidates(t *testing.T) {
	b, err := NewBuilder(0.1, 2)
	require.NoError(t, err)
	for _, c := range []float64{0.1, 0.1, 0.2, 0.3, 0.3, 0.4} {
		b.Add("k", c)
	}
	got := b.Build().Lookup("k")
	require.Len(t, got, 2)
	assert.InDelta(t, 0.1, got[0].Value, 1e-9)
	assert.InDelta(t, 0.3, got[1].Value, 1e-9)

	// equal weights keep the smaller values
	b, err = NewBuilder(0.1, 2)
	require.NoError(t, err)
	for _, c := range []float64{0.4, 0.3, 0.2, 0.1} {
		b.Add("k", c)
	}
	got = b.Build().Lookup("k")
	require.Len(t, got, 2)
	assert.InDelta(t, 0.1, got[0].Value, 1e-9)
	assert.InDelta(t, 0.2, got[1].Value, 1e-9)
}

func TestBuilder_RejectsBadParameters(t *testing.T) {
	_, err := NewBuilder(0, 0)
	assert.Error(t, err)
	_, err = NewBuilder(-1, 0)
	assert.Error(t, err)
	_, err = NewBuilder(math.NaN(), 0)
	assert.Error(t, err)
	_, err = NewBuilder(0.1, -1)
	assert.Error(t, err)
}

func TestTable_LookupUnknownIsEmpty(t *testing.T) {
	table, err := NewTable(nil)
	require.NoError(t, err)
	assert.Empty(t, table.Lookup("absent"))
}

func TestTable_LookupReturnsCopy(t *testing.T) {
	table, err := NewTable(map[string][]Candidate{"k": {{Value: 0.2, Weight: 1}, {Value: 0.1, Weight: 2}}})
	require.NoError(t, err)

	got := table.Lookup("k")
	assert.Equal(t, 0.1, got[0].Value, "sorted ascending")
	got[0].Value = 99
	assert.Equal(t, 0.1, table.Lookup("k")[0].Value)
}

func TestNewTable_RejectsInvalidWeights(t *testing.T) {
	_, err := NewTable(map[string][]Candidate{"k": {{Value: 0.1, Weight: -1}}})
	assert.Error(t, err)
	_, err = NewTable(map[string][]Candidate{"k": {{Value: math.Inf(1), Weight: 1}}})
	assert.Error(t, err)
}

func TestTable_WithOverrides(t *testing.T) {
	base, err := NewTable(map[string][]Candidate{"a": {{Value: 0.1, Weight: 1}}, "b": {{Value: 0.2, Weight: 1}}})
	require.NoError(t, err)

	over, err := base.WithOverrides(map[string][]Candidate{"b": {{Value: 0.5, Weight: 3}}, "c": {{Value: 0, Weight: 1}}})
	require.NoError(t, err)

	assert.Equal(t, 3, over.Len())
	assert.Equal(t, 0.5, over.Lookup("b")[0].Value)
	assert.Equal(t, 0.2, base.Lookup("b")[0].Value, "base unchanged")
}

func TestTable_ConcurrentReaders(t *testing.T) {
	table, err := NewTable(map[string][]Candidate{"k": {{Value: 0.1, Weight: 1}}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = table.Lookup("k")
			}
		}()
	}
	wg.Wait()
}

func TestDataset_AddRemove(t *testing.T) {
	d := NewDataset(1, 2)
	d.Add(molecule.ModeIACM, 1, "s", Observation{Charge: 0.1, MoleculeID: 1, Atom: "1"})
	d.Add(molecule.ModeIACM, 1, "s", Observation{Charge: 0.2, MoleculeID: 2, Atom: "1"})
	d.Add(molecule.ModeElement, 2, "t", Observation{Charge: 0.3, MoleculeID: 1, Atom: "2"})
	d.SetIsomorphs(molecule.ModeIACM, [][]int{{3, 1, 2}, {7}})

	assert.Equal(t, []int{1, 2}, d.Molecules())
	assert.Equal(t, 2, d.ObservationCount(molecule.ModeIACM, 1))
	assert.Equal(t, []int{1, 2, 3}, d.Isomorphs[molecule.ModeIACM][2])
	_, single := d.Isomorphs[molecule.ModeIACM][7]
	assert.False(t, single)

	assert.Equal(t, 2, d.RemoveMolecule(1))
	assert.Equal(t, []int{2}, d.Molecules())
	assert.Empty(t, d.Charges[molecule.ModeElement][2])
	assert.Equal(t, []int{2, 3}, d.Isomorphs[molecule.ModeIACM][3])

	d.RemoveMolecule(2)
	assert.Empty(t, d.Isomorphs[molecule.ModeIACM])
}
