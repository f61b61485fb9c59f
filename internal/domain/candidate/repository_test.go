package candidate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
)

func sampleDataset() *Dataset {
	d := NewDataset(1, 3)
	for molid, charge := range map[int]float64{1: 0.1, 2: 0.1, 3: 0.2, 4: 0.3} {
		d.Add(molecule.ModeIACM, 1, "c", Observation{Charge: charge, MoleculeID: molid, Atom: "1"})
		d.Add(molecule.ModeElement, 1, "c", Observation{Charge: charge, MoleculeID: molid, Atom: "1"})
	}
	d.SetIsomorphs(molecule.ModeIACM, [][]int{{1, 2}})
	return d
}

func TestNewRepository_Validation(t *testing.T) {
	_, err := NewRepository(nil, Options{Resolution: 0.01})
	assert.Error(t, err)
	_, err = NewRepository(NewDataset(1, 2), Options{})
	assert.Error(t, err)
	_, err = NewRepository(NewDataset(3, 2), Options{Resolution: 0.01})
	assert.Error(t, err)
	_, err = NewRepository(NewDataset(1, 2), Options{Resolution: 0.01, Overrides: []Override{{Mode: "x"}}})
	assert.Error(t, err)
}

func TestRepository_Table(t *testing.T) {
	r, err := NewRepository(sampleDataset(), Options{Resolution: 0.01})
	require.NoError(t, err)

	table, err := r.Table(molecule.ModeIACM, 1)
	require.NoError(t, err)
	got := table.Lookup("c")
	require.Len(t, got, 3)
	assert.InDelta(t, 0.5, got[0].Weight, 1e-12)

	again, err := r.Table(molecule.ModeIACM, 1)
	require.NoError(t, err)
	assert.Same(t, table, again, "tables are derived once")

	empty, err := r.Table(molecule.ModeIACM, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	_, err = r.Table(molecule.ModeIACM, 4)
	assert.Error(t, err)
	_, err = r.Table("x", 1)
	assert.Error(t, err)
}

func TestRepository_WithoutExcludesIsomorphsPerMode(t *testing.T) {
	r, err := NewRepository(sampleDataset(), Options{Resolution: 0.01})
	require.NoError(t, err)

	view := r.Without(1)
	assert.Equal(t, []int{1, 2}, view.Excluded(molecule.ModeIACM))
	assert.Equal(t, []int{1}, view.Excluded(molecule.ModeElement))

	iacm, err := view.Table(molecule.ModeIACM, 1)
	require.NoError(t, err)
	got := iacm.Lookup("c")
	require.Len(t, got, 2)
	assert.InDelta(t, 0.2, got[0].Value, 1e-12)

	elem, err := view.Table(molecule.ModeElement, 1)
	require.NoError(t, err)
	assert.Len(t, elem.Lookup("c"), 3)

	orig, err := r.Table(molecule.ModeIACM, 1)
	require.NoError(t, err)
	assert.Len(t, orig.Lookup("c"), 3, "original repository unchanged")
}

func TestRepository_Overrides(t *testing.T) {
	r, err := NewRepository(sampleDataset(), Options{
		Resolution: 0.01,
		Overrides: []Override{{
			Mode: molecule.ModeIACM, Shell: 1, Signature: "c",
			Candidates: []Candidate{{Value: -0.5, Weight: 1}},
		}},
	})
	require.NoError(t, err)

	iacm, err := r.Table(molecule.ModeIACM, 1)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{Value: -0.5, Weight: 1}}, iacm.Lookup("c"))

	elem, err := r.Table(molecule.ModeElement, 1)
	require.NoError(t, err)
	assert.Len(t, elem.Lookup("c"), 3)
}

func TestRepository_Info(t *testing.T) {
	r, err := NewRepository(sampleDataset(), Options{Resolution: 0.01})
	require.NoError(t, err)

	info := r.Info()
	assert.Equal(t, 1, info.MinShell)
	assert.Equal(t, 3, info.MaxShell)
	assert.Equal(t, 4, info.Molecules)
	assert.Equal(t, 1, info.Signatures["iacm/1"])
	assert.Equal(t, 4, info.Observations["elem/1"])
	assert.Equal(t, 1, info.Isomorphs[molecule.ModeIACM])
}

func TestRepository_ConcurrentTableDerivation(t *testing.T) {
	r, err := NewRepository(sampleDataset(), Options{Resolution: 0.01})
	require.NoError(t, err)

	var wg sync.WaitGroup
	tables := make([]*Table, 8)
	for i := range tables {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tables[i], _ = r.Table(molecule.ModeElement, 1)
		}(i)
	}
	wg.Wait()
	for _, tb := range tables {
		assert.Same(t, tables[0], tb)
	}
}

func TestHolder_Swap(t *testing.T) {
	h := NewHolder(nil)
	assert.Nil(t, h.Current())

	r1, err := NewRepository(sampleDataset(), Options{Resolution: 0.01})
	require.NoError(t, err)
	r2, err := NewRepository(sampleDataset(), Options{Resolution: 0.1})
	require.NoError(t, err)

	assert.Nil(t, h.Swap(r1))
	assert.Same(t, r1, h.Current())
	assert.Same(t, r1, h.Swap(r2))
	assert.Same(t, r2, h.Current())
}
