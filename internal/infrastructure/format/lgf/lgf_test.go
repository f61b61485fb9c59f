package lgf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/internal/testutil"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

func TestDecode_Water(t *testing.T) {
	mol, err := DecodeString(testutil.WaterLGF)
	require.NoError(t, err)

	assert.Equal(t, 3, mol.NumAtoms())
	assert.Equal(t, 2, mol.NumBonds())
	o := mol.Atom(1)
	assert.Equal(t, "2", o.Label)
	assert.Equal(t, "OW", o.Name)
	assert.Equal(t, "OW", o.AtomType)
	assert.Equal(t, "O", o.Element)
	require.NotNil(t, o.Charge)
	assert.InDelta(t, -0.82, *o.Charge, 1e-12)

	total, ok := mol.TotalCharge()
	assert.True(t, ok)
	assert.Equal(t, 0, total)
	assert.Equal(t, []string{"label", "label2", "atom_type", "partial_charge"}, mol.NodeColumns())
	assert.Equal(t, "1", mol.Bonds()[1].Label)
}

func TestDecode_CommentsQuotesAndExtraColumns(t *testing.T) {
	mol, err := Decode(strings.NewReader(testutil.UnchargedEthanolLGF))
	require.NoError(t, err)

	assert.False(t, mol.HasCharges())
	assert.Equal(t, "1", mol.Atom(2).Attrs["charge_group"])
	name, ok := mol.Attribute("name")
	assert.True(t, ok)
	assert.Equal(t, "ethyl alcohol", name)
}

func TestDecode_BondTypes(t *testing.T) {
	src := "@nodes\nlabel\tatom_type\n1\tC\n2\tC\n3\tO\n@edges\n\t\tlabel\tbond_type\n1\t2\t0\tar\n2\t3\t1\t2\n"
	mol, err := DecodeString(src)
	require.NoError(t, err)
	assert.Equal(t, molecule.BondAromatic, mol.Bonds()[0].Type)
	assert.Equal(t, molecule.BondDouble, mol.Bonds()[1].Type)
	_, ok := mol.TotalCharge()
	assert.False(t, ok)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code errors.ErrorCode
	}{
		{"syntax", "@nodes\nlabel\tatom_type\n1\t\"C\n", errors.ErrCodeMoleculeFormat},
		{"no nodes", "@attributes\ntotal_charge\t0\n", errors.ErrCodeMoleculeFormat},
		{"unknown section", "@nodes\nlabel\tatom_type\n1\tC\n@faces\nx\n", errors.ErrCodeMoleculeFormat},
		{"missing atom_type", "@nodes\nlabel\n1\n", errors.ErrCodeMoleculeFormat},
		{"short node row", "@nodes\nlabel\tatom_type\n1\n", errors.ErrCodeMoleculeFormat},
		{"bad charge", "@nodes\nlabel\tatom_type\tpartial_charge\n1\tC\tx\n", errors.ErrCodeMoleculeFormat},
		{"short edge row", "@nodes\nlabel\tatom_type\n1\tC\n2\tC\n@edges\n\t\tlabel\tbond_type\n1\t2\t0\n", errors.ErrCodeMoleculeFormat},
		{"bad attribute", "@nodes\nlabel\tatom_type\n1\tC\n@attributes\ntotal_charge\n", errors.ErrCodeMoleculeFormat},
		{"fractional total", "@nodes\nlabel\tatom_type\n1\tC\n@attributes\ntotal_charge\t0.5\n", errors.CodeInvalidParam},
		{"bad bond type", "@nodes\nlabel\tatom_type\n1\tC\n2\tC\n@edges\n\t\tlabel\tbond_type\n1\t2\t0\t7\n", errors.CodeInvalidGraph},
		{"unknown atom", "@nodes\nlabel\tatom_type\n1\tC\n2\tC\n@edges\n\t\tlabel\tbond_type\n1\t9\t0\t1\n", errors.CodeInvalidGraph},
		{"disconnected", "@nodes\nlabel\tatom_type\n1\tC\n2\tC\n", errors.CodeInvalidGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeString(tt.src)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err), err.Error())
		})
	}
}

func TestParseTotalCharge(t *testing.T) {
	for in, want := range map[string]int{"0": 0, "-2": -2, "1.0": 1, "+3": 3} {
		got, err := ParseTotalCharge(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"0.5", "x", "NaN", "Inf", "1e300", "-10001", "99999999999999999999"} {
		_, err := ParseTotalCharge(in)
		assert.Error(t, err, in)
	}
}

func TestEncode_RoundTripKeepsColumns(t *testing.T) {
	mol, err := DecodeString(testutil.UnchargedEthanolLGF)
	require.NoError(t, err)

	charged, err := mol.WithCharges([]float64{0, 0.266, -0.674, 0.408})
	require.NoError(t, err)
	out, err := EncodeString(charged)
	require.NoError(t, err)

	assert.Contains(t, out, "label\tlabel2\tatom_type\tcharge_group\tpartial_charge\n")
	assert.Contains(t, out, "3\tO1\tOA\t1\t-0.674\n")
	assert.Contains(t, out, "\t\tlabel\tbond_type\n")
	assert.Contains(t, out, "total_charge\t0\n")
	assert.Contains(t, out, "name\t\"ethyl alcohol\"\n")

	back, err := DecodeString(out)
	require.NoError(t, err)
	got, err := back.Charges()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.266, -0.674, 0.408}, got)
	assert.Equal(t, charged.Edges(), back.Edges())
	assert.Equal(t, "1", back.Atom(3).Attrs["charge_group"])
}

func TestEncode_ReplacesExistingCharges(t *testing.T) {
	mol, err := DecodeString(testutil.WaterLGF)
	require.NoError(t, err)
	charged, err := mol.WithCharges([]float64{0.4, -0.8, 0.4})
	require.NoError(t, err)

	out, err := EncodeString(charged)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "partial_charge"))
	assert.Contains(t, out, "2\tOW\tOW\t-0.8\n")
}

func TestEncode_BuiltMoleculeUsesDefaultColumns(t *testing.T) {
	b := molecule.NewBuilder()
	b.AddAtom(molecule.Atom{AtomType: "CH4"})
	mol, err := b.Build()
	require.NoError(t, err)

	out, err := EncodeString(mol)
	require.NoError(t, err)
	assert.Equal(t, "@nodes\nlabel\tatom_type\n1\tCH4\n@edges\n\t\tlabel\tbond_type\n", out)

	back, err := DecodeString(out)
	require.NoError(t, err)
	assert.Equal(t, "CH4", back.Atom(0).AtomType)
}

func TestFormatCharge(t *testing.T) {
	assert.Equal(t, "0.41", FormatCharge(0.41))
	assert.Equal(t, "-1", FormatCharge(-1))
	assert.Equal(t, "0", FormatCharge(0))
}
