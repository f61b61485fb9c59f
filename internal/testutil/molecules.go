package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// LGF fixtures shared by codec, repository and service tests. Charges are
// GROMOS-like reference values and every molecule sums to its total charge.

// WaterLGF is H-O-H.
const WaterLGF = `@nodes
label	label2	atom_type	partial_charge
1	HW1	H	0.41
2	OW	OW	-0.82
3	HW2	H	0.41
@edges
		label	bond_type
1	2	0	1
2	3	1	1
@attributes
total_charge	0
`

// MethanolLGF is CH3-O-H.
const MethanolLGF = `@nodes
label	label2	atom_type	partial_charge
1	C1	CH3	0.266
2	O1	OA	-0.674
3	H1	H	0.408
@edges
		label	bond_type
1	2	0	1
2	3	1	1
@attributes
total_charge	0
`

// EthanolLGF is CH3-CH2-O-H.
const EthanolLGF = `@nodes
label	label2	atom_type	partial_charge
1	C1	CH3	0.0
2	C2	CH2	0.266
3	O1	OA	-0.674
4	H1	H	0.408
@edges
		label	bond_type
1	2	0	1
2	3	1	1
3	4	2	1
@attributes
total_charge	0
`

// PropanolLGF is CH3-CH2-CH2-O-H.
const PropanolLGF = `@nodes
label	label2	atom_type	partial_charge
1	C1	CH3	0.0
2	C2	CH2	0.0
3	C3	CH2	0.266
4	O1	OA	-0.674
5	H1	H	0.408
@edges
		label	bond_type
1	2	0	1
2	3	1	1
3	4	2	1
4	5	3	1
@attributes
total_charge	0
`

// UnchargedEthanolLGF is EthanolLGF without charges and with an extra
// column the codec does not interpret.
const UnchargedEthanolLGF = `# ethanol, united atom
@nodes
label	label2	atom_type	charge_group
1	C1	CH3	0
2	C2	CH2	0
3	O1	OA	1
4	H1	H	1
@edges
		label	bond_type
1	2	0	1
2	3	1	1
3	4	2	1
@attributes
total_charge	0
name	"ethyl alcohol"
`

// ButanolLGF is absent from ReferenceSet. Its middle CH2 groups have no
// IACM environment there, so it only charges with plain elements at shell 1.
const ButanolLGF = `@nodes
label	label2	atom_type
1	C1	CH3
2	C2	CH2
3	C3	CH2
4	C4	CH2
5	O1	OA
6	H1	H
@edges
		label	bond_type
1	2	0	1
2	3	1	1
3	4	2	1
4	5	3	1
5	6	4	1
@attributes
total_charge	0
`

// ReferenceSet maps molecule ids to the fixtures used as a small repository.
var ReferenceSet = map[int]string{
	1: WaterLGF,
	2: MethanolLGF,
	3: EthanolLGF,
	4: PropanolLGF,
}

// WriteReferenceSet writes ReferenceSet as "<molid>.lgf" files into a fresh
// temporary directory and returns its path.
func WriteReferenceSet(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	for id, src := range ReferenceSet {
		path := filepath.Join(dir, strconv.Itoa(id)+".lgf")
		if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return dir
}
