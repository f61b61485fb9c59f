// Package lgf reads and writes molecules in the LEMON graph format.
//
// A molecule file has an @nodes section whose header names the per-atom
// columns (label and atom_type are required), an @edges section whose rows
// start with the two endpoint labels, and an optional @attributes section of
// key/value pairs. The total_charge attribute must be an integer.
//
// Decode keeps every node column, known or not, so Encode can write the file
// back with only the partial_charge column changed or added.
package lgf

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Column names with a meaning to the codec.
const (
	ColumnLabel         = "label"
	ColumnName          = "label2"
	ColumnAtomType      = "atom_type"
	ColumnElement       = "element"
	ColumnPartialCharge = "partial_charge"
	ColumnBondType      = "bond_type"
	AttributeTotal      = "total_charge"
)

var defaultNodeColumns = []string{ColumnLabel, ColumnAtomType}

func formatError(msg string, detail string) error {
	return errors.New(errors.ErrCodeMoleculeFormat, msg).WithDetail(detail)
}

// Decode parses one molecule.
func Decode(r io.Reader) (*molecule.Molecule, error) {
	doc, err := parseDocument.Parse("", r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMoleculeFormat, "malformed LGF document")
	}
	return build(doc)
}

// DecodeString parses one molecule from s.
func DecodeString(s string) (*molecule.Molecule, error) {
	doc, err := parseDocument.ParseString("", s)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMoleculeFormat, "malformed LGF document")
	}
	return build(doc)
}

func build(doc *document) (*molecule.Molecule, error) {
	b := molecule.NewBuilder()
	var sawNodes, sawEdges bool
	for _, sec := range doc.Sections {
		var err error
		switch sec.Name {
		case "@nodes":
			if sawNodes {
				return nil, formatError("repeated section", sec.Name)
			}
			sawNodes = true
			err = readNodes(b, sec.Rows)
		case "@edges", "@arcs":
			if !sawNodes {
				return nil, formatError("edges before nodes", sec.Name)
			}
			if sawEdges {
				return nil, formatError("repeated section", sec.Name)
			}
			sawEdges = true
			err = readEdges(b, sec.Rows)
		case "@attributes":
			err = readAttributes(b, sec.Rows)
		default:
			err = formatError("unknown section", sec.Name)
		}
		if err != nil {
			return nil, err
		}
	}
	if !sawNodes {
		return nil, formatError("missing section", "@nodes")
	}
	return b.Build()
}

func readNodes(b *molecule.Builder, rows []*row) error {
	if len(rows) == 0 {
		return formatError("missing header", "@nodes")
	}
	header := rows[0].Cells
	col := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := col[h]; dup {
			return formatError("repeated node column", h)
		}
		col[h] = i
	}
	for _, req := range []string{ColumnLabel, ColumnAtomType} {
		if _, ok := col[req]; !ok {
			return formatError("missing node column", req)
		}
	}
	b.SetNodeColumns(header)

	for n, r := range rows[1:] {
		if len(r.Cells) != len(header) {
			return formatError("node row has the wrong number of cells",
				fmt.Sprintf("row %d: %d cells, header has %d", n+1, len(r.Cells), len(header)))
		}
		a := molecule.Atom{Attrs: make(map[string]string)}
		for i, h := range header {
			v := r.Cells[i]
			switch h {
			case ColumnLabel:
				a.Label = v
			case ColumnName:
				a.Name = v
			case ColumnAtomType:
				a.AtomType = v
			case ColumnElement:
				a.Element = v
			case ColumnPartialCharge:
				q, err := strconv.ParseFloat(v, 64)
				if err != nil || math.IsNaN(q) || math.IsInf(q, 0) {
					return formatError("partial charge is not a number", fmt.Sprintf("atom %s: %q", r.Cells[col[ColumnLabel]], v))
				}
				a.Charge = &q
			default:
				a.Attrs[h] = v
			}
		}
		if len(a.Attrs) == 0 {
			a.Attrs = nil
		}
		b.AddAtom(a)
	}
	return nil
}

func readEdges(b *molecule.Builder, rows []*row) error {
	if len(rows) == 0 {
		return nil
	}
	header := rows[0].Cells
	labelCol, typeCol := -1, -1
	for i, h := range header {
		switch h {
		case ColumnLabel:
			labelCol = i
		case ColumnBondType:
			typeCol = i
		}
	}
	for n, r := range rows[1:] {
		if len(r.Cells) != len(header)+2 {
			return formatError("edge row has the wrong number of cells",
				fmt.Sprintf("row %d: %d cells, want %d", n+1, len(r.Cells), len(header)+2))
		}
		vals := r.Cells[2:]
		bt := molecule.BondUnspecified
		if typeCol >= 0 {
			var err error
			if bt, err = molecule.ParseBondType(vals[typeCol]); err != nil {
				return err
			}
		}
		var label string
		if labelCol >= 0 {
			label = vals[labelCol]
		}
		b.AddLabelledBond(r.Cells[0], r.Cells[1], bt, label)
	}
	return nil
}

func readAttributes(b *molecule.Builder, rows []*row) error {
	for _, r := range rows {
		if len(r.Cells) != 2 {
			return formatError("attribute row must be a key and a value", strings.Join(r.Cells, " "))
		}
		key, val := r.Cells[0], r.Cells[1]
		if key == AttributeTotal {
			total, err := ParseTotalCharge(val)
			if err != nil {
				return err
			}
			b.SetTotalCharge(total)
			continue
		}
		b.SetAttribute(key, val)
	}
	return nil
}

// ParseTotalCharge accepts integer totals only. "1", "-2" and "1.0" are
// accepted; "0.5" is not, nor is anything beyond molecule.MaxTotalCharge.
func ParseTotalCharge(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, errors.InvalidParam("total charge must be an integer").WithDetail(s)
	}
	if math.Abs(f) > molecule.MaxTotalCharge {
		return 0, errors.InvalidParam("total charge is out of range").WithDetail(s)
	}
	return int(f), nil
}

// Encode writes mol. When mol carries charges the partial_charge column is
// filled in, and appended to the header if the input had none.
func Encode(w io.Writer, mol *molecule.Molecule) error {
	bw := bufio.NewWriter(w)

	header := mol.NodeColumns()
	if len(header) == 0 {
		header = append([]string(nil), defaultNodeColumns...)
	}
	charged := mol.HasCharges()
	if charged && !contains(header, ColumnPartialCharge) {
		header = append(header, ColumnPartialCharge)
	}

	fmt.Fprintln(bw, "@nodes")
	writeRow(bw, header)
	for _, a := range mol.Atoms() {
		cells := make([]string, len(header))
		for i, h := range header {
			switch h {
			case ColumnLabel:
				cells[i] = a.Label
			case ColumnName:
				cells[i] = a.Name
			case ColumnAtomType:
				cells[i] = a.AtomType
			case ColumnElement:
				cells[i] = a.Element
			case ColumnPartialCharge:
				if a.Charge != nil {
					cells[i] = FormatCharge(*a.Charge)
				}
			default:
				cells[i] = a.Attrs[h]
			}
		}
		writeRow(bw, cells)
	}

	fmt.Fprintln(bw, "@edges")
	bw.WriteString("\t\t")
	writeRow(bw, []string{ColumnLabel, ColumnBondType})
	atoms := mol.Atoms()
	for i, bd := range mol.Bonds() {
		label := bd.Label
		if label == "" {
			label = strconv.Itoa(i)
		}
		writeRow(bw, []string{atoms[bd.From].Label, atoms[bd.To].Label, label, bd.Type.String()})
	}

	total, hasTotal := mol.TotalCharge()
	keys := mol.AttributeKeys()
	if hasTotal || len(keys) > 0 {
		fmt.Fprintln(bw, "@attributes")
		if hasTotal {
			writeRow(bw, []string{AttributeTotal, strconv.Itoa(total)})
		}
		for _, k := range keys {
			v, _ := mol.Attribute(k)
			writeRow(bw, []string{k, v})
		}
	}
	return bw.Flush()
}

// EncodeString is Encode into a string.
func EncodeString(mol *molecule.Molecule) (string, error) {
	var sb strings.Builder
	if err := Encode(&sb, mol); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// FormatCharge renders a charge with the shortest exact representation.
func FormatCharge(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeRow(w *bufio.Writer, cells []string) {
	for i, c := range cells {
		if i > 0 {
			w.WriteByte('\t')
		}
		w.WriteString(quote(c))
	}
	w.WriteByte('\n')
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"#") || strings.HasPrefix(s, "@") {
		return strconv.Quote(s)
	}
	return s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
