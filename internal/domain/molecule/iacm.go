package molecule

import "strings"

// iacmElements maps GROMOS 54A7 IACM atom types to their chemical element.
var iacmElements = map[string]string{
	"O": "O", "OM": "O", "OA": "O", "OE": "O", "OW": "O",
	"OMet": "O", "OUrea": "O", "ODmso": "O", "OTFE": "O", "OCH3": "O",
	"N": "N", "NT": "N", "NL": "N", "NR": "N", "NZ": "N", "NE": "N", "NUrea": "N",
	"C": "C", "CH0": "C", "CH1": "C", "CH2": "C", "CH3": "C", "CH4": "C",
	"CH2r": "C", "CR1": "C", "CMet": "C", "CChl": "C", "CDmso": "C",
	"CCl4": "C", "CTFE": "C", "CHTFE": "C", "CUrea": "C", "CH3p": "C",
	"CAro": "C", "CPos": "C",
	"H": "H", "HC": "H", "HChl": "H", "HS14": "H",
	"S": "S", "SDmso": "S",
	"P": "P", "SI": "Si", "B": "B", "SE": "Se",
	"F": "F", "FTFE": "F",
	"CL": "Cl", "CL-": "Cl", "CLChl": "Cl", "CLCl4": "Cl", "CLOpt": "Cl", "CLAro": "Cl",
	"BR": "Br", "BROpt": "Br", "I": "I",
	"NA+": "Na", "CU1+": "Cu", "CU2+": "Cu", "FE": "Fe", "ZN2+": "Zn",
	"MG2+": "Mg", "CA2+": "Ca", "AR": "Ar",
}

// commonElements recognises atom types that are already element symbols.
var commonElements = map[string]string{
	"h": "H", "c": "C", "n": "N", "o": "O", "p": "P", "s": "S",
	"f": "F", "cl": "Cl", "br": "Br", "i": "I", "b": "B", "si": "Si", "se": "Se",
	"na": "Na", "k": "K", "mg": "Mg", "ca": "Ca", "fe": "Fe", "zn": "Zn", "cu": "Cu",
}

// ElementOf returns the element for an IACM atom type. Types that are already
// element symbols map to themselves; an unrecognised type is returned as is.
func ElementOf(atomType string) string {
	if e, ok := iacmElements[atomType]; ok {
		return e
	}
	if e, ok := commonElements[strings.ToLower(atomType)]; ok {
		return e
	}
	return atomType
}

// IsIACMType reports whether atomType is a known IACM type.
func IsIACMType(atomType string) bool {
	_, ok := iacmElements[atomType]
	return ok
}
