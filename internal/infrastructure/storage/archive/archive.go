// Package archive stores a candidate dataset as a zip file of msgpack
// entries: meta ([min_shell, max_shell]), oracle (the canonicaliser name),
// charges_iacm and charges_elem ({shell: {signature: [[charge, molid, atom],
// ...]}}) and iso_iacm and iso_elem ({molid: [isomorphic molids]}). Archives
// without an oracle entry read back with an empty Oracle.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// Entry names.
const (
	EntryMeta        = "meta"
	EntryOracle      = "oracle"
	EntryChargesIACM = "charges_iacm"
	EntryChargesElem = "charges_elem"
	EntryIsoIACM     = "iso_iacm"
	EntryIsoElem     = "iso_elem"
)

func chargesEntry(mode molecule.Mode) string {
	if mode == molecule.ModeElement {
		return EntryChargesElem
	}
	return EntryChargesIACM
}

func isoEntry(mode molecule.Mode) string {
	if mode == molecule.ModeElement {
		return EntryIsoElem
	}
	return EntryIsoIACM
}

var modes = []molecule.Mode{molecule.ModeIACM, molecule.ModeElement}

// Write encodes d into w. Map keys are sorted so equal datasets produce
// identical archives.
func Write(w io.Writer, d *candidate.Dataset) error {
	zw := zip.NewWriter(w)

	put := func(name string, v interface{}) error {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return err
		}
		enc := msgpack.NewEncoder(fw)
		enc.SetSortMapKeys(true)
		return enc.Encode(v)
	}

	if err := put(EntryMeta, []int{d.MinShell, d.MaxShell}); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "write repository archive").WithDetail(EntryMeta)
	}
	if d.Oracle != "" {
		if err := put(EntryOracle, d.Oracle); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageError, "write repository archive").WithDetail(EntryOracle)
		}
	}
	for _, mode := range modes {
		charges := d.Charges[mode]
		if charges == nil {
			charges = map[int]candidate.ShellData{}
		}
		if err := put(chargesEntry(mode), charges); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageError, "write repository archive").WithDetail(chargesEntry(mode))
		}
		iso := d.Isomorphs[mode]
		if iso == nil {
			iso = map[int][]int{}
		}
		if err := put(isoEntry(mode), iso); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageError, "write repository archive").WithDetail(isoEntry(mode))
		}
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "finish repository archive")
	}
	return nil
}

// Read decodes an archive.
func Read(r io.ReaderAt, size int64) (*candidate.Dataset, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "open repository archive")
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	get := func(name string, v interface{}) error {
		f, ok := files[name]
		if !ok {
			return errors.New(errors.ErrCodeStorageError, "repository archive entry missing").WithDetail(name)
		}
		rc, err := f.Open()
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageError, "open repository archive entry").WithDetail(name)
		}
		defer rc.Close()
		if err := msgpack.NewDecoder(rc).Decode(v); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageError, "decode repository archive entry").WithDetail(name)
		}
		return nil
	}

	var meta []int
	if err := get(EntryMeta, &meta); err != nil {
		return nil, err
	}
	if len(meta) != 2 || meta[0] < 0 || meta[1] < meta[0] {
		return nil, errors.New(errors.ErrCodeStorageError, "invalid repository archive meta").
			WithDetail(fmt.Sprintf("%v", meta))
	}

	d := candidate.NewDataset(meta[0], meta[1])
	if _, ok := files[EntryOracle]; ok {
		if err := get(EntryOracle, &d.Oracle); err != nil {
			return nil, err
		}
	}
	for _, mode := range modes {
		charges := make(map[int]candidate.ShellData)
		if err := get(chargesEntry(mode), &charges); err != nil {
			return nil, err
		}
		d.Charges[mode] = charges
		iso := make(map[int][]int)
		if err := get(isoEntry(mode), &iso); err != nil {
			return nil, err
		}
		d.Isomorphs[mode] = iso
	}
	return d, nil
}

// ReadBytes decodes an archive held in memory.
func ReadBytes(b []byte) (*candidate.Dataset, error) {
	return Read(bytes.NewReader(b), int64(len(b)))
}

// Bytes encodes d into memory.
func Bytes(d *candidate.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadFile decodes the archive at path.
func ReadFile(path string) (*candidate.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "open repository file").WithDetail(path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "stat repository file").WithDetail(path)
	}
	return Read(f, st.Size())
}

// WriteFile writes d to path through a temporary file in the same
// directory, so readers never observe a partial archive.
func WriteFile(path string, d *candidate.Dataset) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "create repository file").WithDetail(path)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, d); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "close repository file").WithDetail(path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "replace repository file").WithDetail(path)
	}
	return nil
}
