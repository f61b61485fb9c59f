// Package overrides reads hand-curated candidate lists that replace the
// derived ones for selected environment signatures.
//
//	overrides:
//	  - mode: iacm
//	    shell: 2
//	    signature: 5d41402abc4b2a76b9719d911017c592
//	    candidates:
//	      - {value: 0.41, weight: 1}
package overrides

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

type file struct {
	Overrides []candidate.Override `yaml:"overrides"`
}

// Decode parses and validates an overrides document. Unknown keys are
// rejected. An empty document yields no overrides.
func Decode(r io.Reader) ([]candidate.Override, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "failed to parse candidate overrides")
	}

	seen := make(map[candidate.TableKey]map[string]struct{})
	for i, o := range f.Overrides {
		where := fmt.Sprintf("overrides[%d]", i)
		if !o.Mode.IsValid() {
			return nil, errors.InvalidParam("unknown mode").WithDetail(fmt.Sprintf("%s: %q", where, o.Mode))
		}
		if o.Shell < 0 {
			return nil, errors.InvalidParam("negative shell").WithDetail(where)
		}
		if o.Signature == "" {
			return nil, errors.InvalidParam("missing signature").WithDetail(where)
		}
		if len(o.Candidates) == 0 {
			return nil, errors.InvalidParam("no candidates").WithDetail(where)
		}
		for _, c := range o.Candidates {
			if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) || !(c.Weight >= 0) || math.IsInf(c.Weight, 0) {
				return nil, errors.InvalidParam("invalid candidate").
					WithDetail(fmt.Sprintf("%s: value %v weight %v", where, c.Value, c.Weight))
			}
		}
		key := candidate.TableKey{Mode: o.Mode, Shell: o.Shell}
		if seen[key] == nil {
			seen[key] = make(map[string]struct{})
		}
		if _, dup := seen[key][o.Signature]; dup {
			return nil, errors.InvalidParam("duplicate override").
				WithDetail(fmt.Sprintf("%s: %s/%d/%s", where, o.Mode, o.Shell, o.Signature))
		}
		seen[key][o.Signature] = struct{}{}
	}
	return f.Overrides, nil
}

// Load reads the overrides file at path.
func Load(path string) ([]candidate.Override, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to read candidate overrides").WithDetail(path)
	}
	return Decode(bytes.NewReader(raw))
}

// Encode writes overrides in the format Decode reads.
func Encode(w io.Writer, list []candidate.Override) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file{Overrides: list}); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode candidate overrides")
	}
	return enc.Close()
}
