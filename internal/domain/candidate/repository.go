package candidate

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
)

// TableKey identifies one table of a repository.
type TableKey struct {
	Mode  molecule.Mode
	Shell int
}

// Override replaces the derived candidates of one signature.
type Override struct {
	Mode       molecule.Mode `yaml:"mode" json:"mode"`
	Shell      int           `yaml:"shell" json:"shell"`
	Signature  string        `yaml:"signature" json:"signature"`
	Candidates []Candidate   `yaml:"candidates" json:"candidates"`
}

// Options controls how a Repository derives its tables.
type Options struct {
	Resolution    float64
	MaxCandidates int
	Overrides     []Override
}

// Repository holds one candidate table per (mode, shell), derived lazily from
// an immutable Dataset. A Repository is safe for concurrent use.
type Repository struct {
	data     *Dataset
	opts     Options
	excluded map[molecule.Mode]map[int]struct{}
	loadedAt time.Time

	mu     sync.Mutex
	tables map[TableKey]*lazyTable
}

type lazyTable struct {
	once  sync.Once
	table *Table
	err   error
}

// NewRepository wraps data. The repository takes ownership of data.
func NewRepository(data *Dataset, opts Options) (*Repository, error) {
	if data == nil {
		return nil, fmt.Errorf("candidate: nil dataset")
	}
	if !(opts.Resolution > 0) {
		return nil, fmt.Errorf("candidate: resolution must be > 0, got %v", opts.Resolution)
	}
	if data.MinShell < 0 || data.MaxShell < data.MinShell {
		return nil, fmt.Errorf("candidate: invalid shell range [%d, %d]", data.MinShell, data.MaxShell)
	}
	for _, o := range opts.Overrides {
		if !o.Mode.IsValid() {
			return nil, fmt.Errorf("candidate: override for %s has unknown mode %q", o.Signature, o.Mode)
		}
	}
	return &Repository{
		data:     data,
		opts:     opts,
		loadedAt: time.Now(),
		tables:   make(map[TableKey]*lazyTable),
	}, nil
}

// MinShell returns the smallest shell with data.
func (r *Repository) MinShell() int { return r.data.MinShell }

// MaxShell returns the largest shell with data.
func (r *Repository) MaxShell() int { return r.data.MaxShell }

// LoadedAt returns when the repository was created.
func (r *Repository) LoadedAt() time.Time { return r.loadedAt }

// Resolution returns the grid the tables are derived on.
func (r *Repository) Resolution() float64 { return r.opts.Resolution }

// Dataset returns the underlying dataset. Callers must not modify it.
func (r *Repository) Dataset() *Dataset { return r.data }

// HasShell reports whether shell lies in the repository's range.
func (r *Repository) HasShell(shell int) bool {
	return shell >= r.data.MinShell && shell <= r.data.MaxShell
}

// Table returns the candidate table for (mode, shell).
func (r *Repository) Table(mode molecule.Mode, shell int) (*Table, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("candidate: unknown mode %q", mode)
	}
	if !r.HasShell(shell) {
		return nil, fmt.Errorf("candidate: shell %d outside [%d, %d]", shell, r.data.MinShell, r.data.MaxShell)
	}
	key := TableKey{Mode: mode, Shell: shell}
	r.mu.Lock()
	lt, ok := r.tables[key]
	if !ok {
		lt = &lazyTable{}
		r.tables[key] = lt
	}
	r.mu.Unlock()

	lt.once.Do(func() { lt.table, lt.err = r.derive(key) })
	return lt.table, lt.err
}

func (r *Repository) derive(key TableKey) (*Table, error) {
	b, err := NewBuilder(r.opts.Resolution, r.opts.MaxCandidates)
	if err != nil {
		return nil, err
	}
	skip := r.excluded[key.Mode]
	for sig, list := range r.data.Charges[key.Mode][key.Shell] {
		for _, o := range list {
			if _, out := skip[o.MoleculeID]; out {
				continue
			}
			b.Add(sig, o.Charge)
		}
	}
	t := b.Build()

	overrides := make(map[string][]Candidate)
	for _, o := range r.opts.Overrides {
		if o.Mode == key.Mode && o.Shell == key.Shell {
			overrides[o.Signature] = o.Candidates
		}
	}
	if len(overrides) == 0 {
		return t, nil
	}
	return t.WithOverrides(overrides)
}

// Without returns a view of the repository that ignores molid and, per mode,
// every molecule isomorphic to it. The receiver is unchanged.
func (r *Repository) Without(molid int) *Repository {
	excluded := make(map[molecule.Mode]map[int]struct{}, 2)
	for _, mode := range []molecule.Mode{molecule.ModeIACM, molecule.ModeElement} {
		set := map[int]struct{}{molid: {}}
		for m := range r.excluded[mode] {
			set[m] = struct{}{}
		}
		for _, m := range r.data.Isomorphs[mode][molid] {
			set[m] = struct{}{}
		}
		excluded[mode] = set
	}
	return &Repository{
		data:     r.data,
		opts:     r.opts,
		excluded: excluded,
		loadedAt: r.loadedAt,
		tables:   make(map[TableKey]*lazyTable),
	}
}

// Excluded returns the molecules this view ignores for mode, sorted.
func (r *Repository) Excluded(mode molecule.Mode) []int {
	out := make([]int, 0, len(r.excluded[mode]))
	for m := range r.excluded[mode] {
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

// Info summarises a repository.
type Info struct {
	Oracle       string                `json:"oracle,omitempty"`
	MinShell     int                   `json:"min_shell"`
	MaxShell     int                   `json:"max_shell"`
	Molecules    int                   `json:"molecules"`
	Resolution   float64               `json:"resolution"`
	Overrides    int                   `json:"overrides"`
	LoadedAt     time.Time             `json:"loaded_at"`
	Signatures   map[string]int        `json:"signatures"`
	Observations map[string]int        `json:"observations"`
	Isomorphs    map[molecule.Mode]int `json:"isomorph_groups"`
}

// Info reports sizes per (mode, shell), keyed "<mode>/<shell>".
func (r *Repository) Info() Info {
	info := Info{
		Oracle:       r.data.Oracle,
		MinShell:     r.data.MinShell,
		MaxShell:     r.data.MaxShell,
		Molecules:    len(r.data.Molecules()),
		Resolution:   r.opts.Resolution,
		Overrides:    len(r.opts.Overrides),
		LoadedAt:     r.loadedAt,
		Signatures:   make(map[string]int),
		Observations: make(map[string]int),
		Isomorphs:    make(map[molecule.Mode]int),
	}
	for mode, shells := range r.data.Charges {
		for shell, sd := range shells {
			k := fmt.Sprintf("%s/%d", mode, shell)
			info.Signatures[k] = len(sd)
			info.Observations[k] = r.data.ObservationCount(mode, shell)
		}
	}
	for mode, iso := range r.data.Isomorphs {
		groups := make(map[int]struct{})
		for _, g := range iso {
			groups[g[0]] = struct{}{}
		}
		info.Isomorphs[mode] = len(groups)
	}
	return info
}

// ─────────────────────────────────────────────────────────────────────────────
// Holder
// ─────────────────────────────────────────────────────────────────────────────

// Holder publishes the current repository snapshot. Readers always see a
// complete snapshot; Swap never mutates the previous one.
type Holder struct {
	p atomic.Pointer[Repository]
}

// NewHolder returns a Holder, optionally pre-loaded.
func NewHolder(r *Repository) *Holder {
	h := &Holder{}
	if r != nil {
		h.p.Store(r)
	}
	return h
}

// Current returns the active snapshot or nil.
func (h *Holder) Current() *Repository { return h.p.Load() }

// Swap installs r and returns the previous snapshot.
func (h *Holder) Swap(r *Repository) *Repository { return h.p.Swap(r) }
