// Package repository builds, loads and publishes the reference charge
// repository that the charging service draws candidates from.
package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/equivalence"
	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/format/lgf"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

// FileExtension is the suffix of reference molecule files. The stem is the
// integer molecule id.
const FileExtension = ".lgf"

var modes = []molecule.Mode{molecule.ModeIACM, molecule.ModeElement}

// Builder accumulates reference molecules into a candidate.Dataset.
// Builder is safe for concurrent use.
type Builder struct {
	classifier *equivalence.Classifier
	logger     logging.Logger
	workers    int

	mu   sync.Mutex
	data *candidate.Dataset
	// keys holds the whole-molecule canonical key per mode of every molecule
	// added through this builder.
	keys map[molecule.Mode]map[int]string
	// inherited marks isomorph groups taken over from a loaded dataset.
	inherited map[molecule.Mode][][]int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithWorkers bounds the number of molecules processed at once.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// NewBuilder returns an empty builder for shells minShell..maxShell.
func NewBuilder(classifier *equivalence.Classifier, minShell, maxShell int, logger logging.Logger, opts ...BuilderOption) (*Builder, error) {
	if minShell < 0 || maxShell < minShell {
		return nil, errors.InvalidParam("invalid shell range").
			WithDetail(fmt.Sprintf("[%d, %d]", minShell, maxShell))
	}
	d := candidate.NewDataset(minShell, maxShell)
	d.Oracle = classifier.Oracle()
	return newBuilder(classifier, d, logger, opts...), nil
}

// ResumeBuilder continues from a loaded dataset, which it takes ownership
// of. Existing isomorph groups are kept; molecules added later are grouped
// with each other but not with molecules of the loaded dataset. A dataset
// built with another oracle is refused.
func ResumeBuilder(classifier *equivalence.Classifier, d *candidate.Dataset, logger logging.Logger, opts ...BuilderOption) (*Builder, error) {
	if err := d.CheckOracle(classifier.Oracle()); err != nil {
		return nil, err
	}
	b := newBuilder(classifier, d, logger, opts...)
	for _, mode := range modes {
		b.inherited[mode] = groupsOf(d.Isomorphs[mode])
	}
	return b, nil
}

func newBuilder(classifier *equivalence.Classifier, d *candidate.Dataset, logger logging.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		classifier: classifier,
		logger:     logger,
		workers:    4,
		data:       d,
		keys:       make(map[molecule.Mode]map[int]string),
		inherited:  make(map[molecule.Mode][][]int),
	}
	for _, mode := range modes {
		b.keys[mode] = make(map[int]string)
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// contribution is everything one molecule adds to the dataset.
type contribution struct {
	molid int
	obs   map[molecule.Mode]map[int]map[string][]candidate.Observation
	keys  map[molecule.Mode]string
}

func (b *Builder) analyse(ctx context.Context, molid int, mol *molecule.Molecule) (*contribution, error) {
	charges, err := mol.Charges()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "reference molecule must be fully charged").
			WithDetail(fmt.Sprintf("molecule %d", molid))
	}
	atoms := mol.Atoms()
	c := &contribution{
		molid: molid,
		obs:   make(map[molecule.Mode]map[int]map[string][]candidate.Observation),
		keys:  make(map[molecule.Mode]string),
	}
	for _, mode := range modes {
		key, err := b.classifier.MoleculeKey(ctx, mol, mode)
		if err != nil {
			return nil, err
		}
		c.keys[mode] = key
		c.obs[mode] = make(map[int]map[string][]candidate.Observation)
		for shell := b.data.MinShell; shell <= b.data.MaxShell; shell++ {
			bySig := make(map[string][]candidate.Observation)
			for i, a := range atoms {
				sig, err := b.classifier.EnvironmentKey(ctx, mol, mode, molecule.AtomID(i), shell)
				if err != nil {
					return nil, err
				}
				bySig[sig] = append(bySig[sig], candidate.Observation{
					Charge:     charges[i],
					MoleculeID: molid,
					Atom:       a.Label,
				})
			}
			c.obs[mode][shell] = bySig
		}
	}
	return c, nil
}

func (b *Builder) merge(c *contribution) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for mode, shells := range c.obs {
		for shell, bySig := range shells {
			for sig, list := range bySig {
				for _, o := range list {
					b.data.Add(mode, shell, sig, o)
				}
			}
		}
		b.keys[mode][c.molid] = c.keys[mode]
	}
}

// Add records every atom of mol as an observation under molid. mol must
// carry a partial charge on every atom. Adding an id twice duplicates its
// observations; call Remove first to replace a molecule.
func (b *Builder) Add(ctx context.Context, molid int, mol *molecule.Molecule) error {
	c, err := b.analyse(ctx, molid, mol)
	if err != nil {
		return err
	}
	b.merge(c)
	return nil
}

// Remove drops molid and returns the number of observations removed.
func (b *Builder) Remove(molid int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, mode := range modes {
		delete(b.keys[mode], molid)
		groups := b.inherited[mode][:0]
		for _, g := range b.inherited[mode] {
			g = without(g, molid)
			if len(g) > 1 {
				groups = append(groups, g)
			}
		}
		b.inherited[mode] = groups
	}
	return b.data.RemoveMolecule(molid)
}

// Dataset finalises the isomorph groups and returns the dataset. The builder
// must not be used afterwards.
func (b *Builder) Dataset() *candidate.Dataset {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, mode := range modes {
		groups := append([][]int(nil), b.inherited[mode]...)
		groups = append(groups, groupByKey(b.keys[mode])...)
		b.data.SetIsomorphs(mode, groups)
	}
	return b.data
}

// AddDir adds every "<molid>.lgf" file in dir concurrently and returns the
// ids added in ascending order. Other files are ignored.
func (b *Builder) AddDir(ctx context.Context, dir string) ([]int, error) {
	ids, err := ListMolecules(dir)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.InvalidParam("no reference molecules found").WithDetail(dir)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			mol, err := ReadMolecule(dir, id)
			if err != nil {
				return err
			}
			return b.Add(ctx, id, mol)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	b.logger.Info("Added reference molecules",
		logging.String("dir", dir),
		logging.Int("molecules", len(ids)),
		logging.Int("min_shell", b.data.MinShell),
		logging.Int("max_shell", b.data.MaxShell))
	return ids, nil
}

// Build reads dir into a fresh dataset.
func Build(ctx context.Context, classifier *equivalence.Classifier, dir string, minShell, maxShell int, logger logging.Logger, opts ...BuilderOption) (*candidate.Dataset, error) {
	b, err := NewBuilder(classifier, minShell, maxShell, logger, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := b.AddDir(ctx, dir); err != nil {
		return nil, err
	}
	return b.Dataset(), nil
}

// ListMolecules returns the ids of the molecule files in dir, sorted.
func ListMolecules(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to list reference molecules").WithDetail(dir)
	}
	var ids []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, FileExtension) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(name, FileExtension))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// ReadMolecule decodes "<dir>/<molid>.lgf".
func ReadMolecule(dir string, molid int) (*molecule.Molecule, error) {
	path := filepath.Join(dir, strconv.Itoa(molid)+FileExtension)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to open reference molecule").WithDetail(path)
	}
	defer f.Close()
	mol, err := lgf.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "failed to read reference molecule").WithDetail(path)
	}
	return mol, nil
}

func groupByKey(keys map[int]string) [][]int {
	byKey := make(map[string][]int)
	for id, k := range keys {
		byKey[k] = append(byKey[k], id)
	}
	var groups [][]int
	for _, g := range byKey {
		if len(g) > 1 {
			sort.Ints(g)
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

func groupsOf(iso map[int][]int) [][]int {
	seen := make(map[int]bool)
	var groups [][]int
	for _, g := range iso {
		if len(g) == 0 || seen[g[0]] {
			continue
		}
		seen[g[0]] = true
		groups = append(groups, append([]int(nil), g...))
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

func without(g []int, id int) []int {
	out := make([]int, 0, len(g))
	for _, m := range g {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}
