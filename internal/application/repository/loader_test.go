package repository

import (
	"context"
	stderrors "errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/equivalence"
	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ChargeAssign/internal/testutil"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

func buildReferenceSet(t *testing.T) *candidate.Dataset {
	t.Helper()
	d, err := Build(context.Background(), newClassifier(), testutil.WriteReferenceSet(t), 1, 2, logging.NewNopLogger())
	require.NoError(t, err)
	return d
}

type fakeSource struct {
	data *candidate.Dataset
	err  error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Load(context.Context) (*candidate.Dataset, error) {
	return s.data, s.err
}

type recordingSink struct {
	name  string
	err   error
	calls *[]string
}

func (s recordingSink) Name() string { return s.name }

func (s recordingSink) Store(context.Context, *candidate.Dataset) error {
	*s.calls = append(*s.calls, s.name)
	return s.err
}

type fakeLocker struct {
	mu        sync.Mutex
	lockErr   error
	locked    int
	unlocked  int
	unlockErr error
}

func (l *fakeLocker) Lock(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lockErr != nil {
		return l.lockErr
	}
	l.locked++
	return nil
}

func (l *fakeLocker) Unlock(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked++
	return l.unlockErr
}

func TestFileStore_RoundTrip(t *testing.T) {
	d := buildReferenceSet(t)
	store := FileStore{Path: filepath.Join(t.TempDir(), "repo.zip")}

	require.NoError(t, store.Store(context.Background(), d))
	got, err := store.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, d.Molecules(), got.Molecules())
	assert.Equal(t, d.MinShell, got.MinShell)
	assert.Equal(t, d.MaxShell, got.MaxShell)
	assert.Equal(t, d.ObservationCount(molecule.ModeIACM, 2), got.ObservationCount(molecule.ModeIACM, 2))
	assert.Equal(t, "file", store.Name())
}

func TestLoader_Reload(t *testing.T) {
	d := buildReferenceSet(t)
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "test"}, logging.NewNopLogger())
	require.NoError(t, err)
	metrics := prometheus.NewChargeMetrics(collector)

	holder := candidate.NewHolder(nil)
	source := &fakeSource{data: d}
	loader := NewLoader(source, holder, LoaderOptions{Resolution: 0.001}, metrics, logging.NewNopLogger())

	repo, err := loader.Reload(context.Background())
	require.NoError(t, err)
	assert.Same(t, repo, holder.Current())
	assert.Equal(t, 4, repo.Info().Molecules)

	source.data, source.err = nil, stderrors.New("bucket gone")
	_, err = loader.Reload(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRepositoryUnavailable))
	assert.Same(t, repo, holder.Current(), "failed reload must keep the previous snapshot")

	w := httptest.NewRecorder()
	collector.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `test_repository_reloads_total{source="fake",status="success"} 1`)
	assert.Contains(t, body, `test_repository_reloads_total{source="fake",status="failure"} 1`)
	assert.Contains(t, body, `test_repository_molecules 4`)
}

func TestLoader_RefusesOtherOracle(t *testing.T) {
	d := buildReferenceSet(t)
	require.Equal(t, equivalence.OracleRefine, d.Oracle)

	holder := candidate.NewHolder(nil)
	loader := NewLoader(&fakeSource{data: d}, holder,
		LoaderOptions{Resolution: 0.001, Oracle: equivalence.OracleDreadnaut}, nil, logging.NewNopLogger())
	_, err := loader.Reload(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRepositoryUnavailable))
	assert.ErrorContains(t, err, "refine/1")
	assert.Nil(t, holder.Current())

	_, err = NewRepository(d, LoaderOptions{Resolution: 0.001, Oracle: equivalence.OracleRefine})
	assert.NoError(t, err)

	d.Oracle = ""
	_, err = NewRepository(d, LoaderOptions{Resolution: 0.001, Oracle: equivalence.OracleDreadnaut})
	assert.NoError(t, err, "datasets without a recorded oracle load as before")
}

func TestLoader_OnSwap(t *testing.T) {
	d := buildReferenceSet(t)
	loader := NewLoader(&fakeSource{data: d}, candidate.NewHolder(nil), LoaderOptions{Resolution: 0.001}, nil, logging.NewNopLogger())

	var replaced []*candidate.Repository
	loader.OnSwap(func(_ context.Context, previous *candidate.Repository) {
		replaced = append(replaced, previous)
	})

	first, err := loader.Reload(context.Background())
	require.NoError(t, err)
	assert.Empty(t, replaced, "the first load replaces nothing")

	_, err = loader.Reload(context.Background())
	require.NoError(t, err)
	require.Len(t, replaced, 1)
	assert.Same(t, first, replaced[0])
}

func TestLoader_Overrides(t *testing.T) {
	d := buildReferenceSet(t)
	path := filepath.Join(t.TempDir(), "overrides.yaml")

	t.Run("missing file", func(t *testing.T) {
		loader := NewLoader(&fakeSource{data: d}, candidate.NewHolder(nil),
			LoaderOptions{Resolution: 0.001, OverridesPath: path}, nil, logging.NewNopLogger())
		_, err := loader.Reload(context.Background())
		assert.Error(t, err)
	})

	t.Run("invalid resolution", func(t *testing.T) {
		_, err := NewRepository(d, LoaderOptions{})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	})

	t.Run("empty overrides", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("overrides: []\n"), 0o600))
		repo, err := NewRepository(d, LoaderOptions{Resolution: 0.001, OverridesPath: path})
		require.NoError(t, err)
		assert.Equal(t, 0, repo.Info().Overrides)
	})
}

func TestPublisher_Publish(t *testing.T) {
	d := buildReferenceSet(t)

	t.Run("stores in order under the lock", func(t *testing.T) {
		var calls []string
		lock := &fakeLocker{}
		p := NewPublisher(lock, logging.NewNopLogger(),
			recordingSink{name: "minio", calls: &calls},
			recordingSink{name: "postgres", calls: &calls})

		require.NoError(t, p.Publish(context.Background(), d))
		assert.Equal(t, []string{"minio", "postgres"}, calls)
		assert.Equal(t, 1, lock.locked)
		assert.Equal(t, 1, lock.unlocked)
	})

	t.Run("stops at the first failing sink", func(t *testing.T) {
		var calls []string
		lock := &fakeLocker{}
		p := NewPublisher(lock, logging.NewNopLogger(),
			recordingSink{name: "minio", calls: &calls, err: errors.New(errors.ErrCodeStorageError, "upload failed")},
			recordingSink{name: "postgres", calls: &calls})

		err := p.Publish(context.Background(), d)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeStorageError))
		assert.Equal(t, []string{"minio"}, calls)
		assert.Equal(t, 1, lock.unlocked)
	})

	t.Run("lock held elsewhere", func(t *testing.T) {
		var calls []string
		lock := &fakeLocker{lockErr: errors.New(errors.ErrCodeServiceUnavailable, "failed to acquire lock")}
		p := NewPublisher(lock, logging.NewNopLogger(), recordingSink{name: "file", calls: &calls})

		err := p.Publish(context.Background(), d)
		assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))
		assert.Empty(t, calls)
		assert.Equal(t, 0, lock.unlocked)
	})

	t.Run("unlock failure is only logged", func(t *testing.T) {
		var calls []string
		log := testutil.NewMockLogger()
		lock := &fakeLocker{unlockErr: stderrors.New("lock expired")}
		p := NewPublisher(lock, log, recordingSink{name: "file", calls: &calls})

		require.NoError(t, p.Publish(context.Background(), d))
		assert.True(t, log.HasMessage("warn", "Failed to release publish lock"))
	})

	t.Run("no sinks", func(t *testing.T) {
		err := NewPublisher(nil, logging.NewNopLogger()).Publish(context.Background(), d)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	})
}
