package repository

import (
	"context"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/storage/archive"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/storage/minio"
)

// Source supplies a stored dataset.
type Source interface {
	Name() string
	Load(ctx context.Context) (*candidate.Dataset, error)
}

// Sink persists a dataset.
type Sink interface {
	Name() string
	Store(ctx context.Context, d *candidate.Dataset) error
}

// FileStore keeps the dataset as a zip archive on local disk.
type FileStore struct {
	Path string
}

func (s FileStore) Name() string { return "file" }

func (s FileStore) Load(context.Context) (*candidate.Dataset, error) {
	return archive.ReadFile(s.Path)
}

func (s FileStore) Store(_ context.Context, d *candidate.Dataset) error {
	return archive.WriteFile(s.Path, d)
}

// ObjectStore keeps the archive as one object in a MinIO bucket.
type ObjectStore struct {
	Archives minio.ArchiveStore
	Key      string
}

func (s ObjectStore) Name() string { return "minio" }

func (s ObjectStore) Load(ctx context.Context) (*candidate.Dataset, error) {
	return s.Archives.Download(ctx, s.Key)
}

func (s ObjectStore) Store(ctx context.Context, d *candidate.Dataset) error {
	_, err := s.Archives.Upload(ctx, s.Key, d)
	return err
}

// ObservationStore is the relational form of a dataset.
// *repositories.ObservationRepo implements it.
type ObservationStore interface {
	Import(ctx context.Context, d *candidate.Dataset) (int64, error)
	Load(ctx context.Context) (*candidate.Dataset, error)
}

// DatabaseStore keeps the dataset in PostgreSQL.
type DatabaseStore struct {
	Observations ObservationStore
}

func (s DatabaseStore) Name() string { return "postgres" }

func (s DatabaseStore) Load(ctx context.Context) (*candidate.Dataset, error) {
	return s.Observations.Load(ctx)
}

func (s DatabaseStore) Store(ctx context.Context, d *candidate.Dataset) error {
	_, err := s.Observations.Import(ctx, d)
	return err
}
