package minio

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/storage/archive"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

var (
	ErrObjectNotFound = errors.New(errors.ErrCodeNotFound, "object not found")
	ErrInvalidRequest = errors.New(errors.ErrCodeValidation, "invalid request")
)

const archiveContentType = "application/zip"

// ArchiveStore keeps repository archives in the client's bucket.
type ArchiveStore interface {
	Upload(ctx context.Context, objectKey string, d *candidate.Dataset) (*UploadResult, error)
	Download(ctx context.Context, objectKey string) (*candidate.Dataset, error)
	Exists(ctx context.Context, objectKey string) (bool, error)
	Stat(ctx context.Context, objectKey string) (*ObjectMetadata, error)
	Delete(ctx context.Context, objectKey string) error
}

// UploadResult describes a stored archive.
type UploadResult struct {
	Bucket     string
	ObjectKey  string
	ETag       string
	Size       int64
	VersionID  string
	UploadedAt time.Time
}

// ObjectMetadata describes an archive without downloading it.
type ObjectMetadata struct {
	Bucket       string
	ObjectKey    string
	Size         int64
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

type archiveStore struct {
	client *MinIOClient
	logger logging.Logger
}

// NewArchiveStore returns an ArchiveStore over client.
func NewArchiveStore(client *MinIOClient, log logging.Logger) ArchiveStore {
	return &archiveStore{client: client, logger: log}
}

func (s *archiveStore) Upload(ctx context.Context, objectKey string, d *candidate.Dataset) (*UploadResult, error) {
	if objectKey == "" || d == nil {
		return nil, ErrInvalidRequest
	}
	api, err := s.client.api()
	if err != nil {
		return nil, err
	}
	raw, err := archive.Bytes(d)
	if err != nil {
		return nil, err
	}
	info, err := api.PutObject(ctx, s.client.bucket, objectKey, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{
		ContentType: archiveContentType,
		UserMetadata: map[string]string{
			"molecules": strconv.Itoa(len(d.Molecules())),
		},
	})
	if err != nil {
		s.logger.Error("Repository archive upload failed", logging.String("key", objectKey), logging.Err(err))
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "upload repository archive").WithDetail(objectKey)
	}
	s.logger.Info("Repository archive uploaded",
		logging.String("bucket", s.client.bucket),
		logging.String("key", objectKey),
		logging.Int64("size", int64(len(raw))))
	return &UploadResult{
		Bucket:     s.client.bucket,
		ObjectKey:  objectKey,
		ETag:       info.ETag,
		Size:       int64(len(raw)),
		VersionID:  info.VersionID,
		UploadedAt: time.Now(),
	}, nil
}

func (s *archiveStore) Download(ctx context.Context, objectKey string) (*candidate.Dataset, error) {
	if objectKey == "" {
		return nil, ErrInvalidRequest
	}
	if _, err := s.Stat(ctx, objectKey); err != nil {
		return nil, err
	}
	api, err := s.client.api()
	if err != nil {
		return nil, err
	}
	obj, err := api.GetObject(ctx, s.client.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "download repository archive").WithDetail(objectKey)
	}
	defer obj.Close()
	raw, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "read repository archive").WithDetail(objectKey)
	}
	d, err := archive.ReadBytes(raw)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Repository archive downloaded",
		logging.String("key", objectKey),
		logging.Int64("size", int64(len(raw))))
	return d, nil
}

func (s *archiveStore) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := s.Stat(ctx, objectKey)
	if err == nil {
		return true, nil
	}
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return false, nil
	}
	return false, err
}

func (s *archiveStore) Stat(ctx context.Context, objectKey string) (*ObjectMetadata, error) {
	api, err := s.client.api()
	if err != nil {
		return nil, err
	}
	info, err := api.StatObject(ctx, s.client.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound.WithDetail(objectKey)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "stat repository archive").WithDetail(objectKey)
	}
	return &ObjectMetadata{
		Bucket:       s.client.bucket,
		ObjectKey:    objectKey,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		Metadata:     info.UserMetadata,
	}, nil
}

func (s *archiveStore) Delete(ctx context.Context, objectKey string) error {
	api, err := s.client.api()
	if err != nil {
		return err
	}
	if err := api.RemoveObject(ctx, s.client.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "delete repository archive").WithDetail(objectKey)
	}
	return nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket" || code == "NotFound"
}
