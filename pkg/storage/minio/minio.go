package minio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"

	cfg "github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/pkg/logger"
	"github.com/docuvault/ingest/pkg/storage"
)

// MinioStore implements the storage gateway on MinIO.
type MinioStore struct {
	client *minio.Client
	logger logger.Logger
}

var _ storage.Store = (*MinioStore)(nil)

func NewMinioStore(conf *cfg.MinioConfig, log logger.Logger) (*MinioStore, error) {
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.UseSSL,
		Region: conf.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioStore{client: client, logger: log}, nil
}

// EnsureBucket implements storage.Store.
func (m *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Put implements storage.Store.
func (m *MinioStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{})
	if err != nil {
		m.logger.Error("Failed to store object",
			logger.String("bucket", bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to store object: %w", err)
	}
	return nil
}

// Get implements storage.Store.
func (m *MinioStore) Get(ctx context.Context, bucket, key string) (storage.Object, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		m.logger.Error("Failed to get object",
			logger.String("bucket", bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

// Stat implements storage.Store.
func (m *MinioStore) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return storage.ObjectInfo{}, storage.ErrNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("failed to stat object: %w", err)
	}
	return storage.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
	}, nil
}

// Copy implements storage.Store. MinIO's server-side copy completes within
// the call, so a successful return means the destination is ready.
func (m *MinioStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
	)
	if err != nil {
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to copy object: %w", err)
	}
	return nil
}

// CopyStatus implements storage.Store. The destination existing means the
// copy finished; the pending state only occurs on backends with asynchronous
// server-side copies.
func (m *MinioStore) CopyStatus(ctx context.Context, dstBucket, dstKey string) (storage.CopyState, error) {
	_, err := m.Stat(ctx, dstBucket, dstKey)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.CopyPending, nil
	}
	if err != nil {
		return storage.CopyFailed, err
	}
	return storage.CopySuccess, nil
}

// SetTags implements storage.Store.
func (m *MinioStore) SetTags(ctx context.Context, bucket, key string, tagSet map[string]string) error {
	objTags, err := tags.NewTags(tagSet, false)
	if err != nil {
		return fmt.Errorf("failed to build tag set: %w", err)
	}
	if err := m.client.PutObjectTagging(ctx, bucket, key, objTags, minio.PutObjectTaggingOptions{}); err != nil {
		m.logger.Error("Failed to tag object",
			logger.String("bucket", bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to tag object: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404
}
