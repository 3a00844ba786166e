// Package storage defines the object-store gateway consumed by the ingestion
// pipeline. Implementations are selected at process start.
package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"time"
)

// ErrNotFound is returned when an object does not exist. It wraps
// fs.ErrNotExist so retry classification treats it as a final state.
var ErrNotFound = fmt.Errorf("object not found: %w", fs.ErrNotExist)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Object is a readable handle over a stored object. ReaderAt/Seeker support
// lets callers open archives without buffering them in memory.
type Object interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

// CopyState reports the progress of a storage-side copy.
type CopyState string

const (
	CopyPending CopyState = "pending"
	CopySuccess CopyState = "success"
	CopyFailed  CopyState = "failed"
)

// Store is the object-store gateway contract.
type Store interface {
	// EnsureBucket creates the bucket when it does not exist.
	EnsureBucket(ctx context.Context, bucket string) error
	// Put stores an object, streaming from r. size may be -1 when unknown.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	// Get opens an object for reading.
	Get(ctx context.Context, bucket, key string) (Object, error)
	// Stat returns object metadata; ErrNotFound when absent.
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	// Copy initiates a storage-side copy; completion is observed via CopyStatus.
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	// CopyStatus reports the state of the copy targeting dstKey.
	CopyStatus(ctx context.Context, dstBucket, dstKey string) (CopyState, error)
	// SetTags attaches a flat key->value tag set to an object.
	SetTags(ctx context.Context, bucket, key string, tags map[string]string) error
}
