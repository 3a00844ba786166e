package pipeline

import (
	"errors"
)

// Fatal pipeline failures terminate the job before document processing.
var (
	// ErrDescriptorMissing means the archive carries no metadata descriptor.
	ErrDescriptorMissing = errors.New("metadata descriptor missing")
	// ErrInvalidHeader means the flat staging format is missing required columns.
	ErrInvalidHeader = errors.New("invalid staging header")
)

// ErrCopyTimeout is a per-document failure: the storage-side copy did not
// leave the pending state within the configured bound.
var ErrCopyTimeout = errors.New("storage copy timed out")
