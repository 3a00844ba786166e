// Package mft provides the archive-source gateway: retrieve archive bytes by
// logical path from the managed-file-transfer system. Transports are
// interchangeable and selected at process start.
package mft

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/pkg/logger"
)

// ErrNotFound is returned when a remote path does not exist. It wraps
// fs.ErrNotExist so retry classification treats it as a final state.
var ErrNotFound = fmt.Errorf("remote file not found: %w", fs.ErrNotExist)

// Source retrieves archives from the MFT system.
type Source interface {
	// Exists reports whether the remote path exists.
	Exists(ctx context.Context, remotePath string) (bool, error)
	// Open streams the remote file. The caller must close the reader.
	Open(ctx context.Context, remotePath string) (io.ReadCloser, error)
}

// NewSource selects the transport implementation from configuration.
func NewSource(conf *config.MFTConfig, log logger.Logger) (Source, error) {
	switch conf.Source {
	case "sftp":
		return NewSFTPSource(conf, log)
	case "http":
		return NewHTTPSource(conf, log)
	default:
		return nil, fmt.Errorf("unsupported MFT source: %s", conf.Source)
	}
}
