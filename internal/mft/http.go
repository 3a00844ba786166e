package mft

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/pkg/logger"
)

// HTTPSource retrieves archives from an HTTP-fronted MFT endpoint.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

var _ Source = (*HTTPSource)(nil)

func NewHTTPSource(conf *config.MFTConfig, log logger.Logger) (*HTTPSource, error) {
	if conf.BaseURL == "" {
		return nil, fmt.Errorf("mft base url is required")
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		client:  &http.Client{},
		logger:  log,
	}, nil
}

func (h *HTTPSource) resolve(remotePath string) string {
	segments := strings.Split(strings.TrimLeft(remotePath, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return h.baseURL + "/" + strings.Join(segments, "/")
}

// Exists implements Source.
func (h *HTTPSource) Exists(ctx context.Context, remotePath string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.resolve(remotePath), nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("head %s: %w", remotePath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("head %s: unexpected status %d", remotePath, resp.StatusCode)
	}
}

// Open implements Source. The response body streams; nothing is buffered.
func (h *HTTPSource) Open(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.resolve(remotePath), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", remotePath, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", remotePath, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %d", remotePath, resp.StatusCode)
	}
	return resp.Body, nil
}
