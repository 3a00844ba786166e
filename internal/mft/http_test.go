package mft

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/pkg/logger"
)

func newHTTPSource(t *testing.T, baseURL string) *HTTPSource {
	t.Helper()
	src, err := NewHTTPSource(&config.MFTConfig{BaseURL: baseURL}, logger.NewTestLogger())
	require.NoError(t, err)
	return src
}

func TestHTTPSourceExists(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/outbound/batch.zip" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := newHTTPSource(t, srv.URL)
	ctx := context.Background()

	ok, err := src.Exists(ctx, "/outbound/batch.zip")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = src.Exists(ctx, "/outbound/missing.zip")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHTTPSourceOpenStreamsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/outbound/batch.zip" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("archive bytes"))
	}))
	defer srv.Close()

	src := newHTTPSource(t, srv.URL)

	rc, err := src.Open(context.Background(), "outbound/batch.zip")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, []byte("archive bytes"), data)
}

func TestHTTPSourceOpenNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := newHTTPSource(t, srv.URL)

	_, err := src.Open(context.Background(), "/outbound/gone.zip")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPSourceResolveEscapesSegments(t *testing.T) {
	t.Parallel()

	src := newHTTPSource(t, "https://mft.example.com/files")
	got := src.resolve("/outbound/client a/batch 1.zip")
	require.Equal(t, "https://mft.example.com/files/outbound/client%20a/batch%201.zip", got)
}

func TestNewSourceRejectsUnknownTransport(t *testing.T) {
	t.Parallel()

	_, err := NewSource(&config.MFTConfig{Source: "ftp"}, logger.NewTestLogger())
	require.Error(t, err)
}
