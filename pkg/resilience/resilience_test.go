package resilience

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docuvault/ingest/internal/mft"
	"github.com/docuvault/ingest/pkg/storage"
)

func fastPolicy(retryable func(error) bool, notify RetryNotify) *Policy {
	return NewPolicy(Database, PolicyConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, retryable, notify)
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	p := fastPolicy(func(error) bool { return true }, nil)
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	calls := 0
	cause := errors.New("constraint violation")
	p := fastPolicy(func(error) bool { return false }, nil)
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return cause
	})

	require.ErrorIs(t, err, cause)
	require.Equal(t, 1, calls)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	var notified int
	p := fastPolicy(func(error) bool { return true }, func(class Class, attempt int, delay time.Duration, err error) {
		notified++
		require.Equal(t, Database, class)
		require.Equal(t, notified, attempt)
	})
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("busy")
	})

	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, notified)
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := fastPolicy(func(error) bool { return true }, nil)
	err := p.Execute(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("timeout")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryableDatabase(t *testing.T) {
	t.Parallel()

	require.True(t, RetryableDatabase(errors.New("database is locked (5) (SQLITE_BUSY)")))
	require.True(t, RetryableDatabase(errors.New("deadlock detected")))
	require.False(t, RetryableDatabase(errors.New("UNIQUE constraint failed")))
	require.False(t, RetryableDatabase(nil))
}

func TestRetryableObjectStoreNotFoundIsFinal(t *testing.T) {
	t.Parallel()

	require.False(t, RetryableObjectStore(storage.ErrNotFound))
	require.False(t, RetryableObjectStore(fmt.Errorf("stat object: %w", storage.ErrNotFound)))
	require.False(t, RetryableObjectStore(fs.ErrNotExist))
}

func TestRetryableArchiveSourceNotFoundIsFinal(t *testing.T) {
	t.Parallel()

	require.False(t, RetryableArchiveSource(mft.ErrNotFound))
	require.False(t, RetryableArchiveSource(fmt.Errorf("archive /out/a.zip: %w", mft.ErrNotFound)))
	require.True(t, RetryableArchiveSource(errors.New("connection reset by peer")))
}

func TestRetryableQueue(t *testing.T) {
	t.Parallel()

	require.True(t, RetryableQueue(errors.New("dial tcp: connection refused")))
	require.True(t, RetryableQueue(errors.New("i/o timeout")))
	require.False(t, RetryableQueue(errors.New("ERR unknown command")))
}
