package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireLockExcludesConcurrentHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	lock, err := acquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = acquireLock(ctx, path, 100*time.Millisecond)
	require.Error(t, err)
	var lte *LockTimeoutError
	require.ErrorAs(t, err, &lte)

	lock.release()

	lock2, err := acquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)
	lock2.release()
}
