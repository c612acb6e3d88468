package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultLockTimeout is the bounded wait for the state lock (spec §4.8).
const DefaultLockTimeout = 60 * time.Second

// LockTimeoutError is returned when the state lock could not be acquired
// within the bound. Steps already in flight are unaffected; the caller
// (normally the scheduler's main loop) retries on its next iteration.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s acquiring state lock %s", e.Timeout, e.Path)
}

func (e *LockTimeoutError) ErrorCode() string { return "LOCK_TIMEOUT" }

func (e *LockTimeoutError) Context() map[string]string {
	return map[string]string{"lock_path": e.Path, "timeout": e.Timeout.String()}
}

func (e *LockTimeoutError) SuggestedAction() string {
	return "retry the operation; if the lock is held by a dead process, remove the .lock file after confirming no orchestrator is running"
}

// fileLock wraps an OS-advisory exclusive lock on a sibling ".lock" file,
// the same syscall.Flock discipline the rest of this shop's tooling uses
// for single-writer coordination around a shared document.
type fileLock struct {
	f *os.File
}

// acquireLock blocks (with exponential backoff) until it holds an exclusive
// advisory lock on path+".lock", or returns a LockTimeoutError once the
// bound elapses.
func acquireLock(ctx context.Context, path string, timeout time.Duration) (*fileLock, error) {
	lockPath := path + ".lock"
	if dir := filepath.Dir(lockPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0 // bounded by ctx instead

	err = backoff.Retry(func() error {
		if cerr := ctx.Err(); cerr != nil {
			return backoff.Permanent(cerr)
		}
		flockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if flockErr == nil {
			return nil
		}
		if flockErr == syscall.EWOULDBLOCK {
			return flockErr // retryable
		}
		return backoff.Permanent(flockErr)
	}, backoff.WithContext(b, ctx))

	if err != nil {
		_ = f.Close()
		return nil, &LockTimeoutError{Path: lockPath, Timeout: timeout}
	}

	return &fileLock{f: f}, nil
}

func (l *fileLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	_ = l.f.Close()
}
