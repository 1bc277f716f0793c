package workflow

import (
	"fmt"
	"os"
	"syscall"
	"time"

	cerrors "github.com/Iron-Ham/chitter/internal/errors"
)

// lockRetryInterval is how often a bounded acquisition retries TryLock.
const lockRetryInterval = 25 * time.Millisecond

// FileLock provides cross-process mutual exclusion using flock(2).
// Workflow state is shared between short-lived hook invocations and a
// long-running MCP server; both paths take the same lock around any
// read-modify-write of a workflow record.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a FileLock at the given path. Call Lock/TryLock/
// LockTimeout to acquire and Unlock to release.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires an exclusive file lock, blocking until available.
// The lock file is created if it does not exist.
func (fl *FileLock) Lock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	fl.file = f

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		fl.file = nil
		return fmt.Errorf("flock: %w", err)
	}
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if it is held by another process.
func (fl *FileLock) TryLock() (bool, error) {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}

	fl.file = f
	return true, nil
}

// LockTimeout acquires the lock with a bounded wait: TryLock is retried
// until the deadline, then ErrLockTimeout is returned. Gating responses
// must come back within the host's synchronous window, so an unbounded
// wait is never acceptable there.
func (fl *FileLock) LockTimeout(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		acquired, err := fl.TryLock()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s held for over %s", cerrors.ErrLockTimeout, fl.path, timeout)
		}
		time.Sleep(lockRetryInterval)
	}
}

// Unlock releases the file lock and closes the lock file.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = fl.file.Close()
		fl.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := fl.file.Close()
	fl.file = nil
	return err
}
