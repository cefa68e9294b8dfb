// Package filelock guards workspace files against concurrent access. A
// RunLock serializes orchestration runs per workspace, and AtomicWrite keeps
// report files whole for readers that poll them mid-run.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrRunInProgress is returned when another process already holds the
// workspace run lock.
var ErrRunInProgress = errors.New("another run is already in progress for this workspace")

// FileLock wraps a flock file lock for coordinating access to files.
type FileLock struct {
	flock *flock.Flock
	path  string
}

// New creates a file lock backed by the given lock file path.
func New(path string) *FileLock {
	return &FileLock{
		flock: flock.New(path),
		path:  path,
	}
}

// Lock acquires an exclusive lock, blocking until it is available.
func (fl *FileLock) Lock() error {
	if err := fl.flock.Lock(); err != nil {
		return fmt.Errorf("acquire lock on %s: %w", fl.path, err)
	}
	return nil
}

// TryLock attempts to acquire an exclusive lock without blocking. It returns
// true if the lock was acquired, false if another holder has it.
func (fl *FileLock) TryLock() (bool, error) {
	acquired, err := fl.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock on %s: %w", fl.path, err)
	}
	return acquired, nil
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock on %s: %w", fl.path, err)
	}
	return nil
}

// RunLock is the per-workspace run mutex. Exactly one process may hold it at
// a time; holding it is what entitles that process to mutate project state
// and append audit rows, which is why an unfinished audit row found at open
// time can only belong to a dead process.
type RunLock struct {
	lock *FileLock
	dir  string
}

// NewRunLock creates the run lock for a workspace state directory. The lock
// file lives at <dir>/guild.lock.
func NewRunLock(dir string) *RunLock {
	return &RunLock{
		lock: New(filepath.Join(dir, "guild.lock")),
		dir:  dir,
	}
}

// Acquire takes the run lock without blocking. It returns ErrRunInProgress
// when another process holds it.
func (rl *RunLock) Acquire() error {
	if err := os.MkdirAll(rl.dir, 0755); err != nil {
		return fmt.Errorf("create state directory %s: %w", rl.dir, err)
	}
	acquired, err := rl.lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return ErrRunInProgress
	}
	return nil
}

// Release gives the run lock back. The lock file itself is left in place;
// flock state, not file existence, is what matters.
func (rl *RunLock) Release() error {
	return rl.lock.Unlock()
}

// AtomicWrite writes data to a file atomically via a temp file and rename.
// Readers never observe a partial write: either the old content or the new
// content is visible, never a mix.
//
// The temp file is created in the target's directory so the rename stays on
// one filesystem, which is what makes it atomic.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}

	// Rename succeeded, keep the deferred cleanup from touching the target.
	tempFile = nil

	return nil
}

// LockAndWrite acquires a lock, performs an atomic write, and releases the
// lock. The lock path is the target path with ".lock" appended, so writers
// of the same file exclude each other while readers stay lock-free.
func LockAndWrite(path string, data []byte) error {
	lock := New(path + ".lock")

	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	return AtomicWrite(path, data)
}
