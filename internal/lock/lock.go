// Package lock implements the exclusion lock that serializes indexing
// operations against a single project: only one indexing or reindexing
// run may hold the lock at a time, recorded on disk so a second process
// (or a second invocation of the same binary) can detect and refuse to
// run concurrently.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	indexerrors "github.com/semindex/semindex/internal/errors"
)

// FileName is the lock file's name under the project's data directory.
const FileName = ".indexing.lock"

// Record is the on-disk representation of a held lock.
type Record struct {
	PID         int       `json:"pid"`
	Operation   string    `json:"operation"`
	Timestamp   time.Time `json:"timestamp"`
	ProjectRoot string    `json:"projectRoot"`
}

// Lock guards a project's data directory against concurrent indexing
// operations. It combines an OS-level advisory lock (gofrs/flock, so a
// crashed process releases its lock automatically) with a JSON record
// that names who's holding it and why, for diagnostics and for detecting
// a lock left behind by a process that died without releasing it.
type Lock struct {
	path        string
	fl          *flock.Flock
	projectRoot string
	held        bool
}

// New creates a Lock for the given project's data directory.
func New(dataDir, projectRoot string) *Lock {
	path := filepath.Join(dataDir, FileName)
	return &Lock{
		path:        path,
		fl:          flock.New(path),
		projectRoot: projectRoot,
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// TryAcquire attempts to take the lock for the named operation
// ("indexing", "reindex", ...) without blocking. On success it writes a
// Record describing the holder. On failure because another live process
// holds it, it returns a busy-kind error carrying that process's Record.
func (l *Lock) TryAcquire(operation string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return indexerrors.IOError(fmt.Sprintf("failed to create lock directory: %v", err), err)
	}

	acquired, err := l.fl.TryLock()
	if err != nil {
		return indexerrors.IOError(fmt.Sprintf("failed to acquire lock: %v", err), err)
	}
	if !acquired {
		existing, readErr := readRecord(l.path)
		if readErr == nil && isStale(existing) {
			// The holder is gone; the flock itself didn't let us in because
			// the previous process never released it cleanly (e.g. killed
			// hard enough to skip the defer). Force past it.
			if forceErr := l.forceRelease(); forceErr == nil {
				return l.TryAcquire(operation)
			}
		}
		return indexerrors.BusyError(fmt.Sprintf("project is locked by another operation (pid %d, %q)", existing.PID, existing.Operation))
	}

	l.held = true
	record := Record{
		PID:         os.Getpid(),
		Operation:   operation,
		Timestamp:   time.Now(),
		ProjectRoot: l.projectRoot,
	}
	if err := writeRecord(l.path, record); err != nil {
		_ = l.Release()
		return err
	}
	return nil
}

// Release releases the lock and removes the lock file.
// Safe to call on a lock that was never acquired.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return indexerrors.IOError(fmt.Sprintf("failed to release lock: %v", err), err)
	}
	l.held = false
	_ = os.Remove(l.path)
	return nil
}

// forceRelease removes a stale lock file out from under a dead holder.
// Only called after confirming the recorded pid is no longer live.
func (l *Lock) forceRelease() error {
	return os.Remove(l.path)
}

// KillHolder best-effort terminates the process currently holding the
// lock recorded under dataDir and removes the lock file, for a forced
// reindex that must proceed despite another process refusing to yield.
// It is not an error for there to be no lock, or for the holder to
// already be gone.
func KillHolder(dataDir string) error {
	path := filepath.Join(dataDir, FileName)
	rec, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if rec.PID > 0 {
		if process, findErr := os.FindProcess(rec.PID); findErr == nil {
			// Ignore the error: the holder may have already exited, or we
			// may lack permission, in which case removing the stale file
			// below is the best we can do.
			_ = process.Signal(syscall.SIGTERM)
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return indexerrors.IOError("failed to remove lock file after killing holder", err)
	}
	return nil
}

// Current reads the lock record currently on disk, if any.
func Current(dataDir string) (*Record, error) {
	path := filepath.Join(dataDir, FileName)
	rec, err := readRecord(path)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func readRecord(path string) (Record, error) {
	var rec Record
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, indexerrors.ConfigError("lock file is corrupt", err)
	}
	return rec, nil
}

func writeRecord(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return indexerrors.IOError("failed to encode lock record", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return indexerrors.IOError("failed to write lock record", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return indexerrors.IOError("failed to commit lock record", err)
	}
	return nil
}

// isStale reports whether the process that wrote rec is no longer alive.
func isStale(rec Record) bool {
	if rec.PID <= 0 {
		return true
	}
	process, err := os.FindProcess(rec.PID)
	if err != nil {
		return true
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually sending a signal.
	return process.Signal(syscall.Signal(0)) != nil
}
