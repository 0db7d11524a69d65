// Package fsutil holds the two filesystem primitives every mutating
// operation relies on: atomic file replacement and an advisory exclusive
// lock per document.
package fsutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// timeNow is the clock used for lock metadata. Tests replace it.
var timeNow = time.Now

// WriteAtomic replaces path with data. The bytes are written to a temporary
// file in the same directory, synced, and renamed over the target, so
// readers see either the old content or the new content, never a mix.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("setting mode on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry after a rename. Not every platform
// supports it, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// --- Advisory lock ---

// LockOptions tunes lock acquisition.
type LockOptions struct {
	// Timeout bounds how long WithLock waits for a held lock.
	Timeout time.Duration
	// Retry is the pause between attempts.
	Retry time.Duration
	// StaleAfter is the age past which a lock file is considered abandoned
	// by a crashed process and removed.
	StaleAfter time.Duration
}

// DefaultLockOptions returns the options used when none are configured.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Timeout:    5 * time.Second,
		Retry:      25 * time.Millisecond,
		StaleAfter: 10 * time.Minute,
	}
}

func (o LockOptions) withDefaults() LockOptions {
	def := DefaultLockOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.Retry <= 0 {
		o.Retry = def.Retry
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = def.StaleAfter
	}
	return o
}

// LockTimeoutError reports a lock that stayed held for the whole timeout.
type LockTimeoutError struct {
	Path     string
	Waited   time.Duration
	Attempts int
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock %s still held after %s (%d attempts)", e.Path, e.Waited.Round(time.Millisecond), e.Attempts)
}

// LockPath returns the lock file guarding path.
func LockPath(path string) string { return path + ".lock" }

// processLocks serializes goroutines of this process before they compete
// for the lock file with other processes.
var processLocks sync.Map

func processLock(lockPath string) *sync.Mutex {
	actual, _ := processLocks.LoadOrStore(lockPath, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

type lockInfo struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
}

// WithLock runs fn while holding the exclusive lock for path. The lock is a
// sibling file created with O_EXCL; it is not reentrant.
func WithLock(path string, opts LockOptions, fn func() error) error {
	opts = opts.withDefaults()
	lockPath := LockPath(path)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("preparing lock directory: %w", err)
	}

	mu := processLock(lockPath)
	mu.Lock()
	defer mu.Unlock()

	release, err := acquire(lockPath, opts)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// acquire takes the lock file itself, retrying until opts.Timeout. Callers
// in other processes compete here directly.
func acquire(lockPath string, opts LockOptions) (func(), error) {
	start := time.Now()
	attempts := 0
	for {
		attempts++
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			info := lockInfo{PID: os.Getpid(), CreatedAt: timeNow().UTC().Format(time.RFC3339Nano)}
			if encoded, mErr := json.Marshal(info); mErr == nil {
				_, _ = f.Write(append(encoded, '\n'))
			}
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquiring lock %s: %w", lockPath, err)
		}
		if isStale(lockPath, opts.StaleAfter) && breakStale(lockPath, opts.StaleAfter) {
			continue
		}
		if waited := time.Since(start); waited >= opts.Timeout {
			return nil, &LockTimeoutError{Path: lockPath, Waited: waited, Attempts: attempts}
		}
		time.Sleep(opts.Retry)
	}
}

// breakStale removes an abandoned lock file. Only the holder of the
// <lock>.break guard may do so, and it checks staleness again under the
// guard: a waiter that judged the old lock stale must not delete the fresh
// lock another waiter created after removing it.
func breakStale(lockPath string, staleAfter time.Duration) bool {
	guard := lockPath + ".break"
	g, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		// A guard left by a crash mid-takeover expires like a lock.
		if errors.Is(err, os.ErrExist) && isStale(guard, staleAfter) {
			_ = os.Remove(guard)
		}
		return false
	}
	_ = g.Close()
	defer func() { _ = os.Remove(guard) }()

	if !isStale(lockPath, staleAfter) {
		return false
	}
	return os.Remove(lockPath) == nil
}

// isStale reports whether the lock file is older than staleAfter. The
// creation time comes from the file's metadata, or its mtime when the
// content is unreadable.
func isStale(lockPath string, staleAfter time.Duration) bool {
	stat, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	created := stat.ModTime()
	if content, err := os.ReadFile(lockPath); err == nil {
		var info lockInfo
		if json.Unmarshal(content, &info) == nil {
			if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(info.CreatedAt)); err == nil {
				created = ts
			}
		}
	}
	return timeNow().Sub(created) > staleAfter
}
