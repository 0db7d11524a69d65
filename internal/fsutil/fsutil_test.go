package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWriteAtomic_CreatesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.md")

	if err := WriteAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if err := WriteAtomic(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want %q", got, "second")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestWriteAtomic_FailureLeavesOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Renaming a file over a non-empty directory fails.
	target := filepath.Join(dir, "blocked")
	if err := os.MkdirAll(filepath.Join(target, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := WriteAtomic(target, []byte("x"), 0o644); err == nil {
		t.Fatal("expected rename over a directory to fail")
	}

	got, _ := os.ReadFile(path)
	if string(got) != "original" {
		t.Errorf("unrelated file changed: %q", got)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".md" && e.Name() != "blocked" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWithLock_RemovesLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")

	ran := false
	err := WithLock(path, LockOptions{}, func() error {
		ran = true
		if _, err := os.Stat(LockPath(path)); err != nil {
			t.Errorf("lock file should exist while held: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !ran {
		t.Fatal("fn was not called")
	}
	if _, err := os.Stat(LockPath(path)); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}
}

func TestWithLock_PropagatesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	want := errors.New("boom")
	if err := WithLock(path, LockOptions{}, func() error { return want }); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
	if _, err := os.Stat(LockPath(path)); !os.IsNotExist(err) {
		t.Error("lock file should be removed after a failing fn")
	}
}

func TestWithLock_SerializesGoroutines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(path, LockOptions{Timeout: 5 * time.Second}, func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
}

func writeLockFile(t *testing.T, path string, created time.Time) {
	t.Helper()
	content := fmt.Sprintf(`{"pid":1,"created_at":%q}`, created.UTC().Format(time.RFC3339Nano))
	if err := os.WriteFile(LockPath(path), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestWithLock_TimesOutOnHeldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	writeLockFile(t, path, time.Now())

	err := WithLock(path, LockOptions{Timeout: 50 * time.Millisecond, Retry: 5 * time.Millisecond}, func() error {
		t.Error("fn must not run while the lock is held")
		return nil
	})

	var timeout *LockTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("want LockTimeoutError, got %v", err)
	}
	if timeout.Attempts < 2 {
		t.Errorf("attempts = %d, want retries", timeout.Attempts)
	}
	if _, err := os.Stat(LockPath(path)); err != nil {
		t.Error("a foreign lock must not be removed on timeout")
	}
}

func TestWithLock_RecoversStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	writeLockFile(t, path, time.Now().Add(-time.Hour))

	ran := false
	err := WithLock(path, LockOptions{Timeout: 50 * time.Millisecond, StaleAfter: time.Minute}, func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !ran {
		t.Error("fn should run after stale lock recovery")
	}
}

func TestWithLock_StaleByModTimeWhenUnreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	if err := os.WriteFile(LockPath(path), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(LockPath(path), old, old); err != nil {
		t.Fatal(err)
	}

	if err := WithLock(path, LockOptions{Timeout: 50 * time.Millisecond, StaleAfter: time.Minute}, func() error { return nil }); err != nil {
		t.Fatalf("WithLock: %v", err)
	}
}

// Waiters in different processes only meet at the lock file, so acquire is
// called directly here, without the in-process mutex.
func TestAcquire_StaleTakeoverAdmitsOneHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	lockPath := LockPath(path)
	opts := LockOptions{Timeout: 5 * time.Second, Retry: time.Millisecond, StaleAfter: time.Minute}

	for round := 0; round < 20; round++ {
		writeLockFile(t, path, time.Now().Add(-time.Hour))

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			inside  int
			maxSeen int
			ready   = make(chan struct{})
		)
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ready
				release, err := acquire(lockPath, opts)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				release()
			}()
		}
		close(ready)
		wg.Wait()

		if maxSeen != 1 {
			t.Fatalf("round %d: max concurrent holders = %d, want 1", round, maxSeen)
		}
		if _, err := os.Stat(lockPath + ".break"); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("round %d: takeover guard left behind: %v", round, err)
		}
	}
}

func TestBreakStale_KeepsFreshLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	writeLockFile(t, path, time.Now())

	if breakStale(LockPath(path), time.Minute) {
		t.Error("a fresh lock must not be broken")
	}
	if _, err := os.Stat(LockPath(path)); err != nil {
		t.Errorf("fresh lock removed: %v", err)
	}
}

func TestBreakStale_WaitsForGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	writeLockFile(t, path, time.Now().Add(-time.Hour))
	if err := os.WriteFile(LockPath(path)+".break", nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if breakStale(LockPath(path), time.Minute) {
		t.Error("takeover must wait while another waiter holds the guard")
	}
	if _, err := os.Stat(LockPath(path)); err != nil {
		t.Errorf("stale lock removed without the guard: %v", err)
	}
}
