package fsx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWithFileLockReleasesLock(t *testing.T) {
	target := filepath.Join(t.TempDir(), "ledger.jsonl")
	ran := false
	if err := WithFileLock(target, func() error {
		ran = true
		if _, err := os.Stat(target + ".lock"); err != nil {
			t.Fatalf("expected lock file while held: %v", err)
		}
		return nil
	}); err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if !ran {
		t.Fatalf("expected callback to run")
	}
	if _, err := os.Stat(target + ".lock"); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed, stat err=%v", err)
	}
}

func TestWithFileLockPropagatesCallbackError(t *testing.T) {
	target := filepath.Join(t.TempDir(), "ledger.jsonl")
	sentinel := errors.New("callback failed")
	if err := WithFileLock(target, func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestWithLockTimeoutOnHeldLock(t *testing.T) {
	target := filepath.Join(t.TempDir(), "ledger.jsonl")
	if err := os.WriteFile(target+".lock", []byte("held"), 0o600); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	err := withLockTimeout(target, 30*time.Millisecond, func() error {
		t.Fatalf("callback must not run while lock is held")
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestShouldRecoverStaleLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "x.lock")
	if shouldRecoverStaleLock(lockPath, time.Now()) {
		t.Fatalf("missing lock must not be stale")
	}
	if err := os.WriteFile(lockPath, []byte("held"), 0o600); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	if shouldRecoverStaleLock(lockPath, time.Now()) {
		t.Fatalf("fresh lock must not be stale")
	}
	if !shouldRecoverStaleLock(lockPath, time.Now().Add(lockStaleAfter+time.Minute)) {
		t.Fatalf("old lock must be stale")
	}
}

func TestHeldLockStaysFreshDuringLongCallback(t *testing.T) {
	previous := lockHeartbeat
	lockHeartbeat = 5 * time.Millisecond
	t.Cleanup(func() { lockHeartbeat = previous })

	target := filepath.Join(t.TempDir(), "ledger.jsonl")
	lockPath := target + ".lock"
	err := WithFileLock(target, func() error {
		old := time.Now().Add(-lockStaleAfter - time.Minute)
		if err := os.Chtimes(lockPath, old, old); err != nil {
			t.Fatalf("age lock file: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for shouldRecoverStaleLock(lockPath, time.Now()) {
			if time.Now().After(deadline) {
				t.Fatalf("held lock was never refreshed")
			}
			time.Sleep(lockHeartbeat)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed after heartbeat stopped, stat err=%v", err)
	}
}

func TestIsLockContentionClassification(t *testing.T) {
	dir := t.TempDir()
	held := filepath.Join(dir, "held.lock")
	if err := os.WriteFile(held, nil, 0o600); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	absent := filepath.Join(dir, "absent.lock")

	testCases := []struct {
		name     string
		err      error
		lockPath string
		want     bool
	}{
		{"exists", os.ErrExist, absent, true},
		{"permission with lock present", &os.PathError{Op: "open", Path: held, Err: os.ErrPermission}, held, true},
		{"permission without lock", &os.PathError{Op: "open", Path: absent, Err: os.ErrPermission}, absent, false},
		{"not exist", os.ErrNotExist, held, false},
	}
	for _, testCase := range testCases {
		if got := isLockContention(testCase.err, testCase.lockPath); got != testCase.want {
			t.Fatalf("%s: isLockContention=%t want %t", testCase.name, got, testCase.want)
		}
	}
}
