package fsx

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	lockTimeout    = 30 * time.Second
	lockRetry      = 10 * time.Millisecond
	lockStaleAfter = 2 * time.Minute
)

// lockHeartbeat is how often a held lock file's mtime is refreshed so that
// long critical sections are never mistaken for a stale lock.
var lockHeartbeat = lockStaleAfter / 4

// ErrLockTimeout is returned when a sibling ".lock" file stays held past the timeout.
var ErrLockTimeout = errors.New("file lock timeout")

// WithFileLock runs fn while holding an exclusive lock file next to path.
// The lock is advisory and shared by every process using this package.
func WithFileLock(path string, fn func() error) error {
	cleanPath, err := validateLocalOrAbsolutePath(path)
	if err != nil {
		return err
	}
	if err := ensureParent(cleanPath); err != nil {
		return err
	}
	return withLockTimeout(cleanPath, lockTimeout, fn)
}

func withLockTimeout(path string, timeout time.Duration, fn func() error) error {
	lockPath := path + ".lock"
	start := time.Now()
	for {
		// #nosec G304 -- lock path is derived from a validated path.
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = lockFile.Close()
			stop := keepLockFresh(lockPath, lockHeartbeat)
			defer func() {
				stop()
				_ = os.Remove(lockPath)
			}()
			return fn()
		}
		if !isLockContention(err, lockPath) {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if shouldRecoverStaleLock(lockPath, time.Now().UTC()) {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Since(start) >= timeout {
			return fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
		}
		time.Sleep(lockRetry)
	}
}

// keepLockFresh touches lockPath every interval until the returned stop
// function is called. stop waits for the toucher to exit.
func keepLockFresh(lockPath string, interval time.Duration) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				now := time.Now()
				_ = os.Chtimes(lockPath, now, now)
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func isLockContention(acquireErr error, lockPath string) bool {
	if os.IsExist(acquireErr) {
		return true
	}
	if !os.IsPermission(acquireErr) {
		return false
	}
	_, statErr := os.Stat(lockPath)
	return statErr == nil
}

func shouldRecoverStaleLock(lockPath string, now time.Time) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime().UTC()) > lockStaleAfter
}
