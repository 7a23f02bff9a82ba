package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFileName = ".backup.lock"

// FileLock serializes runs that mutate shared state: marker writes,
// binlog staging and segment deletion. Concurrent backup and cleanup
// runs would otherwise race on the marker read-modify-write and could
// delete segments another run still needs.
type FileLock struct {
	path string
	held bool
}

// NewFileLock creates a lock rooted at the backup directory
func NewFileLock(backupDir string) *FileLock {
	return &FileLock{path: filepath.Join(backupDir, lockFileName)}
}

// Path returns the lock file path
func (fl *FileLock) Path() string {
	return fl.path
}

// Acquire takes the lock by creating the lock file exclusively with
// the holder's PID inside. If the file exists but its PID no longer
// names a live process, the stale lock is taken over.
func (fl *FileLock) Acquire() error {
	if fl.held {
		return nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, writeErr := fmt.Fprintf(f, "%d\n", os.Getpid())
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				os.Remove(fl.path)
				if writeErr == nil {
					writeErr = closeErr
				}
				return NewLockError("failed to write lock file", writeErr)
			}
			fl.held = true
			return nil
		}

		if !os.IsExist(err) {
			return NewLockError("failed to create lock file", err)
		}

		holder, readErr := fl.readHolder()
		if readErr != nil {
			// Unreadable or malformed lock file. Do not guess; the
			// operator must remove it.
			return NewLockError(
				fmt.Sprintf("lock file %s exists but is unreadable", fl.path), readErr)
		}

		if processAlive(holder) {
			return NewLockError(
				fmt.Sprintf("another run (pid %d) holds the lock at %s", holder, fl.path), nil).
				WithContext("pid", holder)
		}

		// Stale lock from a dead process. Remove it and retry once.
		if err := os.Remove(fl.path); err != nil && !os.IsNotExist(err) {
			return NewLockError("failed to remove stale lock file", err)
		}
	}

	return NewLockError(
		fmt.Sprintf("could not acquire lock at %s", fl.path), nil)
}

// Release removes the lock file
func (fl *FileLock) Release() error {
	if !fl.held {
		return nil
	}

	fl.held = false
	if err := os.Remove(fl.path); err != nil && !os.IsNotExist(err) {
		return NewLockError("failed to remove lock file", err)
	}
	return nil
}

// Held reports whether this process holds the lock
func (fl *FileLock) Held() bool {
	return fl.held
}

func (fl *FileLock) readHolder() (int, error) {
	content, err := os.ReadFile(fl.path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("lock file does not contain a pid: %q", string(content))
	}

	return pid, nil
}

// processAlive checks whether a PID names a running process. Signal 0
// probes existence without delivering anything. EPERM means the
// process exists under another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
