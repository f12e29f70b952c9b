// Package schedlock implements the Expiry Scheduler's leadership lock:
// a filesystem-based advisory lock whose file records the holder's
// process id, with stale locks (holder no longer alive) reclaimed
// automatically. Grounded almost line-for-line on
// original_source/backend/unreservation_scheduler.py's
// AutomatedUnreservationScheduler._acquire_lock/_release_lock/is_running
// — the donor repo's own stock service only ran an in-process
// time.Ticker with no cross-process leadership guard at all.
package schedlock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Lock is one filesystem PID lock at path.
type Lock struct {
	path string
}

func New(path string) *Lock {
	return &Lock{path: path}
}

// Acquire creates path containing the current process's pid. If path
// already exists and names a live process, Acquire fails. If it exists
// but names a dead process, the stale file is removed and acquisition
// proceeds.
func (l *Lock) Acquire() (bool, error) {
	existingPID, err := l.readPID()
	if err == nil {
		if processAlive(existingPID) {
			return false, nil
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("remove stale lock %s: %w", l.path, err)
		}
	} else if !os.IsNotExist(err) {
		// Unreadable or malformed lock file: treat as stale and remove it,
		// mirroring the donor's (ValueError, FileNotFoundError) branch.
		_ = os.Remove(l.path)
	}

	pid := os.Getpid()
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return false, fmt.Errorf("write lock file %s: %w", l.path, err)
	}
	return true, nil
}

// Release removes the lock file. Safe to call even if Acquire never
// succeeded.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// IsHeld reports whether the lock file names a still-live process.
func (l *Lock) IsHeld() bool {
	pid, err := l.readPID()
	if err != nil {
		return false
	}
	return processAlive(pid)
}

// HolderPID returns the pid recorded in the lock file, if any.
func (l *Lock) HolderPID() (int, error) {
	return l.readPID()
}

func (l *Lock) readPID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid from lock file %s: %w", l.path, err)
	}
	return pid, nil
}

// processAlive probes liveness the same way the donor does with
// os.kill(pid, 0): sending signal 0 performs no action but still
// reports ESRCH if the process doesn't exist.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
