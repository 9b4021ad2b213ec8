package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/altuslabsxyz/ccbuilder/internal/store"
)

// lockFileName is the transient lock record co-located with an in-progress
// install prefix. It holds the builder process's pid.
const lockFileName = "WORKER_PID"

// LockState is the outcome of a lock acquisition attempt.
type LockState int

const (
	// LockAcquired means this process now holds the build lock.
	LockAcquired LockState = iota
	// LockBusy means another live process holds the lock.
	LockBusy
	// LockInconsistent means the install path exists with neither a live
	// holder nor a success marker.
	LockInconsistent
)

// LockProvider supplies exactly-one-concurrent-builder-per-key mutual
// exclusion observable by independent processes. The pid-file
// implementation below suits single-host deployments; a lease in a shared
// store can replace it without touching the coordinator.
type LockProvider interface {
	// Acquire attempts to take the build lock for an install prefix,
	// creating the prefix when acquired. The returned release func must be
	// called on every exit path once the state is LockAcquired.
	Acquire(installPrefix string) (release func(), state LockState, err error)
	// HolderAlive reports whether the recorded lock holder is a live
	// process.
	HolderAlive(installPrefix string) bool
}

// PIDFileLock implements LockProvider with a pid marker file plus
// signal-based liveness probing. Liveness of a pid is not a perfect proxy
// for "still building" across hosts or pid reuse; the clear-unfinished
// maintenance operation recovers from the cases it misses.
type PIDFileLock struct{}

func (PIDFileLock) Acquire(installPrefix string) (func(), LockState, error) {
	lockPath := filepath.Join(installPrefix, lockFileName)

	if _, err := os.Stat(lockPath); err == nil {
		if pidFileAlive(lockPath) {
			return nil, LockBusy, nil
		}
		return nil, LockInconsistent, nil
	}
	if info, err := os.Stat(installPrefix); err == nil && info.IsDir() {
		if _, err := os.Stat(filepath.Join(installPrefix, store.SuccessMarker)); err != nil {
			// Unfinished debris from a crashed builder.
			return nil, LockInconsistent, nil
		}
	}

	if err := os.MkdirAll(installPrefix, 0755); err != nil {
		return nil, 0, fmt.Errorf("failed to create install prefix: %w", err)
	}
	if err := os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return nil, 0, fmt.Errorf("failed to write lock record: %w", err)
	}
	return func() { os.Remove(lockPath) }, LockAcquired, nil
}

func (PIDFileLock) HolderAlive(installPrefix string) bool {
	return pidFileAlive(filepath.Join(installPrefix, lockFileName))
}

func pidFileAlive(lockPath string) bool {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	// Signal 0 performs error checking without sending anything; EPERM
	// still means the process exists.
	err = syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
