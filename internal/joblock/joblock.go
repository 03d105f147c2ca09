// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package joblock enforces at-most-one-active-import-per-ProblemSource
// for the CLI: a second `polyimport import`/`retrigger` invocation
// targeting the same ProblemSource while one is already running must
// not race it on the same scratch directory and media upload. (Only the
// CLI takes this lock. Jobs started through pkg/importapi go to an
// internal/jobrunner.Pool, which bounds how many jobs run at once but
// does not key them by ProblemSource, so two such jobs for the same
// ProblemSource can run at the same time.)
package joblock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// Lock guards one ProblemSource's scratch directory and lock file.
type Lock struct {
	problemSourceID int64
	baseDir         string // <dataDir>/locks/<problem_source_id>/
	lockPath        string
	lockFile        *os.File
}

// Info describes the current lock holder.
type Info struct {
	PID       int
	StartedAt time.Time
}

// New returns a Lock for the given ProblemSource, creating its base
// directory under dataDir if necessary.
func New(dataDir string, problemSourceID int64) (*Lock, error) {
	baseDir := filepath.Join(dataDir, "locks", strconv.FormatInt(problemSourceID, 10))
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	return &Lock{
		problemSourceID: problemSourceID,
		baseDir:         baseDir,
		lockPath:        filepath.Join(baseDir, "import.lock"),
	}, nil
}

// TryAcquire attempts to acquire the import lock without blocking.
// Returns true if the lock was acquired, false if another process holds
// it.
func (l *Lock) TryAcquire() (bool, error) {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d %d\n", os.Getpid(), time.Now().Unix()); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("write lock file: %w", err)
	}

	l.lockFile = f
	return true, nil
}

// WaitAcquire polls TryAcquire until it succeeds or timeout elapses.
func (l *Lock) WaitAcquire(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		acquired, err := l.TryAcquire()
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}
		time.Sleep(500 * time.Millisecond)
	}

	return false, nil
}

// Release releases the lock. Safe to call even if the lock was never
// acquired.
func (l *Lock) Release() {
	if l.lockFile != nil {
		_ = syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
		_ = l.lockFile.Close()
		l.lockFile = nil
	}
}

// CurrentHolder returns information about the current lock holder, if
// any. A nil Info with a nil error means the lock file does not exist.
func (l *Lock) CurrentHolder() (*Info, error) {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var pid int
	var timestamp int64
	if _, err := fmt.Sscanf(string(data), "%d %d", &pid, &timestamp); err != nil {
		return nil, fmt.Errorf("parse lock info: %w", err)
	}

	return &Info{PID: pid, StartedAt: time.Unix(timestamp, 0)}, nil
}

// IsStale reports whether the current holder's process is no longer
// running.
func (l *Lock) IsStale() bool {
	info, err := l.CurrentHolder()
	if err != nil || info == nil {
		return false
	}

	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

// Status summarizes the lock's current state for the `status` CLI
// command.
type Status struct {
	Held     bool
	PID      int
	Duration time.Duration
}

// CurrentStatus returns the lock's current state, treating a stale
// holder as not held.
func (l *Lock) CurrentStatus() (Status, error) {
	info, err := l.CurrentHolder()
	if err != nil {
		return Status{}, err
	}
	if info == nil || l.IsStale() {
		return Status{}, nil
	}
	return Status{Held: true, PID: info.PID, Duration: time.Since(info.StartedAt)}, nil
}

// FormatDuration formats a duration for human-readable status output.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return strconv.Itoa(int(d.Seconds())) + "s"
	case d < time.Hour:
		return strconv.Itoa(int(d.Minutes())) + "m " + strconv.Itoa(int(d.Seconds())%60) + "s"
	default:
		return strconv.Itoa(int(d.Hours())) + "h " + strconv.Itoa(int(d.Minutes())%60) + "m"
	}
}
