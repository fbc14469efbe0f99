// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ProcessLocker defines the interface for orchestration locking.
//
// # Description
//
// The first-run mutator rewrites a compose file that the launcher reads
// right after. Two operators running stackup against the same target
// would race on that file, so each run holds an exclusive lock.
type ProcessLocker interface {
	// Acquire attempts to get an exclusive lock without blocking.
	Acquire() error

	// Release releases the lock if held. Safe to call multiple times.
	Release() error

	// IsHeld returns true if this instance currently holds the lock.
	IsHeld() bool
}

// ProcessLockConfig configures process lock behavior.
type ProcessLockConfig struct {
	// LockDir is the directory for lock files.
	// Default: system temp directory
	LockDir string

	// LockName is the base name for lock files. Use one name per
	// deployment target, e.g. "stackup-<project>".
	// Default: "stackup"
	LockName string
}

// ProcessLock implements ProcessLocker using flock(2).
//
// # How It Works
//
//  1. Creates {LockDir}/{LockName}.lock
//  2. Attempts a non-blocking exclusive flock on it
//  3. Writes the PID to {LockDir}/{LockName}.pid for error messages
//  4. On release, removes the PID file and unlocks
//
// # Limitations
//
//   - Advisory only
//   - The OS drops the flock if the process crashes; the PID file may
//     then be stale, which only affects the error message
type ProcessLock struct {
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewProcessLock creates a new, unacquired process lock.
func NewProcessLock(config ProcessLockConfig) *ProcessLock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = "stackup"
	}

	return &ProcessLock{
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire attempts to get an exclusive lock.
//
// # Outputs
//
//   - error: nil if acquired; *ErrLockHeld if another stackup run holds
//     it; a wrapped OS error if the lock file cannot be created
func (p *ProcessLock) Acquire() error {
	if p.held {
		return nil
	}

	f, err := os.OpenFile(p.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", p.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &ErrLockHeld{HolderPID: p.readHolderPID(), LockPath: p.lockPath}
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	p.lockFile = f
	p.held = true

	// The PID file is informational; the flock is what matters.
	_ = os.WriteFile(p.pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)

	return nil
}

// Release releases the lock if held.
func (p *ProcessLock) Release() error {
	if !p.held || p.lockFile == nil {
		return nil
	}

	os.Remove(p.pidPath)
	err := unix.Flock(int(p.lockFile.Fd()), unix.LOCK_UN)
	p.lockFile.Close()
	p.lockFile = nil
	p.held = false

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsHeld returns true if this instance currently holds the lock.
func (p *ProcessLock) IsHeld() bool {
	return p.held
}

// LockPath returns the path to the lock file.
func (p *ProcessLock) LockPath() string {
	return p.lockPath
}

// PIDPath returns the path to the PID file.
func (p *ProcessLock) PIDPath() string {
	return p.pidPath
}

func (p *ProcessLock) readHolderPID() int {
	data, err := os.ReadFile(p.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// ErrLockHeld is returned when another stackup run holds the lock.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

// Error implements the error interface.
func (e *ErrLockHeld) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another stackup run is in progress (PID %d); if it is stale, remove %s",
			e.HolderPID, e.LockPath)
	}
	return fmt.Sprintf("another stackup run is in progress (check: lsof %s)", e.LockPath)
}

var _ ProcessLocker = (*ProcessLock)(nil)
