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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// Manager handles external process execution.
//
// # Description
//
// Manager abstracts os/exec so that the runtime gateway can be tested
// without a container engine.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Manager interface {
	// RunInDir executes name with args in dir and waits for it to exit.
	//
	// # Inputs
	//
	//   - ctx: Cancels the process when done
	//   - dir: Working directory ("" for the current directory)
	//   - env: Extra KEY=VALUE pairs appended to the current environment
	//   - name: Executable
	//   - args: Arguments
	//
	// # Outputs
	//
	//   - stdout, stderr: Captured output
	//   - exitCode: Process exit code, -1 if the process never ran
	//   - err: Non-nil only when the process could not be started or
	//     was killed by context cancellation
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// DefaultManager implements Manager using os/exec.
type DefaultManager struct{}

// NewDefaultManager creates a Manager that executes real processes.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// RunInDir executes a command and captures its output.
func (m *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), stderr.String(), 0, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.String(), stderr.String(), -1, fmt.Errorf("%s: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// The process ran; a non-zero exit is data, not an error.
		return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
	}

	return stdout.String(), stderr.String(), -1, fmt.Errorf("failed to run %s: %w", name, err)
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager that records every call.
//
// # Examples
//
//	mock := &MockManager{
//	    RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
//	        return "Docker version 27.0.1", "", 0, nil
//	    },
//	}
type MockManager struct {
	// RunInDirFunc is called when RunInDir is invoked. When nil, every
	// command succeeds with empty output.
	RunInDirFunc func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)

	mu    sync.Mutex
	calls []Call
}

// Call records a single invocation of MockManager.
type Call struct {
	Dir  string
	Env  []string
	Name string
	Args []string
}

// RunInDir records the call and delegates to RunInDirFunc.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Dir: dir, Env: env, Name: name, Args: append([]string(nil), args...)})
	fn := m.RunInDirFunc
	m.mu.Unlock()

	if fn == nil {
		return "", "", 0, nil
	}
	return fn(ctx, dir, env, name, args...)
}

// Calls returns a copy of the recorded calls.
func (m *MockManager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
