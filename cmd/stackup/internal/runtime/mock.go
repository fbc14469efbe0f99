// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runtime

import (
	"context"
	"strings"
	"sync"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/util"
)

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockGateway is a recording Gateway for tests.
//
// # Description
//
// Every Execute call is recorded. The response comes from Handler, which
// receives the argv and returns stdout, stderr and an exit code. With no
// Handler every command succeeds with empty output. MustSucceed is honoured
// the same way Client honours it.
//
// # Examples
//
//	gw := &MockGateway{Handler: func(argv []string) (string, string, int) {
//	    if MatchArgs(argv, "up") {
//	        return "", "port is already allocated", 1
//	    }
//	    return "", "", 0
//	}}
type MockGateway struct {
	Handler func(argv []string) (stdout, stderr string, exitCode int)

	// DetectErr, when set, is returned by Detect.
	DetectErr error

	mu       sync.Mutex
	calls    []MockCall
	detected int
}

// MockCall is one recorded Execute.
type MockCall struct {
	Argv []string
	Opts Options
}

// Line returns the argv joined by spaces.
func (c MockCall) Line() string {
	return strings.Join(c.Argv, " ")
}

// Execute records the call and returns the Handler's response.
func (m *MockGateway) Execute(ctx context.Context, argv []string, opts Options) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Argv: append([]string(nil), argv...), Opts: opts})
	handler := m.Handler
	m.mu.Unlock()

	result := &Result{Command: util.QuoteArgs(argv)}
	if handler != nil {
		result.Stdout, result.Stderr, result.ExitCode = handler(argv)
	}
	if result.ExitCode < 0 {
		return result, util.NewCommandError(result.Command, result.ExitCode, result.Stderr, ErrUnavailable)
	}
	result.Succeeded = result.ExitCode == 0
	if !result.Succeeded && opts.MustSucceed {
		return result, util.NewCommandError(result.Command, result.ExitCode, result.Stderr, nil)
	}
	return result, nil
}

// Detect counts the call and returns DetectErr.
func (m *MockGateway) Detect(ctx context.Context) (*Info, error) {
	m.mu.Lock()
	m.detected++
	m.mu.Unlock()
	if m.DetectErr != nil {
		return nil, m.DetectErr
	}
	return &Info{DockerVersion: "Docker version 27.0.1", ComposeVersion: "v2.29.0", Compose: m.Compose()}, nil
}

// Compose returns the v2 plugin form.
func (m *MockGateway) Compose() []string {
	return []string{"docker", "compose"}
}

// Docker returns "docker".
func (m *MockGateway) Docker() string {
	return "docker"
}

// Calls returns a copy of the recorded Execute calls.
func (m *MockGateway) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Lines returns every recorded argv joined by spaces.
func (m *MockGateway) Lines() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Line()
	}
	return out
}

// DetectCalls returns how many times Detect ran.
func (m *MockGateway) DetectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detected
}

// MatchArgs reports whether argv contains want as a contiguous run.
func MatchArgs(argv []string, want ...string) bool {
	if len(want) == 0 {
		return true
	}
	for i := 0; i+len(want) <= len(argv); i++ {
		match := true
		for j, w := range want {
			if argv[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

var _ Gateway = (*MockGateway)(nil)
