// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"fmt"
	"strings"
)

// MaxStderrBytes bounds the stderr kept on a CommandError. Compose can
// print pages of pull progress before the line that matters, which is
// almost always at the end.
const MaxStderrBytes = 4096

// CommandError wraps a runtime command failure with its stderr.
//
// # Description
//
// Returned (usually wrapped in a component sentinel) when a command
// exits non-zero or cannot be started. Stderr is trimmed and, when
// longer than MaxStderrBytes, cut to its tail.
//
// # Example
//
//	err := NewCommandError("docker compose -p localai up -d", 1, "port is already allocated", nil)
//
//	var cmdErr *CommandError
//	if errors.As(err, &cmdErr) {
//	    fmt.Println(cmdErr.Stderr)
//	}
type CommandError struct {
	// Command is the command line as it would be typed in a shell.
	Command string

	// ExitCode is the process exit code, -1 if it never ran.
	ExitCode int

	// Stderr is the captured standard error, possibly truncated.
	Stderr string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error formats the command, exit code and the most useful detail.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

var _ error = (*CommandError)(nil)

// NewCommandError creates a CommandError.
//
// # Inputs
//
//   - cmd: Command line
//   - exitCode: Exit code (-1 if the process never ran)
//   - stderr: Captured stderr; trimmed and tail-truncated
//   - wrapped: Underlying error (may be nil)
//
// # Outputs
//
//   - *CommandError: Never nil
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   tail(strings.TrimSpace(stderr), MaxStderrBytes),
		Wrapped:  wrapped,
	}
}

// QuoteArgs renders argv as a single shell-like line for logs and errors.
// Arguments containing whitespace or quotes are double-quoted.
func QuoteArgs(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			parts[i] = fmt.Sprintf("%q", a)
			continue
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
