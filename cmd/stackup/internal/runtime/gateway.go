// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runtime is the gateway to the container runtime CLI.
//
// Every interaction with Docker and Compose goes through Gateway.Execute,
// which runs one argv, waits for it and returns a Result. The gateway has
// no knowledge of stacks or services; it only knows how to run the docker
// binary and which compose command (v2 plugin or legacy binary) to use.
package runtime

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means docker, compose or the daemon is not usable.
	ErrUnavailable = errors.New("container runtime unavailable")

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrEmptyCommand is returned when Execute is given no argv.
	ErrEmptyCommand = errors.New("empty command")
)

// Options controls a single Execute call.
type Options struct {
	// Dir is the working directory ("" for the current directory).
	Dir string

	// Env holds extra KEY=VALUE pairs for the process.
	Env []string

	// MustSucceed turns a non-zero exit into a *util.CommandError.
	MustSucceed bool
}

// Result is the outcome of one runtime command. It is never persisted.
type Result struct {
	// Command is the argv rendered as a single line.
	Command string

	// ExitCode is the exit status, -1 if the process never started.
	ExitCode int

	Stdout string
	Stderr string

	Duration time.Duration

	// Succeeded is true when the process started and exited 0.
	Succeeded bool
}

// Info describes the detected runtime.
type Info struct {
	// DockerVersion is the output of "docker --version".
	DockerVersion string

	// ComposeVersion is the output of the compose version command.
	ComposeVersion string

	// Compose is the argv prefix used for compose commands, either
	// ["docker", "compose"] or ["docker-compose"].
	Compose []string

	// Legacy is true when the standalone docker-compose v1 binary is used.
	Legacy bool
}

// Gateway executes container runtime commands.
//
// # Description
//
// Gateway is the only component that spawns processes. Everything above
// it (launcher, health reporter, first-run mutator) builds argv and hands
// it here, which keeps those components testable with a recording fake.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use, although stackup
// itself calls them from a single goroutine.
type Gateway interface {
	// Execute runs argv and waits for it to exit.
	//
	// # Outputs
	//
	//   - *Result: Always non-nil
	//   - error: Non-nil if the process could not be started, the context
	//     was cancelled, or MustSucceed is set and the exit code is non-zero
	Execute(ctx context.Context, argv []string, opts Options) (*Result, error)

	// Detect verifies docker, compose and the daemon, and selects the
	// compose command used by Compose. Errors wrap ErrUnavailable.
	Detect(ctx context.Context) (*Info, error)

	// Compose returns the argv prefix for compose commands.
	Compose() []string

	// Docker returns the docker binary.
	Docker() string
}
