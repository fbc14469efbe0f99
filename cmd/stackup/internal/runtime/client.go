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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/infra/process"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/util"
	"github.com/AleutianAI/stackup/pkg/logging"
)

// Config configures the runtime Client.
type Config struct {
	// DockerBinary is the docker CLI. Default: "docker"
	DockerBinary string

	// LegacyComposeBinary is the standalone compose v1 binary tried when
	// the compose plugin is missing. Default: "docker-compose"
	LegacyComposeBinary string

	// CommandTimeout bounds each command. Zero means no timeout.
	CommandTimeout time.Duration

	// Logger receives one debug line per command. Nil means no logging.
	Logger *logging.Logger
}

// Client implements Gateway on top of a process.Manager.
type Client struct {
	config Config
	proc   process.Manager
	logger *logging.Logger

	mu      sync.RWMutex
	compose []string
}

// NewClient creates a Client.
//
// # Description
//
// Until Detect has run, Compose returns the v2 plugin form
// ("docker compose").
//
// # Inputs
//
//   - cfg: Binaries and timeout; zero values take defaults
//   - proc: Process manager (required)
//
// # Outputs
//
//   - *Client: Ready to use
//   - error: ErrNilDependency if proc is nil
func NewClient(cfg Config, proc process.Manager) (*Client, error) {
	if proc == nil {
		return nil, fmt.Errorf("%w: process manager", ErrNilDependency)
	}
	if cfg.DockerBinary == "" {
		cfg.DockerBinary = "docker"
	}
	if cfg.LegacyComposeBinary == "" {
		cfg.LegacyComposeBinary = "docker-compose"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		config:  cfg,
		proc:    proc,
		logger:  logger,
		compose: []string{cfg.DockerBinary, "compose"},
	}, nil
}

// Execute runs argv through the process manager.
func (c *Client) Execute(ctx context.Context, argv []string, opts Options) (*Result, error) {
	result := &Result{ExitCode: -1, Command: util.QuoteArgs(argv)}
	if len(argv) == 0 {
		return result, ErrEmptyCommand
	}

	if c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	c.logger.Debug("runtime command", "command", result.Command, "dir", opts.Dir)

	start := time.Now()
	stdout, stderr, exitCode, err := c.proc.RunInDir(ctx, opts.Dir, opts.Env, argv[0], argv[1:]...)
	result.Duration = time.Since(start)
	result.ExitCode = exitCode
	result.Stdout = stdout
	result.Stderr = stderr
	result.Succeeded = err == nil && exitCode == 0

	c.logger.Debug("runtime command finished",
		"command", result.Command,
		"exit_code", exitCode,
		"duration", result.Duration.Round(time.Millisecond).String())

	if err != nil {
		return result, util.NewCommandError(result.Command, exitCode, stderr, err)
	}
	if exitCode != 0 && opts.MustSucceed {
		return result, util.NewCommandError(result.Command, exitCode, stderr, nil)
	}
	return result, nil
}

// Detect verifies the runtime.
//
// # Description
//
// Runs, in order:
//
//  1. docker --version
//  2. docker compose version, falling back to docker-compose --version
//  3. docker ps (daemon reachability)
//
// The compose form found in step 2 is used by Compose from then on.
//
// # Outputs
//
//   - *Info: Versions and the selected compose command
//   - error: Wraps ErrUnavailable, with the failing command's stderr
func (c *Client) Detect(ctx context.Context) (*Info, error) {
	docker := c.config.DockerBinary
	info := &Info{}

	res, err := c.Execute(ctx, []string{docker, "--version"}, Options{MustSucceed: true})
	if err != nil {
		return nil, fmt.Errorf("%w: docker is not installed or not on PATH: %w", ErrUnavailable, err)
	}
	info.DockerVersion = strings.TrimSpace(res.Stdout)

	res, err = c.Execute(ctx, []string{docker, "compose", "version"}, Options{})
	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case err == nil && res.Succeeded:
		info.Compose = []string{docker, "compose"}
		info.ComposeVersion = strings.TrimSpace(res.Stdout)
	default:
		legacy := c.config.LegacyComposeBinary
		res, err = c.Execute(ctx, []string{legacy, "--version"}, Options{MustSucceed: true})
		if err != nil {
			return nil, fmt.Errorf("%w: neither '%s compose' nor '%s' is available: %w", ErrUnavailable, docker, legacy, err)
		}
		info.Compose = []string{legacy}
		info.ComposeVersion = strings.TrimSpace(res.Stdout)
		info.Legacy = true
	}

	if _, err := c.Execute(ctx, []string{docker, "ps"}, Options{MustSucceed: true}); err != nil {
		return nil, fmt.Errorf("%w: docker daemon is not reachable: %w", ErrUnavailable, err)
	}

	c.mu.Lock()
	c.compose = append([]string(nil), info.Compose...)
	c.mu.Unlock()

	c.logger.Info("container runtime detected",
		"docker", info.DockerVersion,
		"compose", info.ComposeVersion,
		"legacy_compose", info.Legacy)

	return info, nil
}

// Compose returns a copy of the compose argv prefix.
func (c *Client) Compose() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.compose...)
}

// Docker returns the docker binary.
func (c *Client) Docker() string {
	return c.config.DockerBinary
}

var _ Gateway = (*Client)(nil)
