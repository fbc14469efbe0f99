// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package launcher starts and stops compose stacks.
package launcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/runtime"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/stack"
	"github.com/AleutianAI/stackup/pkg/logging"
)

var (
	// ErrLaunch is returned when a compose up or down fails.
	ErrLaunch = errors.New("stack launch failed")

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")
)

// Launcher runs compose lifecycle commands for a deployment.
type Launcher struct {
	gw     runtime.Gateway
	logger *logging.Logger
}

// New creates a Launcher.
//
// # Inputs
//
//   - gw: Runtime gateway (required)
//   - logger: Nil discards output
//
// # Outputs
//
//   - *Launcher: Ready to use
//   - error: ErrNilDependency if gw is nil
func New(gw runtime.Gateway, logger *logging.Logger) (*Launcher, error) {
	if gw == nil {
		return nil, fmt.Errorf("%w: gateway", ErrNilDependency)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Launcher{gw: gw, logger: logger}, nil
}

// Start brings the deployment up detached.
//
// # Description
//
// Runs, in the stack's directory:
//
//	<compose> -p <project> [--profile <p>] -f <file>... [--env-file <f>] up -d
//
// When the stack has Pull set, "pull" with the same global flags runs
// first. A failed pull is logged and up still runs, since the images
// may already be cached.
//
// # Outputs
//
//   - error: Wraps ErrLaunch and a *util.CommandError carrying stderr.
//     Stacks started before a failure are left running.
func (l *Launcher) Start(ctx context.Context, d stack.Deployment) error {
	if d.Stack.Pull {
		if err := l.Pull(ctx, d); err != nil {
			l.logger.Warn("image pull failed, continuing with cached images",
				"stack", d.Stack.Name, "error", err)
		}
	}

	l.logger.Info("starting stack",
		"stack", d.Stack.Name,
		"project", d.Stack.Project,
		"mode", string(d.Mode),
		"profile", d.EffectiveProfile(),
		"files", d.Stack.ComposeFiles(d.Mode))

	return l.run(ctx, d, "up", "-d")
}

// Pull fetches the deployment's images.
func (l *Launcher) Pull(ctx context.Context, d stack.Deployment) error {
	return l.run(ctx, d, "pull")
}

// Stop tears the deployment down.
//
// # Description
//
// Runs "down --remove-orphans" for the deployment's project. Callers
// treat the error as non-fatal.
func (l *Launcher) Stop(ctx context.Context, d stack.Deployment) error {
	l.logger.Info("stopping stack", "stack", d.Stack.Name, "project", d.Stack.Project)
	return l.run(ctx, d, "down", "--remove-orphans")
}

func (l *Launcher) run(ctx context.Context, d stack.Deployment, sub ...string) error {
	argv := runtime.ComposeArgv(l.gw, d.Target(), sub...)
	if _, err := l.gw.Execute(ctx, argv, runtime.Options{Dir: d.Stack.Dir, MustSucceed: true}); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrLaunch, d.Stack.Name, sub[0], err)
	}
	return nil
}
