// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package firstrun toggles a restrictive capability directive in the
// compose file depending on whether a service has initialized itself.
//
// The search engine container writes its own configuration on first
// start, which needs capabilities that "cap_drop: [ALL]" removes. On the
// first run the directive is commented out; once the container has
// written its sentinel file the directive is put back.
package firstrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/runtime"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/util"
	"github.com/AleutianAI/stackup/pkg/logging"
)

var (
	// ErrConfig is returned when the compose file cannot be read,
	// understood or rewritten.
	ErrConfig = errors.New("first-run config update failed")

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")
)

// Outcome is the result of Reconcile.
type Outcome int

const (
	// Unchanged means the file was already in the right form.
	Unchanged Outcome = iota

	// Relaxed means the directive was commented out for a first run.
	Relaxed

	// Restored means the directive was re-enabled.
	Restored
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Relaxed:
		return "relaxed"
	case Restored:
		return "restored"
	default:
		return "unchanged"
	}
}

// Component identifies the service whose directive is managed.
type Component struct {
	// Container is the docker ps name filter.
	Container string

	// Service is the key under "services:" in ComposeFile.
	Service string

	// ComposeFile holds the directive.
	ComposeFile string

	// Sentinel is a path inside the container that exists once the
	// service has initialized.
	Sentinel string
}

// Mutator reconciles a component's compose directive with its
// initialization state.
type Mutator struct {
	gw     runtime.Gateway
	logger *logging.Logger
}

// NewMutator creates a Mutator.
//
// # Inputs
//
//   - gw: Runtime gateway used for the probe (required)
//   - logger: Nil discards output
//
// # Outputs
//
//   - *Mutator: Ready to use
//   - error: ErrNilDependency if gw is nil
func NewMutator(gw runtime.Gateway, logger *logging.Logger) (*Mutator, error) {
	if gw == nil {
		return nil, fmt.Errorf("%w: gateway", ErrNilDependency)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Mutator{gw: gw, logger: logger}, nil
}

// Reconcile brings the directive in line with the first-run state.
//
// # Description
//
//  1. Probe whether this is a first run (see IsFirstRun).
//  2. Find cap_drop inside the component's service block.
//  3. First run with the directive active: comment it out (Relaxed).
//     Not a first run with the directive relaxed: uncomment it
//     (Restored). Anything else: Unchanged.
//
// Rewrites only touch the directive's lines, so relaxing and then
// restoring yields the original bytes. Each rewrite is parsed with
// yaml.v3 before it replaces the file atomically with the original mode.
// Calling Reconcile again without a state change returns Unchanged.
//
// # Outputs
//
//   - Outcome: What was done
//   - error: Wraps ErrConfig; the file is untouched when it is returned
//
// # Limitations
//
//   - The compose file must use spaces for indentation and a block-style
//     top-level "services:" mapping
func (m *Mutator) Reconcile(ctx context.Context, c Component) (Outcome, error) {
	firstRun := m.IsFirstRun(ctx, c)

	content, err := os.ReadFile(c.ComposeFile)
	if err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	state, err := inspect(content, c.Service)
	if err != nil {
		return Unchanged, fmt.Errorf("%w: %s: %w", ErrConfig, c.ComposeFile, err)
	}

	var (
		outcome     Outcome
		wantCapDrop bool
	)
	switch {
	case firstRun && state == stateActive:
		outcome, wantCapDrop = Relaxed, false
	case !firstRun && state == stateRelaxed:
		outcome, wantCapDrop = Restored, true
	default:
		m.logger.Debug("first-run directive unchanged",
			"service", c.Service, "first_run", firstRun, "directive", state.String())
		return Unchanged, nil
	}

	updated, err := rewrite(content, c.Service, state)
	if err != nil {
		return Unchanged, fmt.Errorf("%w: %s: %w", ErrConfig, c.ComposeFile, err)
	}
	if err := verify(updated, c.Service, wantCapDrop); err != nil {
		return Unchanged, fmt.Errorf("%w: %s: %w", ErrConfig, c.ComposeFile, err)
	}

	info, err := os.Stat(c.ComposeFile)
	if err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := util.WriteFileAtomic(c.ComposeFile, updated, info.Mode().Perm()); err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	m.logger.Info("first-run directive updated",
		"service", c.Service, "outcome", outcome.String(), "file", c.ComposeFile)
	return outcome, nil
}

// IsFirstRun probes the running container for the sentinel.
//
// # Description
//
// No matching running container means first run. Otherwise
// "test -f <sentinel>" runs in the container: exit 0 means initialized,
// anything else means first run. When the probe itself fails the result
// is first run, and a warning is logged.
func (m *Mutator) IsFirstRun(ctx context.Context, c Component) bool {
	names, err := runtime.ContainerNames(ctx, m.gw, c.Container)
	if err != nil {
		m.logger.Warn("cannot list containers, assuming first run",
			"container", c.Container, "error", err)
		return true
	}
	if len(names) == 0 {
		return true
	}

	name, ok := pickContainer(names, c.Container, c.Service)
	if !ok {
		m.logger.Warn("no exact container match, probing the first filter result",
			"container", c.Container, "service", c.Service, "chosen", name, "candidates", names)
	}
	res, err := runtime.Exec(ctx, m.gw, name, "test", "-f", c.Sentinel)
	if err != nil {
		m.logger.Warn("cannot probe container, assuming first run",
			"container", name, "error", err)
		return true
	}
	return res.ExitCode != 0
}

// pickContainer chooses among the substring matches of docker's name
// filter. An exact container name wins, then a compose-generated name
// for the service ("<project>-<service>-N" or the legacy underscore
// form). Otherwise the first name is returned with ok false.
func pickContainer(names []string, container, service string) (name string, ok bool) {
	for _, n := range names {
		if n == container {
			return n, true
		}
	}
	if service != "" {
		for _, n := range names {
			if isReplicaOf(n, service, "-") || isReplicaOf(n, service, "_") {
				return n, true
			}
		}
	}
	return names[0], false
}

func isReplicaOf(name, service, sep string) bool {
	i := strings.LastIndex(name, sep)
	if i <= 0 {
		return false
	}
	if _, err := strconv.Atoi(name[i+1:]); err != nil {
		return false
	}
	return strings.HasSuffix(name[:i], sep+service)
}
