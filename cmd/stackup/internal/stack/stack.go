// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stack models a compose sub-stack and how it is deployed.
package stack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/runtime"
)

// Mode is the deployment mode selected by ENVIRONMENT.
type Mode string

const (
	// ModePrivate exposes services on local ports only.
	ModePrivate Mode = "private"

	// ModePublic exposes services through the reverse proxy and applies
	// the production override.
	ModePublic Mode = "public"
)

// ErrInvalidStack is returned by Validate.
var ErrInvalidStack = errors.New("invalid stack")

// ParseMode parses "private" or "public" (case-insensitive). An empty
// string yields ModePrivate.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePrivate:
		return ModePrivate, nil
	case ModePublic:
		return ModePublic, nil
	default:
		return "", fmt.Errorf("unknown deployment mode %q (want private or public)", s)
	}
}

// Stack is one independently deployed compose project.
type Stack struct {
	// Name identifies the stack in logs ("supabase", "localai").
	Name string

	// Project is the compose project name (-p).
	Project string

	// Dir is the working directory for compose commands.
	Dir string

	// BaseFile is the primary compose file, relative to Dir.
	BaseFile string

	// Overrides maps a mode to its override file. Modes without an
	// entry get no override.
	Overrides map[Mode]string

	// ProductionOverride is applied last, and only in ModePublic.
	ProductionOverride string

	// Profile is the default compose profile ("" or "none" for none).
	Profile string

	// EnvFile is passed as --env-file when set.
	EnvFile string

	// Pull runs "compose pull" before "up".
	Pull bool
}

// ComposeFiles returns the compose files for mode.
//
// # Description
//
// The order is fixed: base file, the override for mode, then the
// production override when mode is ModePublic. Compose applies -f files
// left to right, so later files win on conflicting keys.
//
// # Example
//
//	s := Stack{BaseFile: "docker-compose.yml",
//	    Overrides: map[Mode]string{ModePublic: "docker-compose.override.public.yml"},
//	    ProductionOverride: "docker-compose.override.prod.yml"}
//	s.ComposeFiles(ModePublic)
//	// [docker-compose.yml docker-compose.override.public.yml docker-compose.override.prod.yml]
func (s Stack) ComposeFiles(mode Mode) []string {
	files := []string{s.BaseFile}
	if f := s.Overrides[mode]; f != "" {
		files = append(files, f)
	}
	if mode == ModePublic && s.ProductionOverride != "" {
		files = append(files, s.ProductionOverride)
	}
	return files
}

// Validate checks the fields compose needs.
func (s Stack) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidStack)
	}
	if s.Project == "" {
		return fmt.Errorf("%w: %s: project is required", ErrInvalidStack, s.Name)
	}
	if s.BaseFile == "" {
		return fmt.Errorf("%w: %s: base compose file is required", ErrInvalidStack, s.Name)
	}
	for mode := range s.Overrides {
		if mode != ModePrivate && mode != ModePublic {
			return fmt.Errorf("%w: %s: override for unknown mode %q", ErrInvalidStack, s.Name, mode)
		}
	}
	return nil
}

// Deployment is a stack bound to a mode and a profile.
type Deployment struct {
	Stack Stack
	Mode  Mode

	// Profile overrides Stack.Profile when non-empty.
	Profile string
}

// Deploy binds s to mode and profile.
func (s Stack) Deploy(mode Mode, profile string) Deployment {
	return Deployment{Stack: s, Mode: mode, Profile: profile}
}

// EffectiveProfile returns the profile compose should use.
func (d Deployment) EffectiveProfile() string {
	if d.Profile != "" {
		return d.Profile
	}
	return d.Stack.Profile
}

// Target returns the compose target for this deployment.
func (d Deployment) Target() runtime.ComposeTarget {
	return runtime.ComposeTarget{
		Project: d.Stack.Project,
		Files:   d.Stack.ComposeFiles(d.Mode),
		Profile: d.EffectiveProfile(),
		EnvFile: d.Stack.EnvFile,
	}
}
