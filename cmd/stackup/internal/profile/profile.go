// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile loads the deployment environment from the .env file.
//
// The .env file is shared with compose, which interpolates it into the
// stacks. stackup only reads the keys it needs to decide how to launch
// (domain, protocol, deployment mode) and verifies that the secrets the
// stacks require are present before anything is started.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/stack"
	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// ErrPrecondition means the environment is not fit to launch.
var ErrPrecondition = errors.New("environment precondition failed")

// DefaultRequiredKeys are the keys every deployment must define.
var DefaultRequiredKeys = []string{
	"BASE_DOMAIN",
	"LETSENCRYPT_EMAIL",
	"POSTGRES_PASSWORD",
	"N8N_ENCRYPTION_KEY",
	"N8N_USER_MANAGEMENT_JWT_SECRET",
	"MINIO_ROOT_USER",
	"MINIO_ROOT_PASSWORD",
	"NCA_API_KEY",
}

// Profile is the parsed deployment environment.
type Profile struct {
	// BaseDomain is the parent domain of every public service.
	BaseDomain string `env:"BASE_DOMAIN"`

	// Protocol is "http" or "https".
	Protocol string `env:"PROTOCOL" envDefault:"https"`

	// Environment is the raw deployment mode.
	Environment string `env:"ENVIRONMENT" envDefault:"private"`

	// Path is the file the profile was read from.
	Path string

	mode   stack.Mode
	values map[string]string
}

// Load reads envFile and validates it.
//
// # Description
//
// Parses envFile with godotenv, maps it onto Profile with caarlos0/env
// (the process environment is not consulted), then checks that every
// key in requiredKeys is present and non-empty. BASE_DOMAIN is always
// required.
//
// # Inputs
//
//   - envFile: Path to the .env file
//   - requiredKeys: Keys that must be non-empty; nil uses DefaultRequiredKeys
//
// # Outputs
//
//   - *Profile: Parsed profile
//   - error: Wraps ErrPrecondition when the file is unreadable, a key is
//     missing, or PROTOCOL/ENVIRONMENT has an unsupported value
//
// # Example
//
//	p, err := profile.Load(".env", nil)
//	if errors.Is(err, profile.ErrPrecondition) {
//	    // nothing has been started
//	}
func Load(envFile string, requiredKeys []string) (*Profile, error) {
	values, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %s: %w", ErrPrecondition, envFile, err)
	}
	return FromMap(envFile, values, requiredKeys)
}

// FromMap validates an already parsed environment. path is informational.
func FromMap(path string, values map[string]string, requiredKeys []string) (*Profile, error) {
	if requiredKeys == nil {
		requiredKeys = DefaultRequiredKeys
	}

	p := &Profile{Path: path, values: values}
	if err := env.ParseWithOptions(p, env.Options{Environment: values}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrecondition, err)
	}

	if missing := missingKeys(values, append([]string{"BASE_DOMAIN"}, requiredKeys...)); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing or empty in %s: %s", ErrPrecondition, path, strings.Join(missing, ", "))
	}

	p.Protocol = strings.ToLower(strings.TrimSpace(p.Protocol))
	switch p.Protocol {
	case "":
		p.Protocol = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: PROTOCOL must be http or https, got %q", ErrPrecondition, p.Protocol)
	}

	mode, err := stack.ParseMode(p.Environment)
	if err != nil {
		return nil, fmt.Errorf("%w: ENVIRONMENT: %w", ErrPrecondition, err)
	}
	p.mode = mode
	p.Environment = string(mode)

	return p, nil
}

func missingKeys(values map[string]string, keys []string) []string {
	seen := make(map[string]bool, len(keys))
	var missing []string
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if strings.TrimSpace(values[k]) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// Mode returns the deployment mode.
func (p *Profile) Mode() stack.Mode {
	return p.mode
}

// URL returns PROTOCOL://<subdomain>.<BASE_DOMAIN>.
func (p *Profile) URL(subdomain string) string {
	return fmt.Sprintf("%s://%s.%s", p.Protocol, subdomain, p.BaseDomain)
}

// Keys returns the keys defined in the file, sorted. Values are not
// exposed so that the result is safe to log.
func (p *Profile) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ModeOf reads only ENVIRONMENT from envFile. Any read or parse failure
// yields ModePrivate, so a teardown never depends on a complete profile.
func ModeOf(envFile string) stack.Mode {
	values, err := godotenv.Read(envFile)
	if err != nil {
		return stack.ModePrivate
	}
	mode, err := stack.ParseMode(values["ENVIRONMENT"])
	if err != nil {
		return stack.ModePrivate
	}
	return mode
}
