// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads stackup.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/envprep"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/fetcher"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/firstrun"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/readiness"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/stack"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/util"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "stackup.yaml"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads the configuration at path.
//
// # Description
//
// Keys present in the file override DefaultConfig; absent keys keep
// their defaults. "dependency: null" or "search: null" disables that
// component. A missing file is not an error: the defaults are used.
// Relative paths are resolved against the directory holding the file,
// then the result is validated.
//
// # Inputs
//
//   - path: Config file; "" means DefaultPath
//
// # Outputs
//
//   - *StackupConfig: Resolved, validated configuration
//   - bool: Whether the file existed
//   - error: Read, parse or validation failure
//
// # Example
//
//	cfg, found, err := config.Load("stackup.yaml")
//	if err != nil {
//	    return err
//	}
//	if !found {
//	    logger.Info("No config file, using defaults")
//	}
func Load(path string) (*StackupConfig, bool, error) {
	if path == "" {
		path = DefaultPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}

	cfg := DefaultConfig()
	found := true
	data, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
		found = false
	case err != nil:
		return nil, false, fmt.Errorf("failed to read the config file %s: %w", abs, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, true, fmt.Errorf("failed to parse the config file %s: %w", abs, err)
		}
	}

	cfg.resolve(filepath.Dir(abs))
	if err := cfg.Validate(); err != nil {
		return nil, found, err
	}
	return &cfg, found, nil
}

// WriteDefault writes DefaultConfig to path. It refuses to overwrite an
// existing file.
func WriteDefault(path string) error {
	if util.FileExists(path) {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, data, 0644)
}

// Marshal renders cfg as YAML.
func Marshal(cfg *StackupConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func (c *StackupConfig) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	c.EnvFile = abs(c.EnvFile)
	for i := range c.Directories {
		c.Directories[i].Path = abs(c.Directories[i].Path)
	}
	c.Main.Dir = abs(c.Main.Dir)
	if c.Main.Project == "" {
		c.Main.Project = c.Project
	}
	if d := c.Dependency; d != nil {
		d.Checkout = abs(d.Checkout)
		d.EnvTarget = abs(d.EnvTarget)
		d.Stack.Dir = abs(d.Stack.Dir)
		if d.Stack.Project == "" {
			d.Stack.Project = c.Project
		}
	}
	if s := c.Search; s != nil {
		s.ComposeFile = abs(s.ComposeFile)
		s.SettingsTemplate = abs(s.SettingsTemplate)
		s.SettingsFile = abs(s.SettingsFile)
	}
	c.Logging.Dir = abs(c.Logging.Dir)
	c.Lock.Dir = abs(c.Lock.Dir)
}

// Validate checks the fields every run needs.
func (c *StackupConfig) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("%w: project is required", ErrInvalidConfig)
	}
	if c.EnvFile == "" {
		return fmt.Errorf("%w: env_file is required", ErrInvalidConfig)
	}
	if _, err := c.MainStack(); err != nil {
		return fmt.Errorf("%w: main: %v", ErrInvalidConfig, err)
	}
	if d := c.Dependency; d != nil {
		if d.RepoURL == "" || d.Checkout == "" {
			return fmt.Errorf("%w: dependency: repo_url and checkout are required", ErrInvalidConfig)
		}
		if d.Grace < 0 || d.Depth < 0 {
			return fmt.Errorf("%w: dependency: grace and depth must not be negative", ErrInvalidConfig)
		}
		if _, err := c.DependencyStack(); err != nil {
			return fmt.Errorf("%w: dependency: %v", ErrInvalidConfig, err)
		}
	}
	if s := c.Search; s != nil {
		if s.Container == "" || s.Service == "" || s.ComposeFile == "" {
			return fmt.Errorf("%w: search: container, service and compose_file are required", ErrInvalidConfig)
		}
		if s.SettingsFile != "" && s.SettingsTemplate == "" {
			return fmt.Errorf("%w: search: settings_file needs settings_template", ErrInvalidConfig)
		}
	}
	for i, d := range c.Directories {
		if d.Path == "" {
			return fmt.Errorf("%w: directories[%d]: path is required", ErrInvalidConfig, i)
		}
	}
	for i, u := range c.URLs {
		if u.Name == "" || u.Subdomain == "" {
			return fmt.Errorf("%w: urls[%d]: name and subdomain are required", ErrInvalidConfig, i)
		}
	}
	if c.Readiness.MaxWait < 0 || c.Runtime.CommandTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if c.Secrets.Length < 0 {
		return fmt.Errorf("%w: secrets.length must not be negative", ErrInvalidConfig)
	}
	return nil
}

// MainStack converts Main into a stack.Stack.
func (c *StackupConfig) MainStack() (stack.Stack, error) {
	return toStack(c.Main, c.Project)
}

// DependencyStack converts the dependency's stack. It returns a zero
// Stack and no error when no dependency is configured.
func (c *StackupConfig) DependencyStack() (stack.Stack, error) {
	if c.Dependency == nil {
		return stack.Stack{}, nil
	}
	return toStack(c.Dependency.Stack, c.Project)
}

func toStack(sc StackConfig, project string) (stack.Stack, error) {
	s := stack.Stack{
		Name:               sc.Name,
		Project:            sc.Project,
		Dir:                sc.Dir,
		BaseFile:           sc.BaseFile,
		ProductionOverride: sc.ProductionOverride,
		EnvFile:            sc.EnvFile,
		Pull:               sc.Pull,
	}
	if s.Project == "" {
		s.Project = project
	}
	if len(sc.Overrides) > 0 {
		s.Overrides = make(map[stack.Mode]string, len(sc.Overrides))
		for name, file := range sc.Overrides {
			mode, err := stack.ParseMode(name)
			if err != nil {
				return stack.Stack{}, err
			}
			s.Overrides[mode] = file
		}
	}
	return s, s.Validate()
}

// DependencySource converts the dependency into a fetcher.Source.
func (c *StackupConfig) DependencySource() fetcher.Source {
	if c.Dependency == nil {
		return fetcher.Source{}
	}
	d := c.Dependency
	return fetcher.Source{
		RepoURL:     d.RepoURL,
		Ref:         d.Ref,
		SparsePaths: append([]string(nil), d.SparsePaths...),
		Dir:         d.Checkout,
		Depth:       d.Depth,
	}
}

// SearchComponent converts Search into a firstrun.Component.
func (c *StackupConfig) SearchComponent() firstrun.Component {
	if c.Search == nil {
		return firstrun.Component{}
	}
	return firstrun.Component{
		Container:   c.Search.Container,
		Service:     c.Search.Service,
		ComposeFile: c.Search.ComposeFile,
		Sentinel:    c.Search.Sentinel,
	}
}

// PrepareDirectories converts Directories for envprep.
func (c *StackupConfig) PrepareDirectories() []envprep.Directory {
	dirs := make([]envprep.Directory, 0, len(c.Directories))
	for _, d := range c.Directories {
		dirs = append(dirs, envprep.Directory{Path: d.Path, Mode: os.FileMode(d.Mode)})
	}
	return dirs
}

// ReadinessSettings converts Readiness for the waiter.
func (c *StackupConfig) ReadinessSettings() readiness.Config {
	return readiness.Config{Poll: c.Readiness.Poll, MaxWait: c.Readiness.MaxWait}
}
