// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/profile"
	"gopkg.in/yaml.v3"
)

// StackupConfig is the root of stackup.yaml.
type StackupConfig struct {
	// Project is the umbrella compose project name.
	Project string `yaml:"project"`

	// EnvFile is the .env file holding the EnvironmentProfile.
	EnvFile string `yaml:"env_file"`

	// RequiredKeys must be present and non-empty in EnvFile.
	RequiredKeys []string `yaml:"required_keys"`

	// Profile is the compose profile of the main stack ("none" for none).
	Profile string `yaml:"profile"`

	Runtime     RuntimeConfig     `yaml:"runtime"`
	Directories []DirectoryConfig `yaml:"directories"`
	Dependency  *DependencyConfig `yaml:"dependency,omitempty"`
	Main        StackConfig       `yaml:"main"`
	Search      *SearchConfig     `yaml:"search,omitempty"`
	Readiness   ReadinessConfig   `yaml:"readiness"`
	URLs        []URLConfig       `yaml:"urls"`
	Logging     LoggingConfig     `yaml:"logging"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	Lock        LockConfig        `yaml:"lock"`
}

// RuntimeConfig selects the container runtime binaries.
type RuntimeConfig struct {
	DockerBinary        string `yaml:"docker_binary"`
	LegacyComposeBinary string `yaml:"legacy_compose_binary"`

	// CommandTimeout bounds each runtime call. Zero means no timeout.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// DirectoryConfig is one host directory bind-mounted by the stack.
type DirectoryConfig struct {
	Path string   `yaml:"path"`
	Mode FileMode `yaml:"mode"`
}

// StackConfig describes one compose project.
type StackConfig struct {
	Name string `yaml:"name"`

	// Project defaults to the umbrella project.
	Project string `yaml:"project,omitempty"`

	Dir                string            `yaml:"dir"`
	BaseFile           string            `yaml:"base_file"`
	Overrides          map[string]string `yaml:"overrides,omitempty"`
	ProductionOverride string            `yaml:"production_override,omitempty"`
	EnvFile            string            `yaml:"env_file,omitempty"`
	Pull               bool              `yaml:"pull"`
}

// DependencyConfig describes the sub-stack fetched from its upstream
// repository and started before the main stack.
type DependencyConfig struct {
	RepoURL     string   `yaml:"repo_url"`
	Ref         string   `yaml:"ref"`
	SparsePaths []string `yaml:"sparse_paths"`

	// Checkout is the clone destination.
	Checkout string `yaml:"checkout"`

	// Depth of the initial clone. Zero fetches full history.
	Depth int `yaml:"depth"`

	// EnvTarget receives a 0600 copy of the top-level env file.
	EnvTarget string `yaml:"env_target"`

	// Grace is the minimum readiness wait after the dependency starts.
	Grace time.Duration `yaml:"grace"`

	Stack StackConfig `yaml:"stack"`
}

// SearchConfig describes the search component and its settings file.
type SearchConfig struct {
	Container   string `yaml:"container"`
	Service     string `yaml:"service"`
	ComposeFile string `yaml:"compose_file"`
	Sentinel    string `yaml:"sentinel"`

	SettingsTemplate string `yaml:"settings_template"`
	SettingsFile     string `yaml:"settings_file"`
	Placeholder      string `yaml:"placeholder"`
}

// ReadinessConfig shapes the wait between stacks.
type ReadinessConfig struct {
	Poll    bool          `yaml:"poll"`
	MaxWait time.Duration `yaml:"max_wait"`
}

// URLConfig is one line of the service URL listing.
type URLConfig struct {
	Name      string `yaml:"name"`
	Subdomain string `yaml:"subdomain"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`

	// Dir enables JSON file logging when set.
	Dir string `yaml:"dir,omitempty"`

	// JSON switches console logs to JSON.
	JSON bool `yaml:"json"`
}

// SecretsConfig configures generated secrets.
type SecretsConfig struct {
	Alphabet string `yaml:"alphabet,omitempty"`
	Length   int    `yaml:"length"`
}

// LockConfig places the per-project lock file.
type LockConfig struct {
	// Dir defaults to the system temp directory.
	Dir string `yaml:"dir,omitempty"`
}

// FileMode is a permission mode written in octal ("0777").
type FileMode os.FileMode

// UnmarshalYAML accepts "0777", "0o777" and "777".
func (m *FileMode) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value.Value), "0o"), "0O")
	if s == "" {
		*m = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil || n > 0o7777 {
		return fmt.Errorf("line %d: invalid file mode %q (want octal such as \"0777\")", value.Line, value.Value)
	}
	*m = FileMode(n)
	return nil
}

// MarshalYAML writes the mode as a quoted octal string.
func (m FileMode) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("%04o", uint32(m)), nil
}

// DefaultConfig returns the configuration for the local AI package
// layout: a Supabase dependency stack, then the main stack with the
// SearXNG search component.
func DefaultConfig() StackupConfig {
	return StackupConfig{
		Project:      "localai",
		EnvFile:      ".env",
		RequiredKeys: append([]string(nil), profile.DefaultRequiredKeys...),
		Profile:      "none",
		Runtime: RuntimeConfig{
			DockerBinary:        "docker",
			LegacyComposeBinary: "docker-compose",
		},
		Directories: []DirectoryConfig{
			{Path: "neo4j/data", Mode: 0o777},
			{Path: "neo4j/logs", Mode: 0o777},
			{Path: "neo4j/config", Mode: 0o777},
			{Path: "neo4j/plugins", Mode: 0o777},
			{Path: "shared", Mode: 0o777},
		},
		Dependency: &DependencyConfig{
			RepoURL:     "https://github.com/supabase/supabase.git",
			Ref:         "master",
			SparsePaths: []string{"docker"},
			Checkout:    "supabase",
			Depth:       1,
			EnvTarget:   "supabase/docker/.env",
			Grace:       10 * time.Second,
			Stack: StackConfig{
				Name:     "supabase",
				Dir:      "supabase/docker",
				BaseFile: "docker-compose.yml",
			},
		},
		Main: StackConfig{
			Name:     "localai",
			Dir:      ".",
			BaseFile: "docker-compose.yml",
			Overrides: map[string]string{
				"private": "docker-compose.override.private.yml",
				"public":  "docker-compose.override.public.yml",
			},
			Pull: true,
		},
		Search: &SearchConfig{
			Container:        "searxng",
			Service:          "searxng",
			ComposeFile:      "docker-compose.yml",
			Sentinel:         "/etc/searxng/uwsgi.ini",
			SettingsTemplate: "searxng/settings-base.yml",
			SettingsFile:     "searxng/settings.yml",
			Placeholder:      "ultrasecretkey",
		},
		Readiness: ReadinessConfig{
			Poll:    true,
			MaxWait: 2 * time.Minute,
		},
		URLs: []URLConfig{
			{Name: "n8n Automation", Subdomain: "n8n"},
			{Name: "MinIO Console", Subdomain: "minio-console"},
			{Name: "NCA Toolkit", Subdomain: "nca"},
		},
		Logging: LoggingConfig{Level: "info"},
		Secrets: SecretsConfig{Length: 32},
	}
}
