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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stackup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, found, err := Load(filepath.Join(dir, "stackup.yaml"))

	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "localai", cfg.Project)
	assert.Equal(t, filepath.Join(dir, ".env"), cfg.EnvFile)
	assert.Equal(t, dir, cfg.Main.Dir)
	assert.Equal(t, "localai", cfg.Main.Project)
	require.NotNil(t, cfg.Dependency)
	assert.Equal(t, filepath.Join(dir, "supabase"), cfg.Dependency.Checkout)
	assert.Equal(t, filepath.Join(dir, "supabase", "docker"), cfg.Dependency.Stack.Dir)
	assert.Equal(t, "localai", cfg.Dependency.Stack.Project)
	require.NotNil(t, cfg.Search)
	assert.Equal(t, filepath.Join(dir, "docker-compose.yml"), cfg.Search.ComposeFile)
	assert.Equal(t, filepath.Join(dir, "neo4j", "data"), cfg.Directories[0].Path)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
project: demo
profile: gpu-nvidia
readiness:
  max_wait: 45s
dependency:
  grace: 3s
`)

	cfg, found, err := Load(path)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "demo", cfg.Project)
	assert.Equal(t, "demo", cfg.Main.Project)
	assert.Equal(t, "gpu-nvidia", cfg.Profile)
	assert.Equal(t, 45*time.Second, cfg.Readiness.MaxWait)
	assert.True(t, cfg.Readiness.Poll)
	require.NotNil(t, cfg.Dependency)
	assert.Equal(t, 3*time.Second, cfg.Dependency.Grace)
	assert.Equal(t, "https://github.com/supabase/supabase.git", cfg.Dependency.RepoURL)
	assert.Equal(t, "demo", cfg.Dependency.Stack.Project)
	assert.True(t, cfg.Main.Pull)
}

func TestLoad_NullDisablesComponents(t *testing.T) {
	path := writeConfig(t, "dependency: null\nsearch: null\n")

	cfg, _, err := Load(path)

	require.NoError(t, err)
	assert.Nil(t, cfg.Dependency)
	assert.Nil(t, cfg.Search)

	dep, err := cfg.DependencyStack()
	require.NoError(t, err)
	assert.Equal(t, stack.Stack{}, dep)
	assert.Equal(t, "", cfg.DependencySource().RepoURL)
	assert.Equal(t, "", cfg.SearchComponent().Service)
}

func TestLoad_AbsolutePathsUntouched(t *testing.T) {
	path := writeConfig(t, "env_file: /etc/stackup/.env\n")

	cfg, _, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/etc/stackup/.env", cfg.EnvFile)
}

func TestLoad_DirectoryModes(t *testing.T) {
	path := writeConfig(t, `
directories:
  - path: data
    mode: "0750"
  - path: logs
    mode: 0o700
  - path: plain
`)

	cfg, _, err := Load(path)

	require.NoError(t, err)
	dirs := cfg.PrepareDirectories()
	require.Len(t, dirs, 3)
	assert.Equal(t, os.FileMode(0o750), dirs[0].Mode)
	assert.Equal(t, os.FileMode(0o700), dirs[1].Mode)
	assert.Equal(t, os.FileMode(0), dirs[2].Mode)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "logs"), dirs[1].Path)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"bad yaml", "project: [", "failed to parse"},
		{"bad mode", "directories:\n  - path: x\n    mode: rwx\n", "invalid file mode"},
		{"bad duration", "readiness:\n  max_wait: soon\n", "failed to parse"},
		{"empty project", "project: \"\"\n", "project is required"},
		{"unknown override mode", "main:\n  overrides:\n    staging: x.yml\n", "unknown deployment mode"},
		{"dependency without repo", "dependency:\n  repo_url: \"\"\n", "repo_url and checkout are required"},
		{"search without service", "search:\n  service: \"\"\n", "container, service and compose_file are required"},
		{"url without subdomain", "urls:\n  - name: n8n\n", "name and subdomain are required"},
		{"negative secret length", "secrets:\n  length: -1\n", "secrets.length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_ValidationErrorsWrapSentinel(t *testing.T) {
	_, _, err := Load(writeConfig(t, "project: \"\"\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stackup.yaml")

	require.NoError(t, WriteDefault(path))

	cfg, found, err := Load(path)
	require.NoError(t, err)
	assert.True(t, found)

	want := DefaultConfig()
	want.resolve(dir)
	assert.Equal(t, want, *cfg)
}

func TestWriteDefault_RefusesOverwrite(t *testing.T) {
	path := writeConfig(t, "project: mine\n")

	err := WriteDefault(path)

	require.Error(t, err)
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "project: mine\n", string(data))
}

func TestFileMode_MarshalOctal(t *testing.T) {
	out, err := yaml.Marshal(DirectoryConfig{Path: "x", Mode: 0o777})
	require.NoError(t, err)
	assert.Contains(t, string(out), "0777")
}

func TestConversions(t *testing.T) {
	cfg, _, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	main, err := cfg.MainStack()
	require.NoError(t, err)
	assert.Equal(t, "localai", main.Project)
	assert.Equal(t, []string{"docker-compose.yml", "docker-compose.override.public.yml"}, main.ComposeFiles(stack.ModePublic))
	assert.True(t, main.Pull)

	dep, err := cfg.DependencyStack()
	require.NoError(t, err)
	assert.Equal(t, "supabase", dep.Name)
	assert.Equal(t, []string{"docker-compose.yml"}, dep.ComposeFiles(stack.ModePrivate))

	src := cfg.DependencySource()
	assert.Equal(t, "master", src.Ref)
	assert.Equal(t, []string{"docker"}, src.SparsePaths)
	assert.Equal(t, 1, src.Depth)
	assert.Equal(t, cfg.Dependency.Checkout, src.Dir)

	comp := cfg.SearchComponent()
	assert.Equal(t, "searxng", comp.Container)
	assert.Equal(t, "/etc/searxng/uwsgi.ini", comp.Sentinel)

	rc := cfg.ReadinessSettings()
	assert.True(t, rc.Poll)
	assert.Equal(t, 2*time.Minute, rc.MaxWait)
}
