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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/infra/process"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedManager answers commands by their joined argv.
func scriptedManager(responses map[string]struct {
	stdout string
	code   int
	err    error
}) *process.MockManager {
	return &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
			line := strings.Join(append([]string{name}, args...), " ")
			r, ok := responses[line]
			if !ok {
				return "", "unexpected command: " + line, 127, nil
			}
			if r.err != nil {
				return "", "", -1, r.err
			}
			stderr := ""
			if r.code != 0 {
				stderr = "failed: " + line
			}
			return r.stdout, stderr, r.code, nil
		},
	}
}

type response = struct {
	stdout string
	code   int
	err    error
}

func TestNewClient_NilManager(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{}, &process.MockManager{})
	require.NoError(t, err)
	assert.Equal(t, "docker", c.Docker())
	assert.Equal(t, []string{"docker", "compose"}, c.Compose())
}

func TestClient_Execute(t *testing.T) {
	mgr := scriptedManager(map[string]response{
		"docker ps":      {stdout: "CONTAINER ID\n"},
		"docker inspect": {code: 1},
		"docker missing": {err: errors.New("exec: not found")},
	})
	c, err := NewClient(Config{}, mgr)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		res, err := c.Execute(ctx, []string{"docker", "ps"}, Options{Dir: "/srv"})
		require.NoError(t, err)
		assert.True(t, res.Succeeded)
		assert.Equal(t, "docker ps", res.Command)
		assert.Equal(t, "CONTAINER ID\n", res.Stdout)
	})

	t.Run("non-zero without MustSucceed", func(t *testing.T) {
		res, err := c.Execute(ctx, []string{"docker", "inspect"}, Options{})
		require.NoError(t, err)
		assert.False(t, res.Succeeded)
		assert.Equal(t, 1, res.ExitCode)
	})

	t.Run("non-zero with MustSucceed", func(t *testing.T) {
		_, err := c.Execute(ctx, []string{"docker", "inspect"}, Options{MustSucceed: true})
		var cmdErr *util.CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, 1, cmdErr.ExitCode)
		assert.Equal(t, "failed: docker inspect", cmdErr.Stderr)
	})

	t.Run("start failure", func(t *testing.T) {
		res, err := c.Execute(ctx, []string{"docker", "missing"}, Options{})
		require.Error(t, err)
		assert.False(t, res.Succeeded)
		assert.Equal(t, -1, res.ExitCode)
	})

	t.Run("empty argv", func(t *testing.T) {
		_, err := c.Execute(ctx, nil, Options{})
		assert.ErrorIs(t, err, ErrEmptyCommand)
	})

	calls := mgr.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "/srv", calls[0].Dir)
}

func TestClient_Execute_Timeout(t *testing.T) {
	mgr := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
			<-ctx.Done()
			return "", "", -1, ctx.Err()
		},
	}
	c, err := NewClient(Config{CommandTimeout: 10 * time.Millisecond}, mgr)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), []string{"docker", "compose", "pull"}, Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Detect(t *testing.T) {
	tests := []struct {
		name        string
		responses   map[string]response
		wantErr     bool
		wantCompose []string
		wantLegacy  bool
	}{
		{
			name: "compose v2",
			responses: map[string]response{
				"docker --version":       {stdout: "Docker version 27.0.1\n"},
				"docker compose version": {stdout: "Docker Compose version v2.29.0\n"},
				"docker ps":              {},
			},
			wantCompose: []string{"docker", "compose"},
		},
		{
			name: "legacy compose",
			responses: map[string]response{
				"docker --version":         {stdout: "Docker version 20.10.0\n"},
				"docker compose version":   {code: 1},
				"docker-compose --version": {stdout: "docker-compose version 1.29.2\n"},
				"docker ps":                {},
			},
			wantCompose: []string{"docker-compose"},
			wantLegacy:  true,
		},
		{
			name:      "docker missing",
			responses: map[string]response{"docker --version": {err: errors.New("exec: \"docker\": executable file not found in $PATH")}},
			wantErr:   true,
		},
		{
			name: "no compose",
			responses: map[string]response{
				"docker --version":         {stdout: "Docker version 27.0.1\n"},
				"docker compose version":   {code: 1},
				"docker-compose --version": {err: errors.New("not found")},
			},
			wantErr: true,
		},
		{
			name: "daemon down",
			responses: map[string]response{
				"docker --version":       {stdout: "Docker version 27.0.1\n"},
				"docker compose version": {stdout: "v2.29.0\n"},
				"docker ps":              {code: 1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(Config{}, scriptedManager(tt.responses))
			require.NoError(t, err)

			info, err := c.Detect(context.Background())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCompose, info.Compose)
			assert.Equal(t, tt.wantLegacy, info.Legacy)
			assert.Equal(t, tt.wantCompose, c.Compose())
			assert.NotEmpty(t, info.DockerVersion)
		})
	}
}
