// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package launcher

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/runtime"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/stack"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localai() stack.Stack {
	return stack.Stack{
		Name:     "localai",
		Project:  "localai",
		Dir:      "/srv/local-ai-packaged",
		BaseFile: "docker-compose.yml",
		Overrides: map[stack.Mode]string{
			stack.ModePrivate: "docker-compose.override.private.yml",
			stack.ModePublic:  "docker-compose.override.public.yml",
		},
	}
}

func TestNew_NilGateway(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestStart_Argv(t *testing.T) {
	gw := &runtime.MockGateway{}
	l, err := New(gw, nil)
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background(), localai().Deploy(stack.ModePrivate, "cpu")))

	calls := gw.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t,
		"docker compose -p localai --profile cpu -f docker-compose.yml -f docker-compose.override.private.yml up -d",
		calls[0].Line())
	assert.Equal(t, "/srv/local-ai-packaged", calls[0].Opts.Dir)
	assert.True(t, calls[0].Opts.MustSucceed)
}

func TestStart_NoneProfileOmitted(t *testing.T) {
	gw := &runtime.MockGateway{}
	l, err := New(gw, nil)
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background(), localai().Deploy(stack.ModePublic, "none")))
	assert.Equal(t,
		[]string{"docker compose -p localai -f docker-compose.yml -f docker-compose.override.public.yml up -d"},
		gw.Lines())
}

func TestStart_PullFirst(t *testing.T) {
	gw := &runtime.MockGateway{}
	l, err := New(gw, nil)
	require.NoError(t, err)

	s := localai()
	s.Pull = true
	require.NoError(t, l.Start(context.Background(), s.Deploy(stack.ModePrivate, "")))

	assert.Equal(t, []string{
		"docker compose -p localai -f docker-compose.yml -f docker-compose.override.private.yml pull",
		"docker compose -p localai -f docker-compose.yml -f docker-compose.override.private.yml up -d",
	}, gw.Lines())
}

func TestStart_PullFailureStillStarts(t *testing.T) {
	gw := &runtime.MockGateway{Handler: func(argv []string) (string, string, int) {
		if runtime.MatchArgs(argv, "pull") {
			return "", "registry unreachable", 1
		}
		return "", "", 0
	}}
	l, err := New(gw, nil)
	require.NoError(t, err)

	s := localai()
	s.Pull = true
	require.NoError(t, l.Start(context.Background(), s.Deploy(stack.ModePrivate, "")))
	assert.Len(t, gw.Calls(), 2)
}

func TestStart_Failure(t *testing.T) {
	gw := &runtime.MockGateway{Handler: func(argv []string) (string, string, int) {
		return "", "Bind for 0.0.0.0:5678 failed: port is already allocated", 1
	}}
	l, err := New(gw, nil)
	require.NoError(t, err)

	err = l.Start(context.Background(), localai().Deploy(stack.ModePrivate, ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)

	var cmdErr *util.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Contains(t, cmdErr.Stderr, "port is already allocated")
}

func TestStop_Argv(t *testing.T) {
	gw := &runtime.MockGateway{}
	l, err := New(gw, nil)
	require.NoError(t, err)

	require.NoError(t, l.Stop(context.Background(), localai().Deploy(stack.ModePrivate, "gpu-nvidia")))
	assert.Equal(t,
		[]string{"docker compose -p localai --profile gpu-nvidia -f docker-compose.yml -f docker-compose.override.private.yml down --remove-orphans"},
		gw.Lines())
}

func TestStop_Failure(t *testing.T) {
	gw := &runtime.MockGateway{Handler: func(argv []string) (string, string, int) {
		return "", "network in use", 1
	}}
	l, err := New(gw, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, l.Stop(context.Background(), localai().Deploy(stack.ModePrivate, "")), ErrLaunch)
}
