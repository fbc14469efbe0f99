// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{
			name: "with stderr",
			err:  &CommandError{Command: "docker compose up -d", ExitCode: 1, Stderr: "port is already allocated"},
			want: "docker compose up -d (exit 1): port is already allocated",
		},
		{
			name: "with wrapped",
			err:  &CommandError{Command: "docker ps", ExitCode: -1, Wrapped: errors.New("executable file not found")},
			want: "docker ps (exit -1): executable file not found",
		},
		{
			name: "bare",
			err:  &CommandError{Command: "docker info", ExitCode: 2},
			want: "docker info (exit 2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCommandError_Unwrap(t *testing.T) {
	original := errors.New("connection refused")
	err := NewCommandError("docker", 1, "", original)
	assert.ErrorIs(t, err, original)
	assert.Empty(t, err.Stderr)
}

func TestNewCommandError_TrimsAndTruncates(t *testing.T) {
	err := NewCommandError("docker", 1, "\n  boom  \n", nil)
	assert.Equal(t, "boom", err.Stderr)

	long := strings.Repeat("x", MaxStderrBytes) + "the real error"
	err = NewCommandError("docker", 1, long, nil)
	assert.True(t, strings.HasSuffix(err.Stderr, "the real error"))
	assert.True(t, strings.HasPrefix(err.Stderr, "..."))
	assert.Len(t, err.Stderr, MaxStderrBytes+3)
}

func TestCommandError_AsThroughSentinel(t *testing.T) {
	sentinel := errors.New("launch failed")
	cmdErr := NewCommandError("docker compose up -d", 1, "no such image", nil)
	wrapped := fmt.Errorf("%w: stack localai: %w", sentinel, cmdErr)

	var got *CommandError
	require.True(t, errors.As(wrapped, &got))
	assert.Equal(t, 1, got.ExitCode)
	assert.Equal(t, "no such image", got.Stderr)
	assert.ErrorIs(t, wrapped, sentinel)
	assert.False(t, errors.As(sentinel, &got))
}

func TestQuoteArgs(t *testing.T) {
	assert.Equal(t, "docker compose -p localai up -d", QuoteArgs([]string{"docker", "compose", "-p", "localai", "up", "-d"}))
	assert.Equal(t, `docker ps --format "{{.Names}} x"`, QuoteArgs([]string{"docker", "ps", "--format", "{{.Names}} x"}))
	assert.Equal(t, `echo ""`, QuoteArgs([]string{"echo", ""}))
}
