// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_LengthAndAlphabet(t *testing.T) {
	s, err := NewGenerator("", 64).Generate()
	require.NoError(t, err)
	assert.Len(t, s, 64)
	for _, r := range s {
		assert.True(t, strings.ContainsRune(DefaultAlphabet, r), "unexpected rune %q", r)
	}
}

func TestGenerate_Distinct(t *testing.T) {
	g := NewGenerator("", 32)
	a, err := g.Generate()
	require.NoError(t, err)
	b, err := g.Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerator_CustomAlphabet(t *testing.T) {
	s, err := NewGenerator("ab", 100).Generate()
	require.NoError(t, err)
	assert.Len(t, s, 100)
	assert.Empty(t, strings.Trim(s, "ab"))
}

func TestGenerator_Defaults(t *testing.T) {
	g := NewGenerator("", 0)
	assert.Equal(t, DefaultAlphabet, g.Alphabet)
	assert.Equal(t, DefaultLength, g.Length)
}

func TestGenerator_Invalid(t *testing.T) {
	_, err := (&Generator{Alphabet: "", Length: 4}).Generate()
	assert.ErrorIs(t, err, ErrInvalidGenerator)

	_, err = (&Generator{Alphabet: DefaultAlphabet, Length: 0}).Generate()
	assert.ErrorIs(t, err, ErrInvalidGenerator)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestGenerator_EntropyFailure(t *testing.T) {
	g := &Generator{Alphabet: "abc", Length: 4, Rand: failingReader{}}
	_, err := g.Generate()
	assert.Error(t, err)
}

func TestGenerator_DeterministicSource(t *testing.T) {
	g := &Generator{Alphabet: "ab", Length: 8, Rand: bytes.NewReader(bytes.Repeat([]byte{0}, 64))}
	s, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaa", s)
}

const settingsBase = `server:
  secret_key: "ultrasecretkey"  # Is overwritten by ${SEARXNG_SECRET}
  limiter: false
`

func TestSeedSettings_CreatesFromTemplate(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "settings-base.yml")
	target := filepath.Join(dir, "settings.yml")
	require.NoError(t, os.WriteFile(template, []byte(settingsBase), 0644))

	res, err := SeedSettings(template, target, "ultrasecretkey", NewGenerator("", 32))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.Replaced)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ultrasecretkey")
	assert.Contains(t, string(data), "limiter: false")
	assert.Len(t, string(data), len(settingsBase)-len("ultrasecretkey")+32)
}

func TestSeedSettings_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "settings-base.yml")
	target := filepath.Join(dir, "settings.yml")
	require.NoError(t, os.WriteFile(template, []byte(settingsBase), 0644))
	require.NoError(t, os.WriteFile(target, []byte("custom"), 0644))

	res, err := SeedSettings(template, target, "ultrasecretkey", NewGenerator("", 32))
	require.NoError(t, err)
	assert.False(t, res.Created)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "custom", string(data))
}

func TestSeedSettings_NoPlaceholderStillCopies(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "settings-base.yml")
	target := filepath.Join(dir, "settings.yml")
	require.NoError(t, os.WriteFile(template, []byte("server: {}\n"), 0644))

	res, err := SeedSettings(template, target, "ultrasecretkey", NewGenerator("", 32))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Zero(t, res.Replaced)
}

func TestSeedSettings_MissingTemplate(t *testing.T) {
	dir := t.TempDir()
	_, err := SeedSettings(filepath.Join(dir, "missing.yml"), filepath.Join(dir, "settings.yml"), "x", NewGenerator("", 8))
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "settings.yml"))
	assert.True(t, os.IsNotExist(statErr))
}
