// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets generates random secrets and seeds them into settings
// files derived from a template.
package secrets

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/util"
)

const (
	// DefaultAlphabet avoids quotes, backslashes and whitespace so the
	// secret can be placed inside a quoted YAML scalar unescaped.
	DefaultAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_.~!@#%^*+="

	// DefaultLength is the length of generated secrets.
	DefaultLength = 32
)

// ErrInvalidGenerator is returned for an empty alphabet or non-positive length.
var ErrInvalidGenerator = errors.New("invalid secret generator")

// Generator produces random strings from an alphabet.
type Generator struct {
	Alphabet string
	Length   int

	// Rand is the entropy source. Nil means crypto/rand.
	Rand io.Reader
}

// NewGenerator returns a Generator; zero values take the defaults.
func NewGenerator(alphabet string, length int) *Generator {
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{Alphabet: alphabet, Length: length}
}

// Generate returns a new secret.
//
// # Description
//
// Each character is an index into Alphabet drawn uniformly with
// crypto/rand.Int, so there is no modulo bias.
//
// # Outputs
//
//   - string: Secret of exactly Length characters
//   - error: ErrInvalidGenerator or an entropy read failure
func (g *Generator) Generate() (string, error) {
	alphabet := []rune(g.Alphabet)
	if len(alphabet) == 0 || g.Length <= 0 {
		return "", fmt.Errorf("%w: alphabet %d runes, length %d", ErrInvalidGenerator, len(alphabet), g.Length)
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}

	limit := big.NewInt(int64(len(alphabet)))
	out := make([]rune, g.Length)
	for i := range out {
		n, err := rand.Int(src, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read entropy: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// SeedResult describes what SeedSettings did.
type SeedResult struct {
	// Created is true when the target file was written.
	Created bool

	// Replaced counts placeholder occurrences substituted.
	Replaced int
}

// SeedSettings creates target from template with placeholder replaced by
// a fresh secret.
//
// # Description
//
// Does nothing when target already exists, so an operator's edits and
// the key the running service already uses are never overwritten. The
// target is written atomically with the template's permission bits.
//
// # Inputs
//
//   - template: Source file (for example searxng/settings-base.yml)
//   - target: File to create (for example searxng/settings.yml)
//   - placeholder: Literal text to replace (for example "ultrasecretkey")
//   - gen: Secret source
//
// # Outputs
//
//   - SeedResult: Created is false when target existed
//   - error: Template unreadable, secret generation or write failure
func SeedSettings(template, target, placeholder string, gen *Generator) (SeedResult, error) {
	if _, err := os.Stat(target); err == nil {
		return SeedResult{}, nil
	} else if !os.IsNotExist(err) {
		return SeedResult{}, fmt.Errorf("failed to stat %s: %w", target, err)
	}

	data, err := os.ReadFile(template)
	if err != nil {
		return SeedResult{}, fmt.Errorf("failed to read settings template: %w", err)
	}
	info, err := os.Stat(template)
	if err != nil {
		return SeedResult{}, fmt.Errorf("failed to stat settings template: %w", err)
	}

	result := SeedResult{}
	if placeholder != "" {
		result.Replaced = bytes.Count(data, []byte(placeholder))
	}
	if result.Replaced > 0 {
		secret, err := gen.Generate()
		if err != nil {
			return SeedResult{}, err
		}
		data = bytes.ReplaceAll(data, []byte(placeholder), []byte(secret))
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return SeedResult{}, fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	if err := util.WriteFileAtomic(target, data, info.Mode().Perm()); err != nil {
		return SeedResult{}, err
	}
	result.Created = true
	return result, nil
}
