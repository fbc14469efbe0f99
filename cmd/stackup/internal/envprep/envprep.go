// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package envprep creates the host directories the stacks bind-mount.
package envprep

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/stackup/pkg/logging"
)

// DefaultMode lets containers running as arbitrary UIDs write.
const DefaultMode os.FileMode = 0777

// ErrPrepare is returned when a directory cannot be created or chmodded.
var ErrPrepare = errors.New("environment preparation failed")

// Directory is one host directory to prepare.
type Directory struct {
	Path string

	// Mode is applied with chmod after creation. Zero means DefaultMode.
	Mode os.FileMode
}

// Preparer creates directories with fixed permissions.
type Preparer struct {
	dirs   []Directory
	logger *logging.Logger
}

// NewPreparer creates a Preparer. A nil logger discards output.
func NewPreparer(dirs []Directory, logger *logging.Logger) *Preparer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Preparer{dirs: dirs, logger: logger}
}

// Prepare creates every directory and sets its mode.
//
// # Description
//
// MkdirAll followed by an explicit Chmod, because the mode passed to
// MkdirAll is masked by the umask and does not touch existing
// directories. Existing content is never modified. Running Prepare
// twice leaves the filesystem in the same state as running it once.
//
// # Outputs
//
//   - error: Wraps ErrPrepare; stops at the first failing directory
func (p *Preparer) Prepare() error {
	for _, d := range p.dirs {
		mode := d.Mode
		if mode == 0 {
			mode = DefaultMode
		}
		if err := os.MkdirAll(d.Path, mode); err != nil {
			return fmt.Errorf("%w: create %s: %w", ErrPrepare, d.Path, err)
		}
		if err := os.Chmod(d.Path, mode); err != nil {
			return fmt.Errorf("%w: chmod %s: %w", ErrPrepare, d.Path, err)
		}
		p.logger.Debug("directory prepared", "path", d.Path, "mode", fmt.Sprintf("%#o", mode))
	}
	return nil
}
