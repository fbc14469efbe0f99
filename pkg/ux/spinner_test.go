// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpinner_PlainPrintsStepOnce(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	spin := p.Spin("Waiting for supabase")
	spin.Stop()
	spin.Stop()

	assert.Equal(t, "→ Waiting for supabase\n", buf.String())
}

func TestSpinner_AnimatesAndClears(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf, plain: false}

	spin := p.Spin("Fetching")
	time.Sleep(3 * spinnerInterval)
	spin.Stop()

	out := buf.String()
	assert.Contains(t, out, "Fetching")
	assert.True(t, strings.HasSuffix(out, "\r\033[K"))
}

func TestSpinner_StopWithoutTicks(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf, plain: false}

	p.Spin("quick").Stop()

	assert.Equal(t, "\r\033[K", buf.String())
}
