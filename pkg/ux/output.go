// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the stackup CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette - deep ocean teals
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Link    lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Link:    lipgloss.NewStyle().Foreground(ColorTealPrimary).Underline(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Printer writes operator-facing progress output.
//
// # Description
//
// Printer is the presentation half of the CLI: logs go to stderr via
// pkg/logging, while Printer writes the banner, step lines, service URLs
// and the health table to stdout. When the destination is not a
// terminal, output is plain text with no ANSI styling so it can be
// captured by CI logs or tests.
//
// # Thread Safety
//
// Not safe for concurrent use; the orchestrator is single-threaded.
type Printer struct {
	w     io.Writer
	plain bool
}

// NewPrinter creates a Printer for w.
//
// # Description
//
// Styling is enabled only when w is an *os.File attached to a terminal.
// A nil writer discards output.
//
// # Inputs
//
//   - w: Destination (usually os.Stdout)
//
// # Outputs
//
//   - *Printer: Ready-to-use printer
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		return &Printer{w: io.Discard, plain: true}
	}
	plain := true
	if f, ok := w.(*os.File); ok {
		plain = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	return &Printer{w: w, plain: plain}
}

// NewPlainPrinter creates a Printer that never emits ANSI styling.
func NewPlainPrinter(w io.Writer) *Printer {
	p := NewPrinter(w)
	p.plain = true
	return p
}

func (p *Printer) render(style lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return style.Render(text)
}

func (p *Printer) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.render(Styles.Success, string(i))
	case IconWarning:
		return p.render(Styles.Warning, string(i))
	case IconError:
		return p.render(Styles.Error, string(i))
	case IconPending:
		return p.render(Styles.Muted, string(i))
	default:
		return string(i)
	}
}

// Banner prints the tool title framed by rules.
func (p *Printer) Banner(title string) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(p.w, p.render(Styles.Muted, rule))
	fmt.Fprintln(p.w, p.render(Styles.Title, center(title, 60)))
	fmt.Fprintln(p.w, p.render(Styles.Muted, rule))
}

// Section prints a heading for a block of related lines.
func (p *Printer) Section(title string) {
	fmt.Fprintf(p.w, "\n%s\n", p.render(Styles.Bold, title))
}

// Step prints a pending action.
func (p *Printer) Step(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.icon(IconArrow), text)
}

// Success prints a completed action.
func (p *Printer) Success(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.icon(IconSuccess), p.render(Styles.Success, text))
}

// Warning prints a degraded-but-continuing condition.
func (p *Printer) Warning(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.icon(IconWarning), p.render(Styles.Warning, text))
}

// Error prints a fatal condition.
func (p *Printer) Error(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.icon(IconError), p.render(Styles.Error, text))
}

// Muted prints secondary text.
func (p *Printer) Muted(text string) {
	fmt.Fprintln(p.w, p.render(Styles.Muted, text))
}

// ServiceLink is one row of the service URL listing.
type ServiceLink struct {
	Name string
	URL  string
}

// ServiceURLs prints the resolved URLs of the launched services.
//
// # Description
//
// Names are left-aligned to the longest name so the URLs line up.
// Prints nothing when links is empty.
func (p *Printer) ServiceURLs(links []ServiceLink) {
	if len(links) == 0 {
		return
	}
	width := 0
	for _, l := range links {
		if len(l.Name)+1 > width {
			width = len(l.Name) + 1
		}
	}
	p.Section("Service URLs")
	for _, l := range links {
		fmt.Fprintf(p.w, "  %-*s  %s\n", width, l.Name+":", p.render(Styles.Link, l.URL))
	}
}

// HealthRow is one row of the health table.
type HealthRow struct {
	Service string
	Status  string
	Icon    Icon
}

// HealthTable prints the post-launch container status.
func (p *Printer) HealthTable(rows []HealthRow) {
	p.Section("Service health")
	if len(rows) == 0 {
		p.Muted("  no containers reported")
		return
	}
	width := 0
	for _, r := range rows {
		if len(r.Service) > width {
			width = len(r.Service)
		}
	}
	for _, r := range rows {
		fmt.Fprintf(p.w, "  %s %-*s  %s\n", p.icon(r.Icon), width, r.Service, r.Status)
	}
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", (width-len(s))/2) + s
}
