// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package firstrun

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RelaxedMarker tags the first line of a relaxed directive.
const RelaxedMarker = "# stackup: relaxed for first run"

const markerSuffix = "  " + RelaxedMarker

// directiveState is the form of the cap_drop directive in a service block.
type directiveState int

const (
	stateAbsent directiveState = iota
	stateActive
	stateRelaxed
)

func (s directiveState) String() string {
	switch s {
	case stateActive:
		return "active"
	case stateRelaxed:
		return "relaxed"
	default:
		return "absent"
	}
}

var (
	servicesKeyRe = regexp.MustCompile(`^services:\s*(#.*)?$`)
	blockKeyRe    = regexp.MustCompile(`^cap_drop:\s*(#.*)?$`)
	flowKeyRe     = regexp.MustCompile(`^cap_drop:\s*\[\s*["']?ALL["']?\s*\]\s*(#.*)?$`)
	itemAllRe     = regexp.MustCompile(`^-\s*["']?ALL["']?\s*(#.*)?$`)
)

// line is one physical line of the compose file, split so that edits
// can be reversed byte for byte.
type line struct {
	indent string
	body   string
	cr     bool
}

func splitLines(content []byte) []line {
	raw := strings.Split(string(content), "\n")
	lines := make([]line, len(raw))
	for i, r := range raw {
		l := line{}
		if strings.HasSuffix(r, "\r") {
			l.cr = true
			r = strings.TrimSuffix(r, "\r")
		}
		body := strings.TrimLeft(r, " \t")
		l.indent = r[:len(r)-len(body)]
		l.body = body
		lines[i] = l
	}
	return lines
}

func joinLines(lines []line) []byte {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.indent)
		b.WriteString(l.body)
		if l.cr {
			b.WriteByte('\r')
		}
	}
	return []byte(b.String())
}

func (l line) blank() bool   { return l.body == "" }
func (l line) comment() bool { return strings.HasPrefix(l.body, "#") }
func (l line) width() int    { return len(l.indent) }

// serviceBlock returns the half-open line range [start, end) holding the
// body of service under the top-level services key.
func serviceBlock(lines []line, service string) (int, int, error) {
	top := -1
	for i, l := range lines {
		if l.width() == 0 && servicesKeyRe.MatchString(l.body) {
			top = i
			break
		}
	}
	if top < 0 {
		return 0, 0, fmt.Errorf("no top-level services key")
	}

	keyIndent := -1
	for i := top + 1; i < len(lines); i++ {
		l := lines[i]
		if l.blank() || l.comment() {
			continue
		}
		if l.width() == 0 {
			break
		}
		if keyIndent < 0 {
			keyIndent = l.width()
		}
		if l.width() != keyIndent || !isKey(l.body, service) {
			continue
		}
		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if !lines[j].blank() && !lines[j].comment() && lines[j].width() <= keyIndent {
				end = j
				break
			}
		}
		return i + 1, end, nil
	}
	return 0, 0, fmt.Errorf("service %q not found", service)
}

func isKey(body, name string) bool {
	for _, k := range []string{name, `"` + name + `"`, `'` + name + `'`} {
		if rest, ok := strings.CutPrefix(body, k+":"); ok {
			rest = strings.TrimSpace(rest)
			return rest == "" || strings.HasPrefix(rest, "#")
		}
	}
	return false
}

// findDirective locates cap_drop within [start, end). It returns the
// state and the inclusive line range of the directive.
func findDirective(lines []line, start, end int) (directiveState, int, int) {
	for i := start; i < end; i++ {
		l := lines[i]
		switch {
		case flowKeyRe.MatchString(l.body):
			return stateActive, i, i

		case blockKeyRe.MatchString(l.body):
			last, hasAll := i, false
			for j := i + 1; j < end; j++ {
				item := lines[j]
				if item.blank() || item.width() < l.width() || !strings.HasPrefix(item.body, "-") {
					break
				}
				if itemAllRe.MatchString(item.body) {
					hasAll = true
				}
				last = j
			}
			if hasAll {
				return stateActive, i, last
			}

		case strings.HasSuffix(l.body, markerSuffix):
			inner := strings.TrimSuffix(strings.TrimPrefix(l.body, "# "), markerSuffix)
			if !strings.HasPrefix(l.body, "# ") || !(blockKeyRe.MatchString(inner) || flowKeyRe.MatchString(inner)) {
				continue
			}
			last := i
			if blockKeyRe.MatchString(inner) {
				for j := i + 1; j < end; j++ {
					item := lines[j]
					if item.width() < l.width() || !strings.HasPrefix(item.body, "# -") {
						break
					}
					last = j
				}
			}
			return stateRelaxed, i, last
		}
	}
	return stateAbsent, -1, -1
}

// relaxLines comments out lines[first..last] and marks the first one.
func relaxLines(lines []line, first, last int) {
	for i := first; i <= last; i++ {
		lines[i].body = "# " + lines[i].body
	}
	lines[first].body += markerSuffix
}

// restoreLines reverses relaxLines.
func restoreLines(lines []line, first, last int) {
	lines[first].body = strings.TrimSuffix(lines[first].body, markerSuffix)
	for i := first; i <= last; i++ {
		lines[i].body = strings.TrimPrefix(lines[i].body, "# ")
	}
}

// inspect reports the directive state of service in content.
func inspect(content []byte, service string) (directiveState, error) {
	lines := splitLines(content)
	start, end, err := serviceBlock(lines, service)
	if err != nil {
		return stateAbsent, err
	}
	state, _, _ := findDirective(lines, start, end)
	return state, nil
}

// rewrite moves the directive of service from state from to the other
// form and returns the new content.
func rewrite(content []byte, service string, from directiveState) ([]byte, error) {
	lines := splitLines(content)
	start, end, err := serviceBlock(lines, service)
	if err != nil {
		return nil, err
	}
	state, first, last := findDirective(lines, start, end)
	if state != from {
		return nil, fmt.Errorf("directive is %s, expected %s", state, from)
	}
	switch from {
	case stateActive:
		relaxLines(lines, first, last)
	case stateRelaxed:
		restoreLines(lines, first, last)
	default:
		return nil, fmt.Errorf("nothing to rewrite")
	}
	return joinLines(lines), nil
}

// verify parses content and checks that service carries cap_drop exactly
// when wantCapDrop is set.
func verify(content []byte, service string, wantCapDrop bool) error {
	var doc struct {
		Services map[string]map[string]any `yaml:"services"`
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("rewritten file does not parse: %w", err)
	}
	svc, ok := doc.Services[service]
	if !ok {
		return fmt.Errorf("service %q missing after rewrite", service)
	}
	if _, has := svc["cap_drop"]; has != wantCapDrop {
		return fmt.Errorf("service %q cap_drop present=%t after rewrite, want %t", service, has, wantCapDrop)
	}
	return nil
}
