// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health reports container status for a deployment.
package health

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/runtime"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/stack"
	"github.com/AleutianAI/stackup/pkg/logging"
)

var (
	// ErrReport is returned when status cannot be obtained or parsed.
	ErrReport = errors.New("health report failed")

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")
)

// State is the coarse container state.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateOther   State = "other"
)

// Health is the container health check result.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthStarting  Health = "starting"
	HealthUnknown   Health = "unknown"
)

// ServiceStatus is one container's status. It is recomputed on every report.
type ServiceStatus struct {
	Service   string
	Container string

	// Status is the human readable status, e.g. "Up 2 minutes (healthy)".
	Status string

	State  State
	Health Health

	// RawHealth is the health field as reported by compose.
	RawHealth string

	// Completed marks an exited container whose exit code was 0, such as
	// an init or import job.
	Completed bool
}

// Ready reports whether the container is running and not failing or
// still starting its health check.
func (s ServiceStatus) Ready() bool {
	return s.State == StateRunning && s.Health != HealthUnhealthy && s.Health != HealthStarting
}

// Reporter queries compose for container status.
type Reporter struct {
	gw     runtime.Gateway
	logger *logging.Logger
}

// NewReporter creates a Reporter.
//
// # Inputs
//
//   - gw: Runtime gateway (required)
//   - logger: Nil discards output
//
// # Outputs
//
//   - *Reporter: Ready to use
//   - error: ErrNilDependency if gw is nil
func NewReporter(gw runtime.Gateway, logger *logging.Logger) (*Reporter, error) {
	if gw == nil {
		return nil, fmt.Errorf("%w: gateway", ErrNilDependency)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Reporter{gw: gw, logger: logger}, nil
}

// Report returns the status of every container of the deployment.
//
// # Description
//
// Runs "<compose> -p <project> -f ... ps -a --format json". Compose
// prints either a JSON array (older releases) or one JSON object per
// line (newer releases); both are accepted. The result is sorted by
// service, then container name.
//
// # Outputs
//
//   - []ServiceStatus: Possibly empty
//   - error: Wraps ErrReport
//
// # Limitations
//
//   - The legacy docker-compose v1 binary has no JSON output and always
//     fails here
func (r *Reporter) Report(ctx context.Context, d stack.Deployment) ([]ServiceStatus, error) {
	argv := runtime.ComposeArgv(r.gw, d.Target(), "ps", "-a", "--format", "json")
	res, err := r.gw.Execute(ctx, argv, runtime.Options{Dir: d.Stack.Dir, MustSucceed: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReport, d.Stack.Name, err)
	}

	statuses, err := Parse(res.Stdout, d.Stack.Project)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReport, d.Stack.Name, err)
	}
	r.logger.Debug("health reported", "stack", d.Stack.Name, "containers", len(statuses))
	return statuses, nil
}

// psEntry is the subset of compose ps JSON that is used.
type psEntry struct {
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
	Status  string `json:"Status"`
	Health  string `json:"Health"`

	// ExitCode is absent from older compose releases.
	ExitCode *int `json:"ExitCode"`
}

// Parse converts compose ps JSON output into statuses.
//
// # Inputs
//
//   - output: JSON array or newline-delimited JSON objects
//   - project: Compose project, used to derive a service name when the
//     entry has none
func Parse(output, project string) ([]ServiceStatus, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return []ServiceStatus{}, nil
	}

	var entries []psEntry
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
			return nil, fmt.Errorf("failed to parse container JSON: %w", err)
		}
	} else {
		scanner := bufio.NewScanner(strings.NewReader(trimmed))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var e psEntry
			if err := json.Unmarshal([]byte(line), &e); err != nil {
				return nil, fmt.Errorf("failed to parse container JSON line: %w", err)
			}
			entries = append(entries, e)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read container JSON: %w", err)
		}
	}

	statuses := make([]ServiceStatus, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, classify(e, project))
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Service != statuses[j].Service {
			return statuses[i].Service < statuses[j].Service
		}
		return statuses[i].Container < statuses[j].Container
	})
	return statuses, nil
}

func classify(e psEntry, project string) ServiceStatus {
	s := ServiceStatus{
		Service:   e.Service,
		Container: e.Name,
		Status:    e.Status,
		RawHealth: e.Health,
	}
	if s.Service == "" {
		s.Service = serviceFromContainer(e.Name, project)
	}

	state := strings.ToLower(e.State)
	status := strings.ToLower(e.Status)
	switch {
	case state == "running" || (state == "" && strings.HasPrefix(status, "up")):
		s.State = StateRunning
	case state == "exited" || state == "dead" || (state == "" && strings.HasPrefix(status, "exited")):
		s.State = StateExited
	default:
		s.State = StateOther
	}

	combined := strings.ToLower(e.Health) + " " + status
	switch {
	case strings.Contains(combined, "unhealthy"):
		s.Health = HealthUnhealthy
	case strings.Contains(combined, "starting"):
		s.Health = HealthStarting
	case strings.Contains(combined, "healthy"):
		s.Health = HealthHealthy
	default:
		s.Health = HealthUnknown
	}

	if s.State == StateExited {
		if e.ExitCode != nil {
			s.Completed = *e.ExitCode == 0
		} else {
			s.Completed = strings.HasPrefix(status, "exited (0)")
		}
	}
	return s
}

// serviceFromContainer strips the "<project>-" prefix and the "-N"
// replica suffix: "localai-n8n-import-1" becomes "n8n-import".
func serviceFromContainer(name, project string) string {
	if project != "" {
		name = strings.TrimPrefix(name, project+"-")
	}
	if i := strings.LastIndex(name, "-"); i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			name = name[:i]
		}
	}
	return name
}

// Summary counts statuses by category.
type Summary struct {
	Total     int
	Running   int
	Exited    int
	Unhealthy int

	// Completed counts the Exited containers that finished with code 0.
	Completed int
}

// Summarize counts statuses.
func Summarize(statuses []ServiceStatus) Summary {
	sum := Summary{Total: len(statuses)}
	for _, s := range statuses {
		switch s.State {
		case StateRunning:
			sum.Running++
		case StateExited:
			sum.Exited++
			if s.Completed {
				sum.Completed++
			}
		}
		if s.Health == HealthUnhealthy {
			sum.Unhealthy++
		}
	}
	return sum
}

// AllReady reports whether there is at least one status and every one
// is Ready. Completed one-shot containers are not waited for.
func AllReady(statuses []ServiceStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if s.Completed {
			continue
		}
		if !s.Ready() {
			return false
		}
	}
	return true
}
