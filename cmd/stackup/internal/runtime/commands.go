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
	"strings"
)

// NoProfile disables compose profile selection when used as a profile.
const NoProfile = "none"

// ComposeTarget identifies a compose project and its layered files.
type ComposeTarget struct {
	// Project is passed as -p.
	Project string

	// Files are passed as -f in order; later files override earlier ones.
	Files []string

	// Profile is passed as --profile unless empty or NoProfile.
	Profile string

	// EnvFile is passed as --env-file when set.
	EnvFile string
}

// ComposeArgv builds a full compose command line for target.
//
// # Description
//
// Produces:
//
//	<compose...> -p <project> [--profile <p>] -f <file>... [--env-file <f>] <sub...>
//
// # Example
//
//	argv := ComposeArgv(gw, ComposeTarget{
//	    Project: "localai",
//	    Files:   []string{"docker-compose.yml", "docker-compose.override.private.yml"},
//	    Profile: "cpu",
//	}, "up", "-d")
//	// docker compose -p localai --profile cpu -f docker-compose.yml -f docker-compose.override.private.yml up -d
func ComposeArgv(g Gateway, target ComposeTarget, sub ...string) []string {
	argv := g.Compose()
	if target.Project != "" {
		argv = append(argv, "-p", target.Project)
	}
	if p := strings.TrimSpace(target.Profile); p != "" && p != NoProfile {
		argv = append(argv, "--profile", p)
	}
	for _, f := range target.Files {
		argv = append(argv, "-f", f)
	}
	if target.EnvFile != "" {
		argv = append(argv, "--env-file", target.EnvFile)
	}
	return append(argv, sub...)
}

// ContainerNames lists running containers whose name matches filter.
//
// # Description
//
// Runs "docker ps --filter name=<filter> --format {{.Names}}". Docker
// matches the filter as a substring, so "searxng" also matches
// "localai-searxng-1".
//
// # Outputs
//
//   - []string: Names, possibly empty
//   - error: The runtime could not be queried
func ContainerNames(ctx context.Context, g Gateway, filter string) ([]string, error) {
	argv := []string{g.Docker(), "ps", "--filter", "name=" + filter, "--format", "{{.Names}}"}
	res, err := g.Execute(ctx, argv, Options{MustSucceed: true})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Exec runs a command inside a running container.
//
// # Outputs
//
//   - *Result: Inspect ExitCode for the command's own status
//   - error: Only when "docker exec" could not be started
func Exec(ctx context.Context, g Gateway, container string, cmd ...string) (*Result, error) {
	argv := append([]string{g.Docker(), "exec", container}, cmd...)
	return g.Execute(ctx, argv, Options{})
}
