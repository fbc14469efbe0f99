// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"

	"github.com/AleutianAI/stackup/cmd/stackup/config"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/envprep"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/fetcher"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/firstrun"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/health"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/infra/process"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/launcher"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/orchestrator"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/readiness"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/runtime"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/secrets"
	"github.com/AleutianAI/stackup/pkg/logging"
	"github.com/AleutianAI/stackup/pkg/ux"
	"github.com/google/uuid"
)

// runStack loads the configuration, takes the per-project lock and runs
// either the startup or the teardown sequence.
func runStack(ctx context.Context, opts *cliOptions) error {
	cfg, found, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if opts.verbose {
		level = logging.LevelDebug
	}
	base := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "stackup",
		JSON:    cfg.Logging.JSON,
		Writer:  opts.stderr,
	})
	defer base.Close()
	logger := base.With("run_id", uuid.NewString(), "project", cfg.Project)

	if !found {
		logger.Info("No config file found, using defaults", "path", opts.configPath)
	}

	lock := process.NewProcessLock(process.ProcessLockConfig{
		LockDir:  cfg.Lock.Dir,
		LockName: "stackup-" + cfg.Project,
	})
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release lock", "path", lock.LockPath(), "error", err)
		}
	}()

	client, err := runtime.NewClient(runtime.Config{
		DockerBinary:        cfg.Runtime.DockerBinary,
		LegacyComposeBinary: cfg.Runtime.LegacyComposeBinary,
		CommandTimeout:      cfg.Runtime.CommandTimeout,
		Logger:              logger,
	}, process.NewDefaultManager())
	if err != nil {
		return err
	}

	printer := ux.NewPrinter(opts.stdout)
	orch, err := newOrchestrator(cfg, client, logger, printer)
	if err != nil {
		return err
	}

	if opts.stop {
		return orch.Stop(ctx)
	}
	printer.Banner(fmt.Sprintf("stackup %s: %s", version, cfg.Project))
	return orch.Start(ctx)
}

// newOrchestrator wires every component to gw.
func newOrchestrator(cfg *config.StackupConfig, gw runtime.Gateway, logger *logging.Logger, printer *ux.Printer) (*orchestrator.Orchestrator, error) {
	mainStack, err := cfg.MainStack()
	if err != nil {
		return nil, err
	}

	l, err := launcher.New(gw, logger.With("component", "launcher"))
	if err != nil {
		return nil, err
	}
	reporter, err := health.NewReporter(gw, logger.With("component", "health"))
	if err != nil {
		return nil, err
	}
	mutator, err := firstrun.NewMutator(gw, logger.With("component", "firstrun"))
	if err != nil {
		return nil, err
	}

	oc := orchestrator.Config{
		EnvFile:      cfg.EnvFile,
		RequiredKeys: cfg.RequiredKeys,
		Profile:      cfg.Profile,
		Main:         mainStack,
		Secrets:      secrets.NewGenerator(cfg.Secrets.Alphabet, cfg.Secrets.Length),
	}
	if d := cfg.Dependency; d != nil {
		depStack, err := cfg.DependencyStack()
		if err != nil {
			return nil, err
		}
		oc.Dependency = &orchestrator.Dependency{
			Source:    cfg.DependencySource(),
			Stack:     depStack,
			EnvTarget: d.EnvTarget,
			Grace:     d.Grace,
		}
	}
	if s := cfg.Search; s != nil {
		oc.Search = &orchestrator.Search{
			Component:        cfg.SearchComponent(),
			SettingsTemplate: s.SettingsTemplate,
			SettingsFile:     s.SettingsFile,
			Placeholder:      s.Placeholder,
		}
	}
	for _, u := range cfg.URLs {
		oc.URLs = append(oc.URLs, orchestrator.ServiceURL{Name: u.Name, Subdomain: u.Subdomain})
	}

	return orchestrator.New(oc, orchestrator.Deps{
		Runtime:  gw,
		Preparer: envprep.NewPreparer(cfg.PrepareDirectories(), logger.With("component", "envprep")),
		Fetcher:  fetcher.New(logger.With("component", "fetcher")),
		Launcher: l,
		Mutator:  mutator,
		Waiter:   readiness.NewWaiter(reporter, cfg.ReadinessSettings(), logger.With("component", "readiness")),
		Reporter: reporter,
		Printer:  printer,
		Logger:   logger,
	})
}
