// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator sequences a full stack startup and teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/fetcher"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/firstrun"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/health"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/profile"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/readiness"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/runtime"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/secrets"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/stack"
	"github.com/AleutianAI/stackup/pkg/logging"
	"github.com/AleutianAI/stackup/pkg/ux"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrPanicRecovered is returned when a panic was recovered during a run.
	ErrPanicRecovered = errors.New("panic recovered during operation")
)

// =============================================================================
// Collaborators
// =============================================================================

// Detector checks that the container runtime is usable.
type Detector interface {
	Detect(ctx context.Context) (*runtime.Info, error)
}

// Preparer creates the host directories the stacks mount.
type Preparer interface {
	Prepare() error
}

// Fetcher keeps the dependency checkout present.
type Fetcher interface {
	EnsurePresent(ctx context.Context, src fetcher.Source) (fetcher.Result, error)
	CopyEnv(src, dst string) error
}

// Launcher starts and stops compose deployments.
type Launcher interface {
	Start(ctx context.Context, d stack.Deployment) error
	Stop(ctx context.Context, d stack.Deployment) error
}

// Mutator reconciles the search component's compose directive.
type Mutator interface {
	Reconcile(ctx context.Context, c firstrun.Component) (firstrun.Outcome, error)
}

// Waiter gates the main stack on the dependency's readiness.
type Waiter interface {
	WaitFor(ctx context.Context, d stack.Deployment, grace time.Duration) readiness.Result
}

// Reporter reports container status.
type Reporter interface {
	Report(ctx context.Context, d stack.Deployment) ([]health.ServiceStatus, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Dependency is the sub-stack fetched and started before the main stack.
type Dependency struct {
	Source fetcher.Source
	Stack  stack.Stack

	// EnvTarget receives a copy of the env file.
	EnvTarget string

	// Grace is the minimum wait after the dependency starts.
	Grace time.Duration
}

// Search is the component whose cap_drop directive depends on whether
// it has initialized.
type Search struct {
	Component firstrun.Component

	// SettingsTemplate is copied to SettingsFile with Placeholder
	// replaced by a generated secret. Empty SettingsFile skips seeding.
	SettingsTemplate string
	SettingsFile     string
	Placeholder      string
}

// ServiceURL is a line of the URL listing printed after startup.
type ServiceURL struct {
	Name      string
	Subdomain string
}

// Config describes one deployment target.
type Config struct {
	// EnvFile holds the EnvironmentProfile.
	EnvFile string

	// RequiredKeys must be non-empty in EnvFile; nil uses the profile
	// package defaults.
	RequiredKeys []string

	// Profile is the main stack's compose profile.
	Profile string

	Main       stack.Stack
	Dependency *Dependency
	Search     *Search
	URLs       []ServiceURL

	// Secrets generates the search secret key. Nil uses the defaults.
	Secrets *secrets.Generator
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Runtime  Detector
	Preparer Preparer
	Fetcher  Fetcher
	Launcher Launcher
	Mutator  Mutator
	Waiter   Waiter
	Reporter Reporter

	// Printer receives operator output. Nil discards it.
	Printer *ux.Printer

	// Logger receives structured logs. Nil discards them.
	Logger *logging.Logger
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs the startup and teardown sequences.
//
// # Description
//
// Start and Stop are serialized by a mutex. Cross-process exclusion is
// the caller's job (see process.ProcessLock).
type Orchestrator struct {
	cfg  Config
	deps Deps
	mu   sync.Mutex
}

// New creates an Orchestrator.
//
// # Inputs
//
//   - cfg: Deployment target; Main must be valid
//   - deps: Collaborators. Runtime, Preparer, Launcher, Waiter and
//     Reporter are always required. Fetcher is required when
//     cfg.Dependency is set, Mutator when cfg.Search is set.
//
// # Outputs
//
//   - *Orchestrator: Ready to run
//   - error: ErrNilDependency, or the stack validation error
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Runtime == nil:
		return nil, fmt.Errorf("%w: Runtime", ErrNilDependency)
	case deps.Preparer == nil:
		return nil, fmt.Errorf("%w: Preparer", ErrNilDependency)
	case deps.Launcher == nil:
		return nil, fmt.Errorf("%w: Launcher", ErrNilDependency)
	case deps.Waiter == nil:
		return nil, fmt.Errorf("%w: Waiter", ErrNilDependency)
	case deps.Reporter == nil:
		return nil, fmt.Errorf("%w: Reporter", ErrNilDependency)
	case cfg.Dependency != nil && deps.Fetcher == nil:
		return nil, fmt.Errorf("%w: Fetcher", ErrNilDependency)
	case cfg.Search != nil && deps.Mutator == nil:
		return nil, fmt.Errorf("%w: Mutator", ErrNilDependency)
	}

	if err := cfg.Main.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dependency != nil {
		if err := cfg.Dependency.Stack.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Secrets == nil {
		cfg.Secrets = secrets.NewGenerator("", 0)
	}
	if deps.Printer == nil {
		deps.Printer = ux.NewPlainPrinter(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// Start brings the whole stack up.
//
// # Description
//
//  1. Load the EnvironmentProfile. Missing keys fail before any runtime call.
//  2. Detect the container runtime.
//  3. Prepare host directories.
//  4. Seed the search settings file if it does not exist yet.
//  5. Reconcile the search component's cap_drop directive. The probe
//     needs the previous run's container, so this precedes step 6.
//  6. Tear down leftovers of the umbrella project (best effort).
//  7. Fetch, configure, start and wait for the dependency stack.
//  8. Start the main stack.
//  9. Print the service URLs.
//  10. Report container health.
//
// Steps 1, 2, 3, 7 (except the wait) and 8 are fatal. The rest log and
// continue. Already started stacks are not rolled back; run Stop.
//
// # Outputs
//
//   - error: Wraps profile.ErrPrecondition, runtime.ErrUnavailable,
//     envprep.ErrPrepare, fetcher.ErrFetch or launcher.ErrLaunch
func (o *Orchestrator) Start(ctx context.Context) (err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() {
		recoverPanic(recover(), &err)
	}()

	started := time.Now()
	log := o.deps.Logger
	out := o.deps.Printer

	p, err := profile.Load(o.cfg.EnvFile, o.cfg.RequiredKeys)
	if err != nil {
		return err
	}
	log.Info("Environment profile loaded", "path", p.Path, "mode", p.Mode(), "domain", p.BaseDomain)
	log.Debug("Environment keys defined", "keys", p.Keys())

	if err := o.detect(ctx); err != nil {
		return err
	}

	out.Step("Preparing directories")
	if err := o.deps.Preparer.Prepare(); err != nil {
		return err
	}

	o.seedSearchSettings()

	if o.cfg.Search != nil {
		o.reconcileSearch(ctx)
	}

	mainDep := o.cfg.Main.Deploy(p.Mode(), o.cfg.Profile)

	out.Step("Stopping existing containers")
	if err := o.deps.Launcher.Stop(ctx, mainDep); err != nil {
		log.Warn("Pre-start cleanup failed", "project", mainDep.Stack.Project, "error", err)
	}

	if o.cfg.Dependency != nil {
		if err := o.startDependency(ctx, p.Mode()); err != nil {
			return err
		}
	}

	out.Step(fmt.Sprintf("Starting %s", mainDep.Stack.Name))
	if err := o.deps.Launcher.Start(ctx, mainDep); err != nil {
		return err
	}
	out.Success(fmt.Sprintf("%s started", mainDep.Stack.Name))

	o.printURLs(p)
	o.reportHealth(ctx, mainDep)

	log.Info("Startup complete", "duration", time.Since(started).Round(time.Millisecond))
	return nil
}

// Stop tears down the umbrella project.
//
// # Description
//
// Issues exactly one "down --remove-orphans" for the main stack's
// project. The dependency stack is not torn down separately; it shares
// the umbrella project by default, and when configured with its own
// project it keeps running. Runtime detection and teardown failures are
// logged and Stop still returns nil, so it is safe as a cleanup step.
// The deployment mode is read from the env file when possible, with
// private mode as the fallback.
func (o *Orchestrator) Stop(ctx context.Context) (err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() {
		recoverPanic(recover(), &err)
	}()

	log := o.deps.Logger
	out := o.deps.Printer

	if _, dErr := o.deps.Runtime.Detect(ctx); dErr != nil {
		log.Warn("Container runtime check failed, attempting teardown anyway", "error", dErr)
	}

	mainDep := o.cfg.Main.Deploy(profile.ModeOf(o.cfg.EnvFile), o.cfg.Profile)
	out.Step(fmt.Sprintf("Stopping project %s", mainDep.Stack.Project))
	if sErr := o.deps.Launcher.Stop(ctx, mainDep); sErr != nil {
		log.Warn("Teardown failed", "project", mainDep.Stack.Project, "error", sErr)
		out.Warning(sErr.Error())
		return nil
	}
	out.Success(fmt.Sprintf("Project %s stopped", mainDep.Stack.Project))
	return nil
}

// =============================================================================
// Start Phase Helpers
// =============================================================================

func (o *Orchestrator) detect(ctx context.Context) error {
	o.deps.Printer.Step("Checking container runtime")
	info, err := o.deps.Runtime.Detect(ctx)
	if err != nil {
		return err
	}
	o.deps.Logger.Info("Container runtime available",
		"docker", info.DockerVersion, "compose", info.ComposeVersion, "legacy_compose", info.Legacy)
	return nil
}

// seedSearchSettings never fails the run: the search service falls
// back to its built-in settings when the file is missing.
func (o *Orchestrator) seedSearchSettings() {
	s := o.cfg.Search
	if s == nil || s.SettingsFile == "" {
		return
	}
	res, err := secrets.SeedSettings(s.SettingsTemplate, s.SettingsFile, s.Placeholder, o.cfg.Secrets)
	if err != nil {
		o.deps.Logger.Warn("Search settings were not generated", "template", s.SettingsTemplate, "error", err)
		o.deps.Printer.Warning(fmt.Sprintf("Could not generate %s: %v", s.SettingsFile, err))
		return
	}
	if res.Created {
		o.deps.Logger.Info("Search settings generated", "path", s.SettingsFile, "replaced", res.Replaced)
		o.deps.Printer.Success(fmt.Sprintf("Generated %s with a new secret key", s.SettingsFile))
	}
}

func (o *Orchestrator) startDependency(ctx context.Context, mode stack.Mode) error {
	dep := o.cfg.Dependency
	log := o.deps.Logger
	out := o.deps.Printer

	spin := out.Spin(fmt.Sprintf("Fetching %s", dep.Stack.Name))
	res, err := o.deps.Fetcher.EnsurePresent(ctx, dep.Source)
	spin.Stop()
	if err != nil {
		return err
	}
	if res.Quarantined != "" {
		log.Warn("Incomplete checkout moved aside", "path", res.Quarantined)
	}
	if res.UpdateErr != nil {
		log.Warn("Dependency update failed, using existing checkout", "path", res.Path, "error", res.UpdateErr)
		out.Warning(fmt.Sprintf("Could not update %s, using the existing copy", dep.Stack.Name))
	}
	log.Info("Dependency checkout ready", "path", res.Path, "outcome", res.Outcome)

	if dep.EnvTarget != "" {
		if err := o.deps.Fetcher.CopyEnv(o.cfg.EnvFile, dep.EnvTarget); err != nil {
			return fmt.Errorf("%w: copy env file: %w", fetcher.ErrFetch, err)
		}
	}

	d := dep.Stack.Deploy(mode, "")
	out.Step(fmt.Sprintf("Starting %s", dep.Stack.Name))
	if err := o.deps.Launcher.Start(ctx, d); err != nil {
		return err
	}

	spin = out.Spin(fmt.Sprintf("Waiting for %s", dep.Stack.Name))
	wait := o.deps.Waiter.WaitFor(ctx, d, dep.Grace)
	spin.Stop()
	if wait.Ready {
		out.Success(fmt.Sprintf("%s is ready", dep.Stack.Name))
	} else {
		out.Warning(fmt.Sprintf("%s not confirmed ready after %s, continuing", dep.Stack.Name, wait.Waited.Round(time.Second)))
	}
	return nil
}

func (o *Orchestrator) reconcileSearch(ctx context.Context) {
	c := o.cfg.Search.Component
	outcome, err := o.deps.Mutator.Reconcile(ctx, c)
	if err != nil {
		o.deps.Logger.Warn("First-run reconcile failed, continuing", "service", c.Service, "error", err)
		o.deps.Printer.Warning(fmt.Sprintf("Could not update %s security settings: %v", c.Service, err))
		return
	}
	o.deps.Logger.Info("First-run reconcile done", "service", c.Service, "outcome", outcome.String())
	switch outcome {
	case firstrun.Relaxed:
		o.deps.Printer.Muted(fmt.Sprintf("  %s: first run, cap_drop relaxed for initialization", c.Service))
	case firstrun.Restored:
		o.deps.Printer.Muted(fmt.Sprintf("  %s: initialized, cap_drop restored", c.Service))
	}
}

func (o *Orchestrator) printURLs(p *profile.Profile) {
	links := make([]ux.ServiceLink, 0, len(o.cfg.URLs))
	for _, u := range o.cfg.URLs {
		links = append(links, ux.ServiceLink{Name: u.Name, URL: p.URL(u.Subdomain)})
	}
	o.deps.Printer.ServiceURLs(links)
}

// reportHealth is advisory: its outcome never changes the result of Start.
func (o *Orchestrator) reportHealth(ctx context.Context, d stack.Deployment) {
	statuses, err := o.deps.Reporter.Report(ctx, d)
	if err != nil {
		o.deps.Logger.Warn("Health report unavailable", "error", err)
		o.deps.Printer.Warning("Could not read service status; run 'docker compose ps'")
		return
	}

	rows := make([]ux.HealthRow, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, ux.HealthRow{Service: s.Service, Status: s.Status, Icon: healthIcon(s)})
	}
	o.deps.Printer.HealthTable(rows)

	sum := health.Summarize(statuses)
	o.deps.Logger.Info("Health report",
		"total", sum.Total, "running", sum.Running, "exited", sum.Exited,
		"completed", sum.Completed, "unhealthy", sum.Unhealthy)
	if failed := sum.Exited - sum.Completed; failed > 0 || sum.Unhealthy > 0 {
		o.deps.Printer.Warning(fmt.Sprintf("%d exited, %d unhealthy; check 'docker compose logs'", failed, sum.Unhealthy))
	}
}

func healthIcon(s health.ServiceStatus) ux.Icon {
	switch {
	case s.Completed:
		return ux.IconSuccess
	case s.State == health.StateExited || s.Health == health.HealthUnhealthy:
		return ux.IconError
	case s.Health == health.HealthStarting:
		return ux.IconPending
	case s.State == health.StateRunning:
		return ux.IconSuccess
	default:
		return ux.IconWarning
	}
}

// recoverPanic converts a panic in Start or Stop into an error so the
// CLI can release its lock and exit cleanly. Must be called from a
// deferred function.
func recoverPanic(r interface{}, errPtr *error) {
	if r == nil {
		return
	}
	panicErr := fmt.Errorf("%w: %v", ErrPanicRecovered, r)
	if *errPtr == nil {
		*errPtr = panicErr
	}
}
