// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package readiness waits for a started stack to settle before the next
// stack is launched.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/health"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/stack"
	"github.com/AleutianAI/stackup/pkg/logging"
	"github.com/sethvargo/go-retry"
)

const (
	// DefaultBaseInterval is the first poll delay.
	DefaultBaseInterval = time.Second

	// DefaultMaxInterval caps the poll delay.
	DefaultMaxInterval = 5 * time.Second
)

var errNotReady = errors.New("stack not ready")

// Reporter is the subset of health.Reporter the waiter needs.
type Reporter interface {
	Report(ctx context.Context, d stack.Deployment) ([]health.ServiceStatus, error)
}

// Config configures a Waiter.
type Config struct {
	// Poll enables polling. When false, WaitFor sleeps for the grace period.
	Poll bool

	// MaxWait is the polling bound when it exceeds the grace period.
	MaxWait time.Duration

	// BaseInterval and MaxInterval shape the exponential backoff.
	// Zero values take the defaults.
	BaseInterval time.Duration
	MaxInterval  time.Duration
}

// Result reports how a wait ended.
type Result struct {
	// Ready is true when readiness was observed.
	Ready bool

	// Waited is the elapsed time.
	Waited time.Duration

	// Polls counts status queries.
	Polls int

	// LastErr is the last status failure, if any.
	LastErr error
}

// Waiter waits for deployments to become ready.
type Waiter struct {
	reporter Reporter
	config   Config
	logger   *logging.Logger
	sleep    func(ctx context.Context, d time.Duration)
}

// NewWaiter creates a Waiter.
//
// # Inputs
//
//   - reporter: Status source; nil forces the fixed grace sleep
//   - cfg: Polling configuration
//   - logger: Nil discards output
func NewWaiter(reporter Reporter, cfg Config, logger *logging.Logger) *Waiter {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultBaseInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Waiter{reporter: reporter, config: cfg, logger: logger, sleep: sleepContext}
}

// WaitFor blocks until d is ready or the bound elapses.
//
// # Description
//
// With polling enabled, the deployment's status is queried with capped
// exponential backoff for at most max(grace, MaxWait). The deployment is
// ready once it reports at least one container and every container is
// running with no failing or pending health check. Containers that
// exited with code 0 are finished jobs and are skipped. Without polling it
// sleeps for grace.
//
// WaitFor never fails: a deployment that does not become ready is
// reported through Result and logged, and the caller carries on.
// Context cancellation returns early.
func (w *Waiter) WaitFor(ctx context.Context, d stack.Deployment, grace time.Duration) Result {
	start := time.Now()

	if w.reporter == nil || !w.config.Poll {
		w.logger.Info("waiting for stack to settle", "stack", d.Stack.Name, "grace", grace.String())
		w.sleep(ctx, grace)
		return Result{Waited: time.Since(start)}
	}

	bound := grace
	if w.config.MaxWait > bound {
		bound = w.config.MaxWait
	}

	backoff := retry.NewExponential(w.config.BaseInterval)
	backoff = retry.WithCappedDuration(w.config.MaxInterval, backoff)
	backoff = retry.WithMaxDuration(bound, backoff)

	result := Result{}
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		result.Polls++
		statuses, err := w.reporter.Report(ctx, d)
		if err != nil {
			result.LastErr = err
			return retry.RetryableError(err)
		}
		if !health.AllReady(statuses) {
			sum := health.Summarize(statuses)
			return retry.RetryableError(fmt.Errorf("%w: %d/%d running, %d unhealthy",
				errNotReady, sum.Running, sum.Total, sum.Unhealthy))
		}
		return nil
	})
	result.Waited = time.Since(start)
	result.Ready = err == nil

	if result.Ready {
		w.logger.Info("stack ready",
			"stack", d.Stack.Name, "waited", result.Waited.Round(time.Millisecond).String(), "polls", result.Polls)
	} else {
		w.logger.Warn("stack not ready within bound, continuing",
			"stack", d.Stack.Name, "bound", bound.String(), "reason", err)
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
