// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Readiness defaults: ten checks of 100ms each.
const (
	DefaultReadinessInterval = 100 * time.Millisecond
	DefaultReadinessAttempts = 10
)

var errNotReady = errors.New("dependency not ready")

// ReadinessGate blocks callers until a dependency signals readiness, for at
// most Attempts x Interval. Once the budget is spent every later call fails
// immediately, until the dependency does become ready.
type ReadinessGate struct {
	ready    <-chan struct{}
	interval time.Duration
	attempts uint64
	logger   *slog.Logger
	timedOut atomic.Bool
}

// NewReadinessGate creates a gate over ready. Non-positive interval or
// attempts fall back to the defaults.
func NewReadinessGate(ready <-chan struct{}, interval time.Duration, attempts int, logger *slog.Logger) *ReadinessGate {
	if interval <= 0 {
		interval = DefaultReadinessInterval
	}
	if attempts <= 0 {
		attempts = DefaultReadinessAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadinessGate{
		ready:    ready,
		interval: interval,
		attempts: uint64(attempts),
		logger:   logger,
	}
}

// Ready reports readiness without blocking.
func (g *ReadinessGate) Ready() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

// AwaitReady returns nil once the dependency is ready, or a
// DEPENDENCY_LOAD_TIMEOUT error when the budget runs out.
func (g *ReadinessGate) AwaitReady(ctx context.Context) error {
	if g.Ready() {
		return nil
	}
	if g.timedOut.Load() {
		return dependencyLoadTimeout(g.attempts, g.interval)
	}

	// Each attempt already waits up to one interval, so no extra delay.
	backoff := retry.WithMaxRetries(g.attempts-1, retry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	}))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		timer := time.NewTimer(g.interval)
		defer timer.Stop()
		select {
		case <-g.ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return retry.RetryableError(errNotReady)
		}
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotReady):
		if !g.timedOut.Swap(true) {
			g.logger.Error("dependency did not become ready",
				"attempts", g.attempts,
				"interval", g.interval)
		}
		return dependencyLoadTimeout(g.attempts, g.interval)
	default:
		return oops.In("readiness").Wrap(err)
	}
}
