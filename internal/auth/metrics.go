// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// Operation labels.
const (
	OpRegister       = "register"
	OpAuthenticate   = "authenticate"
	OpIsLocked       = "is_locked"
	OpStatus         = "status"
	OpChangePassword = "change_password"
	OpUnlock         = "unlock"
)

// Outcome labels.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidInput       = "invalid_input"
	OutcomeUsernameTaken      = "username_taken"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeRateLimited        = "rate_limited"
	OutcomeUnavailable        = "unavailable"
	OutcomeError              = "error"
)

// Metrics holds the collectors a Service and its hasher report to. A nil
// *Metrics records nothing.
type Metrics struct {
	// Operations counts service calls by operation and outcome.
	Operations *prometheus.CounterVec
	// Lockouts counts failures that moved an account into the locked state.
	Lockouts prometheus.Counter
	// HashDuration observes hash engine latency.
	HashDuration *prometheus.HistogramVec
}

// NewMetrics creates the auth collectors and registers them with reg when reg
// is non-nil. If reg already holds collectors with the same descriptors, the
// registered ones are reused so several services can share a registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_auth_operations_total",
				Help: "Total number of credential operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		Lockouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lockbox_account_lockouts_total",
				Help: "Total number of accounts locked after repeated failures",
			},
		),
		HashDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lockbox_password_hash_duration_seconds",
				Help:    "Password hash and verify duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.Operations, err = register(reg, m.Operations); err != nil {
		return nil, err
	}
	if m.Lockouts, err = register(reg, m.Lockouts); err != nil {
		return nil, err
	}
	if m.HashDuration, err = register(reg, m.HashDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, oops.Code("METRICS_REGISTRATION_FAILED").In("metrics").Wrap(err)
}

// recordOperation counts one call of operation, deriving the outcome from err.
func (m *Metrics) recordOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcomeOf(err)).Inc()
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return OutcomeInvalidInput
	case errors.Is(err, ErrUsernameTaken):
		return OutcomeUsernameTaken
	case errors.Is(err, ErrInvalidCredentials):
		return OutcomeInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case KindOf(err) == KindAvailability:
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}

func (m *Metrics) recordLockout() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

func (m *Metrics) observeHash(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.HashDuration.WithLabelValues(operation).Observe(d.Seconds())
}
