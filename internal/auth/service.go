// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/lockbox/pkg/errutil"
)

// dummyPasswordHash is verified against when a username is unknown and the
// engine could not produce a calibrated dummy. It matches no password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// ReadinessChecker blocks until the service's dependencies can be used.
type ReadinessChecker interface {
	AwaitReady(ctx context.Context) error
}

// Service registers and authenticates credentials and enforces lockout.
type Service struct {
	repo           CredentialRepository
	hasher         PasswordHasher
	gate           ReadinessChecker
	policy         LockoutPolicy
	rules          CredentialRules
	upgradeOnLogin bool
	now            func() time.Time
	logger         *slog.Logger
	metrics        *Metrics

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLockoutPolicy sets the lockout policy.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithCredentialRules sets the registration rules.
func WithCredentialRules(r CredentialRules) ServiceOption {
	return func(s *Service) { s.rules = r }
}

// WithReadinessChecker replaces the default gate over the hasher's Ready channel.
func WithReadinessChecker(g ReadinessChecker) ServiceOption {
	return func(s *Service) { s.gate = g }
}

// WithMetrics reports operation outcomes and lockouts to m.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithHashUpgrade rewrites legacy or weaker hashes on successful login.
func WithHashUpgrade(enabled bool) ServiceOption {
	return func(s *Service) { s.upgradeOnLogin = enabled }
}

// NewService creates a Service over repo and hasher.
func NewService(repo CredentialRepository, hasher PasswordHasher, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, oops.Errorf("credential repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	s := &Service{
		repo:   repo,
		hasher: hasher,
		policy: DefaultLockoutPolicy(),
		rules:  DefaultCredentialRules(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if s.now == nil {
		return nil, oops.Errorf("clock is required")
	}
	if s.policy.MaxAttempts == 0 || s.policy.Window <= 0 {
		return nil, oops.With("max_attempts", s.policy.MaxAttempts).
			With("window", s.policy.Window.String()).
			Errorf("lockout policy needs a positive threshold and window")
	}
	if s.gate == nil {
		s.gate = NewReadinessGate(hasher.Ready(), DefaultReadinessInterval, DefaultReadinessAttempts, s.logger)
	}
	return s, nil
}

// Policy returns the lockout policy in force.
func (s *Service) Policy() LockoutPolicy {
	return s.policy
}

// Initialize finishes store initialization and waits for the hash engine.
// It is safe to call again after it has succeeded.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.repo.Init(ctx); err != nil {
		errutil.LogErrorAt(ctx, s.logger, slog.LevelError, "credential store initialization failed", err)
		return err
	}
	if err := s.gate.AwaitReady(ctx); err != nil {
		errutil.LogErrorAt(ctx, s.logger, slog.LevelError, "hash engine not ready", err)
		return err
	}
	s.logger.InfoContext(ctx, "credential service initialized")
	return nil
}

// Register stores a new credential.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = NormalizeUsername(username)
	err := s.register(ctx, username, password)
	s.finish(ctx, OpRegister, username, err)
	return err
}

func (s *Service) register(ctx context.Context, username, password string) error {
	if err := s.rules.ValidateUsername(username); err != nil {
		return err
	}
	if err := s.rules.ValidatePassword(password); err != nil {
		return err
	}
	if err := s.gate.AwaitReady(ctx); err != nil {
		return err
	}

	existing, err := s.repo.Get(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return usernameTaken(username)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	rec, err := NewCredentialRecord(username, hash, s.now())
	if err != nil {
		return err
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			return usernameTaken(username)
		}
		return err
	}
	return nil
}

// Authenticate verifies a password and returns the normalized username.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, error) {
	username = NormalizeUsername(username)
	err := s.authenticate(ctx, username, password)
	s.finish(ctx, OpAuthenticate, username, err)
	if err != nil {
		return "", err
	}
	return username, nil
}

func (s *Service) authenticate(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return invalidInput("credentials", "Please enter both username and password.")
	}
	if err := s.gate.AwaitReady(ctx); err != nil {
		return err
	}

	rec, err := s.repo.Get(ctx, username)
	if err != nil {
		return err
	}
	if rec == nil {
		// Spend the same hashing time as a real verification.
		_, _ = s.hasher.Verify(password, s.dummy()) //nolint:errcheck // result is irrelevant
		return invalidCredentials()
	}

	now := s.now()
	if s.policy.IsLocked(rec, now) {
		return rateLimited(username, s.policy.RetryAfter(rec, now))
	}
	if s.policy.LockExpired(rec, now) {
		rec, err = s.repo.Mutate(ctx, username, func(r *CredentialRecord) error {
			if s.policy.LockExpired(r, now) {
				s.policy.OnLockExpiry(r)
				r.UpdatedAt = now.UTC()
			}
			return nil
		})
		if err != nil {
			return err
		}
		if s.policy.IsLocked(rec, now) {
			return rateLimited(username, s.policy.RetryAfter(rec, now))
		}
		s.logger.InfoContext(ctx, "lock expired", "username", username)
	}

	ok, err := s.hasher.Verify(password, rec.PasswordHash)
	if err != nil {
		if KindOf(err) == KindAvailability {
			return err
		}
		return StorageIOError("credential", "verify", err)
	}
	if !ok {
		return s.recordFailure(ctx, username, now)
	}
	return s.recordSuccess(ctx, username, password, rec.PasswordHash, now)
}

func (s *Service) recordFailure(ctx context.Context, username string, now time.Time) error {
	var lockedNow bool
	rec, err := s.repo.Mutate(ctx, username, func(r *CredentialRecord) error {
		wasLocked := s.policy.IsLocked(r, now)
		s.policy.OnFailure(r, now)
		r.UpdatedAt = now.UTC()
		lockedNow = !wasLocked && s.policy.IsLocked(r, now)
		return nil
	})
	if err != nil {
		return err
	}
	if lockedNow {
		s.metrics.recordLockout()
		s.logger.WarnContext(ctx, "account locked",
			"username", username,
			"failed_attempts", rec.FailedAttempts,
			"window", s.policy.Window)
	}
	return invalidCredentials()
}

func (s *Service) recordSuccess(ctx context.Context, username, password, verifiedHash string, now time.Time) error {
	var upgraded string
	if s.upgradeOnLogin && s.hasher.NeedsUpgrade(verifiedHash) {
		h, err := s.hasher.Hash(password)
		if err != nil {
			errutil.LogErrorAt(ctx, s.logger, slog.LevelWarn, "hash upgrade skipped", err)
		} else {
			upgraded = h
		}
	}

	_, err := s.repo.Mutate(ctx, username, func(r *CredentialRecord) error {
		// A concurrent failure may have locked the account since it was read.
		if s.policy.IsLocked(r, now) {
			return rateLimited(username, s.policy.RetryAfter(r, now))
		}
		s.policy.OnSuccess(r)
		if upgraded != "" && r.PasswordHash == verifiedHash {
			r.PasswordHash = upgraded
		}
		r.UpdatedAt = now.UTC()
		return nil
	})
	if err != nil {
		return err
	}
	if upgraded != "" {
		s.logger.InfoContext(ctx, "password hash upgraded", "username", username)
	}
	return nil
}

// IsLocked reports whether username is currently locked. Unknown usernames
// are never locked.
func (s *Service) IsLocked(ctx context.Context, username string) (bool, error) {
	status, err := s.status(ctx, username)
	s.finish(ctx, OpIsLocked, status.Username, err)
	if err != nil {
		return false, err
	}
	return status.Locked, nil
}

// AccountStatus describes the attempt history of one username.
type AccountStatus struct {
	Username       string
	Exists         bool
	Locked         bool
	FailedAttempts uint32
	LastAttemptAt  *time.Time
	RetryAfter     time.Duration
}

// Status reports the lock state and attempt history of username.
func (s *Service) Status(ctx context.Context, username string) (AccountStatus, error) {
	status, err := s.status(ctx, username)
	s.finish(ctx, OpStatus, status.Username, err)
	return status, err
}

func (s *Service) status(ctx context.Context, username string) (AccountStatus, error) {
	username = NormalizeUsername(username)
	status := AccountStatus{Username: username}
	if username == "" {
		return status, invalidInput("username", "Please enter a username.")
	}
	// No stored username contains rejected characters.
	if CheckUsernameCharacters(username) != nil {
		return status, nil
	}
	if err := s.gate.AwaitReady(ctx); err != nil {
		return status, err
	}
	rec, err := s.repo.Get(ctx, username)
	if err != nil || rec == nil {
		return status, err
	}
	return s.statusOf(rec, s.now()), nil
}

func (s *Service) statusOf(rec *CredentialRecord, now time.Time) AccountStatus {
	return AccountStatus{
		Username:       rec.Username,
		Exists:         true,
		Locked:         s.policy.IsLocked(rec, now),
		FailedAttempts: rec.FailedAttempts,
		LastAttemptAt:  rec.LastAttemptAt,
		RetryAfter:     s.policy.RetryAfter(rec, now),
	}
}

// ChangePassword replaces the password of username after verifying current
// through the regular lockout path.
func (s *Service) ChangePassword(ctx context.Context, username, current, next string) error {
	username = NormalizeUsername(username)
	err := s.changePassword(ctx, username, current, next)
	s.finish(ctx, OpChangePassword, username, err)
	return err
}

func (s *Service) changePassword(ctx context.Context, username, current, next string) error {
	if err := s.rules.ValidatePassword(next); err != nil {
		return err
	}
	if next == current {
		return invalidInput("password", "New password must differ from the current password.")
	}
	if err := s.authenticate(ctx, username, current); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	now := s.now()
	_, err = s.repo.Mutate(ctx, username, func(r *CredentialRecord) error {
		r.PasswordHash = hash
		r.UpdatedAt = now.UTC()
		return nil
	})
	return err
}

// Unlock clears the attempt history of username.
func (s *Service) Unlock(ctx context.Context, username string) error {
	username = NormalizeUsername(username)
	err := s.unlock(ctx, username)
	s.finish(ctx, OpUnlock, username, err)
	return err
}

func (s *Service) unlock(ctx context.Context, username string) error {
	if username == "" {
		return invalidInput("username", "Please enter a username.")
	}
	if err := CheckUsernameCharacters(username); err != nil {
		return err
	}
	if err := s.gate.AwaitReady(ctx); err != nil {
		return err
	}
	now := s.now()
	_, err := s.repo.Mutate(ctx, username, func(r *CredentialRecord) error {
		s.policy.OnSuccess(r)
		r.UpdatedAt = now.UTC()
		return nil
	})
	return err
}

// LockedAccounts lists the accounts that are locked right now, ordered by
// username.
func (s *Service) LockedAccounts(ctx context.Context) ([]AccountStatus, error) {
	if err := s.gate.AwaitReady(ctx); err != nil {
		return nil, err
	}
	now := s.now()
	recs, err := s.repo.ListLocked(ctx, s.policy.MaxAttempts, now.Add(-s.policy.Window))
	if err != nil {
		errutil.LogErrorAt(ctx, s.logger, slog.LevelError, "list locked accounts failed", err)
		return nil, err
	}
	out := make([]AccountStatus, 0, len(recs))
	for _, rec := range recs {
		if st := s.statusOf(rec, now); st.Locked {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// PasswordStrength rates a candidate password.
func (s *Service) PasswordStrength(password string) PasswordStrength {
	return EvaluatePassword(password)
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash = dummyPasswordHash
		if h, err := s.hasher.Hash("lockbox-unknown-user"); err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

// finish records metrics and logs the outcome of a public operation. Inputs
// and credential failures are expected traffic and stay below error level.
func (s *Service) finish(ctx context.Context, operation, username string, err error) {
	s.metrics.recordOperation(operation, err)
	username = loggableUsername(username)
	if err == nil {
		s.logger.DebugContext(ctx, "operation succeeded", "operation", operation, "username", username)
		return
	}
	logger := s.logger.With("operation", operation, "username", username)
	switch KindOf(err) {
	case KindInputValidation:
		errutil.LogErrorAt(ctx, logger, slog.LevelDebug, "request rejected", err)
	case KindAuthentication:
		errutil.LogErrorAt(ctx, logger, slog.LevelInfo, "authentication failed", err)
	case KindAvailability:
		errutil.LogErrorAt(ctx, logger, slog.LevelWarn, "dependency unavailable", err)
	default:
		errutil.LogErrorAt(ctx, logger, slog.LevelError, "operation failed", err)
	}
}

// invalidUsername stands in for usernames that failed character checks.
const invalidUsername = "<invalid>"

func loggableUsername(username string) string {
	if CheckUsernameCharacters(username) != nil {
		return invalidUsername
	}
	return username
}
