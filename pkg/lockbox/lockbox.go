// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lockbox is the embedding API for the lockbox credential store.
//
// Open builds a Vault from a Config: the configured backend, an argon2id
// hash engine that may calibrate in the background, the readiness gate
// in front of it and the lockout policy. Callers then run Initialize once
// before serving Register and Authenticate.
//
//	vault, err := lockbox.Open(ctx, lockbox.DefaultConfig())
//	if err != nil { ... }
//	defer vault.Close()
//	if err := vault.Initialize(ctx); err != nil { ... }
//	user, err := vault.Authenticate(ctx, "alice", password)
package lockbox

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/lockbox/internal/auth"
	"github.com/holomush/lockbox/internal/auth/memory"
	"github.com/holomush/lockbox/internal/auth/postgres"
	"github.com/holomush/lockbox/internal/auth/redisstore"
	"github.com/holomush/lockbox/internal/store"
)

// Vault is an opened credential store. It is safe for concurrent use.
type Vault struct {
	cfg     Config
	svc     *auth.Service
	hasher  *auth.Argon2idHasher
	gate    *auth.ReadinessGate
	logger  *slog.Logger
	cancel  context.CancelFunc
	closers []func()

	closeOnce sync.Once
}

type openOptions struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	clock      func() time.Time
	redis      redis.UniversalClient
}

// Option configures Open.
type Option func(*openOptions)

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *openOptions) { o.logger = logger }
}

// WithRegisterer registers the lockbox metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *openOptions) { o.registerer = reg }
}

// WithClock replaces time.Now for lockout decisions.
func WithClock(now func() time.Time) Option {
	return func(o *openOptions) { o.clock = now }
}

// WithRedisClient makes the redis backend use client instead of dialing
// store.redis_addr. The Vault does not close it.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *openOptions) { o.redis = client }
}

// Open validates cfg and assembles a Vault. It does not contact the store;
// Initialize does.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := openOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		return nil, oops.Errorf("logger is required")
	}

	metrics, err := auth.NewMetrics(o.registerer)
	if err != nil {
		return nil, err
	}

	v := &Vault{cfg: cfg, logger: o.logger}
	repo, err := v.openBackend(ctx, o)
	if err != nil {
		v.release()
		return nil, err
	}

	hasherOpts := []auth.HasherOption{
		auth.WithArgon2Params(cfg.argon2Params()),
		auth.WithHasherLogger(o.logger),
		auth.WithHasherMetrics(metrics),
	}
	if cfg.Hasher.TargetDuration > 0 {
		hasherOpts = append(hasherOpts, auth.WithCalibration(cfg.Hasher.TargetDuration, cfg.Hasher.MaxTime))
	}
	v.hasher = auth.NewArgon2idHasher(hasherOpts...)

	// Calibration outlives the caller's ctx and stops at Close.
	calibrationCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v.cancel = cancel
	v.hasher.Start(calibrationCtx)

	v.gate = auth.NewReadinessGate(v.hasher.Ready(), cfg.Readiness.Interval, cfg.Readiness.Attempts, o.logger)
	serviceOpts := []auth.ServiceOption{
		auth.WithLogger(o.logger),
		auth.WithMetrics(metrics),
		auth.WithLockoutPolicy(cfg.lockoutPolicy()),
		auth.WithCredentialRules(cfg.credentialRules()),
		auth.WithReadinessChecker(v.gate),
		auth.WithHashUpgrade(cfg.Hasher.UpgradeOnLogin),
	}
	if o.clock != nil {
		serviceOpts = append(serviceOpts, auth.WithClock(o.clock))
	}
	svc, err := auth.NewService(repo, v.hasher, serviceOpts...)
	if err != nil {
		v.release()
		return nil, err
	}
	v.svc = svc

	o.logger.InfoContext(ctx, "lockbox opened",
		"backend", cfg.Store.Backend,
		"max_attempts", cfg.Lockout.MaxAttempts,
		"window", cfg.Lockout.Window)
	return v, nil
}

func (v *Vault) openBackend(ctx context.Context, o openOptions) (auth.CredentialRepository, error) {
	sc := v.cfg.Store
	switch sc.Backend {
	case BackendPostgres:
		if sc.AutoMigrate {
			if err := store.MigrateUp(sc.DatabaseURL, o.logger); err != nil {
				return nil, err
			}
		}
		pool, err := pgxpool.New(ctx, sc.DatabaseURL)
		if err != nil {
			return nil, auth.StoreInitError(BackendPostgres, err)
		}
		v.closers = append(v.closers, pool.Close)
		return postgres.NewCredentialRepository(pool), nil

	case BackendRedis:
		client := o.redis
		if client == nil {
			c := redis.NewClient(&redis.Options{
				Addr:     sc.RedisAddr,
				Password: sc.RedisPassword,
				DB:       sc.RedisDB,
			})
			v.closers = append(v.closers, func() {
				if err := c.Close(); err != nil {
					v.logger.Warn("closing redis client", "error", err)
				}
			})
			client = c
		}
		return redisstore.NewRepository(client, redisstore.WithPrefix(sc.RedisPrefix)), nil

	default:
		return memory.NewRepository(), nil
	}
}

// Close stops calibration and releases backend connections.
func (v *Vault) Close() error {
	v.closeOnce.Do(v.release)
	return nil
}

func (v *Vault) release() {
	if v.cancel != nil {
		v.cancel()
	}
	if v.hasher != nil {
		v.hasher.Wait()
	}
	for _, c := range slices.Backward(v.closers) {
		c()
	}
	v.closers = nil
}

// Config returns the configuration the Vault was opened with.
func (v *Vault) Config() Config {
	return v.cfg
}

// Ready reports, without blocking, whether the hash engine is ready.
func (v *Vault) Ready() bool {
	return v.gate.Ready()
}

// Initialize prepares the store and waits, within the readiness bounds, for
// the hash engine.
func (v *Vault) Initialize(ctx context.Context) error {
	return v.svc.Initialize(ctx)
}

// Register stores a new credential for username.
func (v *Vault) Register(ctx context.Context, username, password string) error {
	return v.svc.Register(ctx, username, password)
}

// Authenticate verifies a password and returns the normalized username.
func (v *Vault) Authenticate(ctx context.Context, username, password string) (string, error) {
	return v.svc.Authenticate(ctx, username, password)
}

// IsLocked reports whether username is locked now.
func (v *Vault) IsLocked(ctx context.Context, username string) (bool, error) {
	return v.svc.IsLocked(ctx, username)
}

// Status describes the lockout state of username.
func (v *Vault) Status(ctx context.Context, username string) (AccountStatus, error) {
	return v.svc.Status(ctx, username)
}

// ChangePassword replaces the password of username after checking current.
func (v *Vault) ChangePassword(ctx context.Context, username, current, next string) error {
	return v.svc.ChangePassword(ctx, username, current, next)
}

// Unlock clears the failed attempts of username.
func (v *Vault) Unlock(ctx context.Context, username string) error {
	return v.svc.Unlock(ctx, username)
}

// LockedAccounts lists the accounts locked now.
func (v *Vault) LockedAccounts(ctx context.Context) ([]AccountStatus, error) {
	return v.svc.LockedAccounts(ctx)
}

// PasswordStrength scores password.
func (v *Vault) PasswordStrength(password string) PasswordStrength {
	return v.svc.PasswordStrength(password)
}
