// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lockbox

import (
	"fmt"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/lockbox/internal/auth"
	"github.com/holomush/lockbox/internal/auth/redisstore"
	"github.com/holomush/lockbox/internal/logging"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the complete lockbox configuration.
type Config struct {
	Store       StoreConfig       `koanf:"store"`
	Lockout     LockoutConfig     `koanf:"lockout"`
	Hasher      HasherConfig      `koanf:"hasher"`
	Readiness   ReadinessConfig   `koanf:"readiness"`
	Credentials CredentialsConfig `koanf:"credentials"`
	Log         LogConfig         `koanf:"log"`
}

// StoreConfig selects and addresses the credential backend.
type StoreConfig struct {
	Backend       string `koanf:"backend"`
	DatabaseURL   string `koanf:"database_url"`
	AutoMigrate   bool   `koanf:"auto_migrate"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`
}

// LockoutConfig sets the brute-force threshold.
type LockoutConfig struct {
	MaxAttempts uint32        `koanf:"max_attempts"`
	Window      time.Duration `koanf:"window"`
}

// HasherConfig sets argon2id costs. A positive TargetDuration enables
// startup calibration of the time cost between MinTime and MaxTime.
type HasherConfig struct {
	MemoryKiB      uint32        `koanf:"memory_kib"`
	Threads        uint8         `koanf:"threads"`
	SaltLength     uint32        `koanf:"salt_length"`
	KeyLength      uint32        `koanf:"key_length"`
	MinTime        uint32        `koanf:"min_time"`
	MaxTime        uint32        `koanf:"max_time"`
	TargetDuration time.Duration `koanf:"target_duration"`
	UpgradeOnLogin bool          `koanf:"upgrade_on_login"`
}

// ReadinessConfig bounds how long operations wait for the hash engine.
type ReadinessConfig struct {
	Interval time.Duration `koanf:"interval"`
	Attempts int           `koanf:"attempts"`
}

// CredentialsConfig bounds what registration accepts.
type CredentialsConfig struct {
	MinUsernameLength int `koanf:"min_username_length"`
	MaxUsernameLength int `koanf:"max_username_length"`
	MinPasswordLength int `koanf:"min_password_length"`
	MaxPasswordLength int `koanf:"max_password_length"`
	MinPasswordScore  int `koanf:"min_password_score"`
}

// LogConfig controls log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DefaultConfig returns an in-memory configuration with the default policy.
func DefaultConfig() Config {
	argon := auth.DefaultArgon2Params()
	rules := auth.DefaultCredentialRules()
	return Config{
		Store: StoreConfig{
			Backend:     BackendMemory,
			RedisPrefix: redisstore.DefaultPrefix,
		},
		Lockout: LockoutConfig{
			MaxAttempts: auth.DefaultMaxAttempts,
			Window:      auth.DefaultLockoutWindow,
		},
		Hasher: HasherConfig{
			MemoryKiB:  argon.Memory,
			Threads:    argon.Threads,
			SaltLength: argon.SaltLen,
			KeyLength:  argon.KeyLen,
			MinTime:    argon.Time,
			MaxTime:    auth.DefaultMaxArgon2Time,
		},
		Readiness: ReadinessConfig{
			Interval: auth.DefaultReadinessInterval,
			Attempts: auth.DefaultReadinessAttempts,
		},
		Credentials: CredentialsConfig{
			MinUsernameLength: rules.MinUsernameLength,
			MaxUsernameLength: rules.MaxUsernameLength,
			MinPasswordLength: rules.MinPasswordLength,
			MaxPasswordLength: rules.MaxPasswordLength,
			MinPasswordScore:  rules.MinPasswordScore,
		},
		Log: LogConfig{Format: "json", Level: "info"},
	}
}

func invalid(field string, value any, msg string) error {
	return oops.Code("CONFIG_INVALID").In("config").With("field", field).With("value", value).Errorf("%s: %s", field, msg)
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return invalid("store.database_url", "", "required for the postgres backend")
		}
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return invalid("store.redis_addr", "", "required for the redis backend")
		}
	default:
		return invalid("store.backend", c.Store.Backend, "must be memory, postgres or redis")
	}
	if c.Store.AutoMigrate && c.Store.Backend != BackendPostgres {
		return invalid("store.auto_migrate", true, "only applies to the postgres backend")
	}

	if c.Lockout.MaxAttempts == 0 {
		return invalid("lockout.max_attempts", c.Lockout.MaxAttempts, "must be positive")
	}
	if c.Lockout.Window <= 0 {
		return invalid("lockout.window", c.Lockout.Window.String(), "must be positive")
	}

	h := c.Hasher
	switch {
	case h.MemoryKiB < 8*uint32(h.Threads) || h.Threads == 0:
		return invalid("hasher.memory_kib", h.MemoryKiB, "must be at least 8 KiB per thread with one or more threads")
	case h.SaltLength < 8:
		return invalid("hasher.salt_length", h.SaltLength, "must be at least 8 bytes")
	case h.KeyLength < 16:
		return invalid("hasher.key_length", h.KeyLength, "must be at least 16 bytes")
	case h.MinTime == 0:
		return invalid("hasher.min_time", h.MinTime, "must be positive")
	case h.MaxTime < h.MinTime:
		return invalid("hasher.max_time", h.MaxTime, "must not be below hasher.min_time")
	case h.TargetDuration < 0:
		return invalid("hasher.target_duration", h.TargetDuration.String(), "must not be negative")
	}

	if c.Readiness.Interval <= 0 {
		return invalid("readiness.interval", c.Readiness.Interval.String(), "must be positive")
	}
	if c.Readiness.Attempts <= 0 {
		return invalid("readiness.attempts", c.Readiness.Attempts, "must be positive")
	}

	cr := c.Credentials
	switch {
	case cr.MinUsernameLength < auth.DefaultMinUsernameLength:
		return invalid("credentials.min_username_length", cr.MinUsernameLength, fmt.Sprintf("must be at least %d", auth.DefaultMinUsernameLength))
	case cr.MaxUsernameLength < cr.MinUsernameLength:
		return invalid("credentials.max_username_length", cr.MaxUsernameLength, "must not be below the minimum")
	case cr.MinPasswordLength < auth.DefaultMinPasswordLength:
		return invalid("credentials.min_password_length", cr.MinPasswordLength, fmt.Sprintf("must be at least %d", auth.DefaultMinPasswordLength))
	case cr.MaxPasswordLength < cr.MinPasswordLength:
		return invalid("credentials.max_password_length", cr.MaxPasswordLength, "must not be below the minimum")
	case cr.MinPasswordScore < 0 || cr.MinPasswordScore > auth.MaxStrengthScore:
		return invalid("credentials.min_password_score", cr.MinPasswordScore, "must be between 0 and 5")
	}

	if !logging.ValidFormat(c.Log.Format) {
		return invalid("log.format", c.Log.Format, "must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	return nil
}

func (c Config) argon2Params() auth.Argon2Params {
	return auth.Argon2Params{
		Memory:  c.Hasher.MemoryKiB,
		Time:    c.Hasher.MinTime,
		Threads: c.Hasher.Threads,
		SaltLen: c.Hasher.SaltLength,
		KeyLen:  c.Hasher.KeyLength,
	}
}

func (c Config) lockoutPolicy() auth.LockoutPolicy {
	return auth.LockoutPolicy{MaxAttempts: c.Lockout.MaxAttempts, Window: c.Lockout.Window}
}

func (c Config) credentialRules() auth.CredentialRules {
	return auth.CredentialRules{
		MinUsernameLength: c.Credentials.MinUsernameLength,
		MaxUsernameLength: c.Credentials.MaxUsernameLength,
		MinPasswordLength: c.Credentials.MinPasswordLength,
		MaxPasswordLength: c.Credentials.MaxPasswordLength,
		MinPasswordScore:  c.Credentials.MinPasswordScore,
	}
}
