// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lockbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/lockbox/pkg/errutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lockbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadConfig_DefaultsOnly(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "")
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: redis
  redis_addr: cache:6379
lockout:
  max_attempts: 3
  window: 10m
hasher:
  target_duration: 250ms
  upgrade_on_login: true
credentials:
  min_password_score: 3
log:
  format: text
`)
	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "cache:6379", cfg.Store.RedisAddr)
	assert.Equal(t, uint32(3), cfg.Lockout.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Lockout.Window)
	assert.Equal(t, 250*time.Millisecond, cfg.Hasher.TargetDuration)
	assert.True(t, cfg.Hasher.UpgradeOnLogin)
	assert.Equal(t, 3, cfg.Credentials.MinPasswordScore)
	assert.Equal(t, "text", cfg.Log.Format)

	def := DefaultConfig()
	assert.Equal(t, def.Store.RedisPrefix, cfg.Store.RedisPrefix, "keys absent from the file keep defaults")
	assert.Equal(t, def.Hasher.MemoryKiB, cfg.Hasher.MemoryKiB)
	assert.Equal(t, def.Readiness, cfg.Readiness)
}

func TestLoadConfig_ChangedFlagsWin(t *testing.T) {
	path := writeConfig(t, `
lockout:
  max_attempts: 3
log:
  format: text
`)
	flags := newFlags(t, "--max-attempts=7", "--lockout-window=1h")

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), cfg.Lockout.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Lockout.Window)
	assert.Equal(t, "text", cfg.Log.Format, "unchanged flag defaults never override the file")
}

func TestLoadConfig_DatabaseURLFromEnvironment(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "postgres://env@db/lockbox")
	flags := newFlags(t, "--store-backend=postgres")

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://env@db/lockbox", cfg.Store.DatabaseURL)
}

func TestLoadConfig_ConfiguredURLBeatsEnvironment(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "postgres://env@db/lockbox")
	flags := newFlags(t, "--store-backend=postgres", "--database-url=postgres://flag@db/lockbox")

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag@db/lockbox", cfg.Store.DatabaseURL)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "store: [unclosed\n")
	_, err := LoadConfig(path, nil)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestLoadConfig_ResultIsValidated(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "")
	flags := newFlags(t, "--store-backend=postgres")
	_, err := LoadConfig("", flags)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "field", "store.database_url")
}
