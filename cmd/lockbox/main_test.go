// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/lockbox/internal/store"
	"github.com/holomush/lockbox/pkg/errutil"
	"github.com/holomush/lockbox/pkg/lockbox"
)

// run executes the CLI and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// seedRedis registers alice and bob in a fresh miniredis and locks alice.
func seedRedis(t *testing.T) string {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := lockbox.DefaultConfig()
	cfg.Store.Backend = lockbox.BackendRedis
	cfg.Store.RedisAddr = mr.Addr()
	cfg.Hasher.MemoryKiB = 1024
	cfg.Hasher.Threads = 1
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx := context.Background()
	v, err := lockbox.Open(ctx, cfg, lockbox.WithLogger(logger))
	require.NoError(t, err)
	defer v.Close()
	require.NoError(t, v.Initialize(ctx))
	require.NoError(t, v.Register(ctx, "alice", "correct-horse-9"))
	require.NoError(t, v.Register(ctx, "bob", "battery-staple-7"))
	for range 5 {
		_, err := v.Authenticate(ctx, "alice", "wrong")
		require.ErrorIs(t, err, lockbox.ErrInvalidCredentials)
	}
	_, err = v.Authenticate(ctx, "bob", "wrong")
	require.ErrorIs(t, err, lockbox.ErrInvalidCredentials)
	return mr.Addr()
}

func redisArgs(addr string, args ...string) []string {
	return append([]string{"--store-backend=redis", "--redis-addr=" + addr}, args...)
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	out, _, err := run(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"migrate", "status", "unlock", "locked", "serve"} {
		assert.Contains(t, out, sub, "help missing %q command", sub)
	}
	for _, flag := range []string{"--config", "--log-format", "--store-backend"} {
		assert.Contains(t, out, flag)
	}
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	_, _, err := run(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "locked")
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestRootCommand_ConfigFileSelectsBackend(t *testing.T) {
	addr := seedRedis(t)
	path := filepath.Join(t.TempDir(), "lockbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: redis\n  redis_addr: "+addr+"\n"), 0o600))

	out, _, err := run(t, "--config", path, "locked")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
}

func TestRootCommand_DefaultConfigFile(t *testing.T) {
	addr := seedRedis(t)
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "lockbox"), 0o700))
	yaml := "store:\n  backend: redis\n  redis_addr: " + addr + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(base, "lockbox", "config.yaml"), []byte(yaml), 0o600))

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"locked"})
	t.Setenv("XDG_CONFIG_HOME", base)

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "alice")
}

func TestStatusCommand(t *testing.T) {
	addr := seedRedis(t)

	out, _, err := run(t, redisArgs(addr, "status", "alice")...)
	require.NoError(t, err)
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "alice")

	out, _, err = run(t, redisArgs(addr, "status", "--json", "bob")...)
	require.NoError(t, err)
	var report AccountReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "bob", report.Username)
	assert.True(t, report.Exists)
	assert.False(t, report.Locked)
	assert.Equal(t, uint32(1), report.FailedAttempts)

	out, _, err = run(t, redisArgs(addr, "status", "--json", "nobody")...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Exists)
}

func TestStatusCommand_RequiresUsername(t *testing.T) {
	_, _, err := run(t, "status")
	require.Error(t, err)
}

func TestLockedAndUnlockCommands(t *testing.T) {
	addr := seedRedis(t)

	out, _, err := run(t, redisArgs(addr, "locked", "--json")...)
	require.NoError(t, err)
	var reports []AccountReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "alice", reports[0].Username)
	assert.Positive(t, reports[0].RetryAfterSeconds)

	out, _, err = run(t, redisArgs(addr, "unlock", "alice")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Unlocked alice")

	out, _, err = run(t, redisArgs(addr, "locked")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No locked accounts")
}

func TestUnlockCommand_UnknownUser(t *testing.T) {
	addr := seedRedis(t)
	_, _, err := run(t, redisArgs(addr, "unlock", "ghost")...)
	require.ErrorIs(t, err, lockbox.ErrRecordNotFound)
}

func TestCommands_UnreachableStore(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, logs, err := run(t, redisArgs(addr, "--log-format=text", "locked")...)
	require.ErrorIs(t, err, lockbox.ErrStoreUnavailable)
	assert.Contains(t, logs, "credential store initialization failed")
}

func TestMigrateCommand_RequiresDatabaseURL(t *testing.T) {
	t.Setenv(lockbox.DatabaseURLEnv, "")
	_, _, err := run(t, "migrate")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "field", "store.database_url")
}

func TestMigrateForceCommand_RejectsBadVersion(t *testing.T) {
	_, _, err := run(t, "migrate", "force", "abc")
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
}

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     int
		wantCode string
	}{
		{name: "integer", input: "2", want: 2},
		{name: "zero", input: "0", want: 0},
		{name: "leading whitespace", input: "  1", want: 1},
		{name: "trailing characters ignored", input: "2abc", want: 2},
		{name: "non-numeric", input: "abc", wantCode: "INVALID_VERSION"},
		{name: "empty", input: "", wantCode: "INVALID_VERSION"},
		{name: "whitespace only", input: "   ", wantCode: "INVALID_VERSION"},
		{name: "negative", input: "-1", wantCode: "INVALID_VERSION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseForceVersion(tt.input)
			if tt.wantCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMigrationStatus(t *testing.T) {
	out := formatMigrationStatus(store.Status{Current: 1, Applied: []uint{1}, Pending: []uint{2}})
	assert.Contains(t, out, "Current version: 1\n")
	assert.Contains(t, out, "000002_attempt_indexes")

	out = formatMigrationStatus(store.Status{Current: 2, Dirty: true, Applied: []uint{1, 2}})
	assert.Contains(t, out, "Current version: 2 (dirty)")
	assert.Contains(t, out, "No pending migrations")
}
