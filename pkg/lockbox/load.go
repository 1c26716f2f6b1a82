// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lockbox

import (
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// DatabaseURLEnv is read when no database URL is configured.
const DatabaseURLEnv = "DATABASE_URL"

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"store-backend":  "store.backend",
	"database-url":   "store.database_url",
	"auto-migrate":   "store.auto_migrate",
	"redis-addr":     "store.redis_addr",
	"redis-prefix":   "store.redis_prefix",
	"max-attempts":   "lockout.max_attempts",
	"lockout-window": "lockout.window",
	"log-format":     "log.format",
	"log-level":      "log.level",
}

// LoadConfig layers DefaultConfig, the YAML file at path (skipped when path
// is empty) and the flags in flags that were set explicitly, then validates
// the result.
func LoadConfig(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := DefaultConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").In("config").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").In("config").With("source", "flags").Wrap(err)
		}
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").In("config").With("operation", "decode").Wrap(err)
	}

	if cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = os.Getenv(DatabaseURLEnv)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BindFlags registers the flags LoadConfig understands on fs.
func BindFlags(fs *pflag.FlagSet) {
	def := DefaultConfig()
	fs.String("store-backend", def.Store.Backend, "credential store backend: memory, postgres or redis")
	fs.String("database-url", "", "PostgreSQL connection URL (defaults to $"+DatabaseURLEnv+")")
	fs.Bool("auto-migrate", false, "apply pending schema migrations on startup (postgres)")
	fs.String("redis-addr", "", "Redis address host:port")
	fs.String("redis-prefix", def.Store.RedisPrefix, "key prefix for the redis backend")
	fs.Uint32("max-attempts", def.Lockout.MaxAttempts, "failed attempts that lock an account")
	fs.Duration("lockout-window", def.Lockout.Window, "how long a locked account stays locked")
	fs.String("log-format", def.Log.Format, "log format: json or text")
	fs.String("log-level", def.Log.Level, "log level: debug, info, warn or error")
}
