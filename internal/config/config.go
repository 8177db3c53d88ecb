// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

// Package config loads Keystone settings from defaults, an optional YAML
// file, KEYSTONE_* environment variables, and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix is stripped from environment variable names. A double
// underscore separates key levels: KEYSTONE_TOKENS__ACCESS_TTL sets
// tokens.access_ttl.
const EnvPrefix = "KEYSTONE_"

// MemoryDatabaseURL selects the in-process store instead of PostgreSQL.
const MemoryDatabaseURL = "memory://"

// Reset store and mail transport choices.
const (
	ResetStorePostgres = "postgres"
	ResetStoreRedis    = "redis"

	MailTransportSMTP = "smtp"
	MailTransportLog  = "log"
)

// Config is the full service configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Tokens   TokensConfig   `koanf:"tokens"`
	Reset    ResetConfig    `koanf:"reset"`
	Redis    RedisConfig    `koanf:"redis"`
	Mail     MailConfig     `koanf:"mail"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig controls the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type TokensConfig struct {
	Secret        string        `koanf:"secret"`
	Issuer        string        `koanf:"issuer"`
	AccessTTL     time.Duration `koanf:"access_ttl"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl"`
	RotateRefresh bool          `koanf:"rotate_refresh"`
}

type ResetConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	BaseURL       string        `koanf:"base_url"`
	Store         string        `koanf:"store"`
	PurgeInterval time.Duration `koanf:"purge_interval"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type MailConfig struct {
	Transport string `koanf:"transport"`
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	From      string `koanf:"from"`
	Retries   int    `koanf:"retries"`
	QueueSize int    `koanf:"queue_size"`
}

func defaults() map[string]any {
	return map[string]any{
		"http.addr":             ":8080",
		"http.shutdown_timeout": 10 * time.Second,
		"metrics.addr":          "127.0.0.1:9100",
		"log.format":            "json",
		"log.level":             "info",
		"tokens.issuer":         "keystone",
		"tokens.access_ttl":     15 * time.Minute,
		"tokens.refresh_ttl":    7 * 24 * time.Hour,
		"tokens.rotate_refresh": false,
		"reset.ttl":             2 * time.Hour,
		"reset.base_url":        "http://localhost:3000/reset-password",
		"reset.store":           ResetStorePostgres,
		"reset.purge_interval":  time.Hour,
		"mail.transport":        MailTransportLog,
		"mail.port":             587,
		"mail.retries":          3,
		"mail.queue_size":       256,
	}
}

// RegisterFlags adds the flags Load understands to fs. Flag names are the
// config keys, so they override every other source when set.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http.addr", ":8080", "public API listen address")
	fs.String("metrics.addr", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
	fs.String("log.format", "json", "log format (json or text)")
	fs.String("log.level", "info", "log level (debug, info, warn, error)")
	fs.String("database.url", "", "PostgreSQL URL, or memory:// for an in-process store")
}

// LoadOptions selects the sources for Load.
type LoadOptions struct {
	// File is the YAML file to read. When Optional is set a missing file is
	// skipped instead of reported.
	File     string
	Optional bool
	// Flags, when non-nil, is read through posflag. Only flags the user set
	// take effect.
	Flags *pflag.FlagSet
	// SkipValidation returns the merged settings without calling Validate,
	// for commands that only need a subset such as database.url.
	SkipValidation bool
}

// Load builds a Config from every source and validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if opts.File != "" {
		if err := loadFile(k, opts.File, opts.Optional); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.Provider(opts.Flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "decode configuration")
	}
	if opts.SkipValidation {
		return &cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string, optional bool) error {
	if _, err := os.Stat(path); err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_LOAD_FAILED").With("file", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("file", path).Wrap(err)
	}
	return nil
}

func envKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	switch {
	case c.HTTP.Addr == "":
		return invalid("http.addr", "http.addr is required")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", "log.format must be json or text, got %q", c.Log.Format)
	case c.Database.URL == "":
		return invalid("database.url", "database.url is required")
	case c.Tokens.Secret == "":
		return invalid("tokens.secret", "tokens.secret is required")
	case c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0:
		return invalid("tokens", "token lifetimes must be positive")
	case c.Reset.TTL <= 0:
		return invalid("reset.ttl", "reset.ttl must be positive")
	case c.Reset.PurgeInterval < 0:
		return invalid("reset.purge_interval", "reset.purge_interval must not be negative")
	case c.Mail.Retries < 0:
		return invalid("mail.retries", "mail.retries must not be negative")
	}

	if u, err := url.Parse(c.Reset.BaseURL); err != nil || !u.IsAbs() {
		return invalid("reset.base_url", "reset.base_url must be an absolute URL")
	}

	switch c.Reset.Store {
	case ResetStorePostgres:
	case ResetStoreRedis:
		if c.Redis.URL == "" {
			return invalid("redis.url", "redis.url is required when reset.store is redis")
		}
	default:
		return invalid("reset.store", "reset.store must be postgres or redis, got %q", c.Reset.Store)
	}

	switch c.Mail.Transport {
	case MailTransportLog:
	case MailTransportSMTP:
		if c.Mail.Host == "" || c.Mail.From == "" {
			return invalid("mail", "mail.host and mail.from are required for smtp transport")
		}
	default:
		return invalid("mail.transport", "mail.transport must be smtp or log, got %q", c.Mail.Transport)
	}
	return nil
}

// InMemory reports whether the in-process store was selected.
func (c *Config) InMemory() bool {
	return c.Database.URL == MemoryDatabaseURL
}
