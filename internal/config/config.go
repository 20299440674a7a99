// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads host configuration from modhost.yaml and
// command-line flags.
//
// Precedence, lowest first: built-in defaults, the config file, flags the
// user set explicitly.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/modhost/internal/logging"
	"github.com/holomush/modhost/internal/plugin"
	"github.com/holomush/modhost/internal/xdg"
)

// Config keys.
const (
	KeyPluginsDir          = "plugins_dir"
	KeyLogFormat           = "log_format"
	KeyLogLevel            = "log_level"
	KeyMetricsAddr         = "metrics_addr"
	KeyHostAPIVersion      = "host_api_version"
	KeyEnforceCapabilities = "enforce_capabilities"
	KeyAutoload            = "autoload"
	KeyProcessStartRetries = "process_start_retries"
)

// Default values.
const (
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = "127.0.0.1:9100"

	DefaultProcessStartRetries = 2
)

// Config is the host configuration.
type Config struct {
	// PluginsDir holds one directory per plugin, each with a plugin.yaml.
	PluginsDir string `koanf:"plugins_dir"`
	// LogFormat is json or text.
	LogFormat string `koanf:"log_format"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `koanf:"log_level"`
	// MetricsAddr is the observability listen address; empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`
	// HostAPIVersion is checked against plugin host_api constraints.
	HostAPIVersion string `koanf:"host_api_version"`
	// EnforceCapabilities restricts plugins to their declared capabilities.
	EnforceCapabilities bool `koanf:"enforce_capabilities"`
	// Autoload loads every discovered plugin at startup.
	Autoload bool `koanf:"autoload"`
	// ProcessStartRetries is how many more times a process plugin's
	// handshake is attempted after a failure.
	ProcessStartRetries int `koanf:"process_start_retries"`
}

// Defaults returns the built-in configuration.
func Defaults() (Config, error) {
	pluginsDir, err := xdg.PluginsDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		PluginsDir:          pluginsDir,
		LogFormat:           DefaultLogFormat,
		LogLevel:            DefaultLogLevel,
		MetricsAddr:         DefaultMetricsAddr,
		HostAPIVersion:      plugin.HostAPIVersion,
		EnforceCapabilities: true,
		Autoload:            true,
		ProcessStartRetries: DefaultProcessStartRetries,
	}, nil
}

// RegisterFlags adds a flag for every config key to fs. Flag defaults are
// only shown in help; unset flags never override the config file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(flagName(KeyPluginsDir), "", "plugin directory (default: XDG_DATA_HOME/modhost/plugins)")
	fs.String(flagName(KeyLogFormat), DefaultLogFormat, "log format (json or text)")
	fs.String(flagName(KeyLogLevel), DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String(flagName(KeyMetricsAddr), DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String(flagName(KeyHostAPIVersion), plugin.HostAPIVersion, "host API version plugins are checked against")
	fs.Bool(flagName(KeyEnforceCapabilities), true, "restrict plugins to the capabilities they declare")
	fs.Bool(flagName(KeyAutoload), true, "load every discovered plugin at startup")
	fs.Int(flagName(KeyProcessStartRetries), DefaultProcessStartRetries, "handshake retries for process plugins")
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func keyName(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

var knownKeys = map[string]bool{
	KeyPluginsDir:          true,
	KeyLogFormat:           true,
	KeyLogLevel:            true,
	KeyMetricsAddr:         true,
	KeyHostAPIVersion:      true,
	KeyEnforceCapabilities: true,
	KeyAutoload:            true,
	KeyProcessStartRetries: true,
}

// Load builds the configuration.
//
// path names the config file. If explicit is false a missing file is not an
// error, so the default location may simply be absent. flags may be nil.
func Load(path string, explicit bool, flags *pflag.FlagSet) (*Config, error) {
	defaults, err := Defaults()
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	for key, val := range map[string]any{
		KeyPluginsDir:          defaults.PluginsDir,
		KeyLogFormat:           defaults.LogFormat,
		KeyLogLevel:            defaults.LogLevel,
		KeyMetricsAddr:         defaults.MetricsAddr,
		KeyHostAPIVersion:      defaults.HostAPIVersion,
		KeyEnforceCapabilities: defaults.EnforceCapabilities,
		KeyAutoload:            defaults.Autoload,
		KeyProcessStartRetries: defaults.ProcessStartRetries,
	} {
		if err := k.Set(key, val); err != nil {
			return nil, oops.In("config").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := loadFile(k, path, explicit); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key := keyName(f.Name)
			if !knownKeys[key] {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Wrapf(err, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string, explicit bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return oops.In("config").With("path", path).Wrapf(err, "config file")
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.In("config").With("path", path).Wrapf(err, "parse config file")
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.PluginsDir == "" {
		return oops.In("config").With("key", KeyPluginsDir).Errorf("plugins_dir is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.In("config").With("key", KeyLogFormat).Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return oops.In("config").With("key", KeyLogLevel).Wrap(err)
	}
	if c.ProcessStartRetries < 0 {
		return oops.In("config").With("key", KeyProcessStartRetries).Errorf("process_start_retries must not be negative, got %d", c.ProcessStartRetries)
	}
	if _, err := semver.NewVersion(c.HostAPIVersion); err != nil {
		return oops.In("config").With("key", KeyHostAPIVersion).Wrapf(err, "host_api_version %q", c.HostAPIVersion)
	}
	return nil
}

// HostAPI returns the parsed host API version. Call after Validate.
func (c *Config) HostAPI() *semver.Version {
	v, err := semver.NewVersion(c.HostAPIVersion)
	if err != nil {
		return semver.MustParse(plugin.HostAPIVersion)
	}
	return v
}

// Logging returns the logging options.
func (c *Config) Logging() logging.Options {
	return logging.Options{Format: c.LogFormat, Level: c.LogLevel}
}
