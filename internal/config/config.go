package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/loykin/taskctl/internal/env"
	"github.com/loykin/taskctl/internal/logger"
)

// File names inside the state directory.
const (
	DefaultConfigName = "config.toml"
	ToolLogName       = ".taskctl.log"
	HistoryDBName     = "history.db"
)

// Config is the tool configuration. StateDir and Path are resolved by Load;
// everything else comes from the TOML file or defaults.
type Config struct {
	StateDir string `mapstructure:"-"`
	Path     string `mapstructure:"-"` // config file that was read, "" when none

	Shell      string   `toml:"shell" mapstructure:"shell"`
	LogLevel   string   `toml:"log_level" mapstructure:"log_level"`
	LogColor   bool     `toml:"log_color" mapstructure:"log_color"`
	WatchLines int      `toml:"watch_lines" mapstructure:"watch_lines"`
	Env        []string `toml:"env" mapstructure:"env"`
	EnvFiles   []string `toml:"env_files" mapstructure:"env_files"`

	ToolLog ToolLogConfig `toml:"tool_log" mapstructure:"tool_log"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

type ToolLogConfig struct {
	MaxSizeMB  int  `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"` // "" means sqlite in the state directory
}

type MetricsConfig struct {
	Textfile string `toml:"textfile" mapstructure:"textfile"` // node exporter .prom path, "" disables
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("shell", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_color", true)
	v.SetDefault("watch_lines", 10)
	v.SetDefault("tool_log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("tool_log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("tool_log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("tool_log.compress", false)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.textfile", "")
}

// DefaultStateDir returns ~/.taskctl.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".taskctl"), nil
}

// Load reads the TOML config at path over the defaults. An empty path means
// <stateDir>/config.toml, which may be absent; an explicit path must exist.
func Load(stateDir, path string) (*Config, error) {
	if stateDir == "" {
		return nil, errors.New("state directory is required")
	}
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(stateDir, DefaultConfigName)
	}
	read := false
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		read = true
	} else if explicit {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.StateDir = filepath.Clean(stateDir)
	if read {
		c.Path = path
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.WatchLines <= 0 {
		return fmt.Errorf("watch_lines must be positive, got %d", c.WatchLines)
	}
	for _, kv := range c.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("env entry %q is not KEY=VALUE", kv)
		}
	}
	return nil
}

// ToolLogPath is where the tool's own JSON diagnostics are written.
func (c *Config) ToolLogPath() string { return filepath.Join(c.StateDir, ToolLogName) }

// HistoryDSN returns the history sink DSN, or "" when history is disabled.
func (c *Config) HistoryDSN() string {
	if !c.History.Enabled {
		return ""
	}
	if c.History.DSN != "" {
		return c.History.DSN
	}
	return "sqlite://" + filepath.Join(c.StateDir, HistoryDBName)
}

// Logger returns the logger configuration for the tool, with console output on stderr.
func (c *Config) Logger(stderr io.Writer) logger.Config {
	level, _ := logger.ParseLevel(c.LogLevel)
	return logger.Config{
		Level:       level,
		StderrLevel: max(level, logger.ConsoleLevel),
		Color:       c.LogColor,
		Stderr:      stderr,
		File: logger.FileConfig{
			Path:       c.ToolLogPath(),
			MaxSizeMB:  c.ToolLog.MaxSizeMB,
			MaxBackups: c.ToolLog.MaxBackups,
			MaxAgeDays: c.ToolLog.MaxAgeDays,
			Compress:   c.ToolLog.Compress,
		},
	}
}

// TaskEnv returns the KEY=VALUE pairs configured for launched tasks:
// env_files in order, then env entries, later entries winning.
// ${VAR} references are left for the launcher to expand.
func (c *Config) TaskEnv() ([]string, error) {
	base := c.StateDir
	if c.Path != "" {
		base = filepath.Dir(c.Path)
	}
	var out []string
	for _, p := range c.EnvFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		vars, err := env.LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file: %w", err)
		}
		keys := make([]string, 0, len(vars))
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, k+"="+vars[k])
		}
	}
	return append(out, c.Env...), nil
}
