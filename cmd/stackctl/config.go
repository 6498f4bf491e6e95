package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Project  ProjectConfig  `mapstructure:"project"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Labels   LabelsConfig   `mapstructure:"labels"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ProjectConfig selects the compose files that make up the project.
type ProjectConfig struct {
	Name       string   `mapstructure:"name"`
	Files      []string `mapstructure:"files"` // empty discovers compose.yaml and friends
	WorkingDir string   `mapstructure:"working_dir"`
	Profiles   []string `mapstructure:"profiles"`
	EnvFiles   []string `mapstructure:"env_files"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LabelsConfig holds the label namespace written on every resource.
type LabelsConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig holds the lifecycle journal configuration.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Keep    int    `mapstructure:"keep"` // runs kept per project
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // empty disables
}

// ProgressConfig controls the progress lines written to stderr.
type ProgressConfig struct {
	Color   string `mapstructure:"color"`
	Verbose bool   `mapstructure:"verbose"`
}

// Flag names bound into the config, keyed by config key.
var flagBindings = map[string]string{
	"project.name":        "project-name",
	"project.files":       "file",
	"project.working_dir": "project-directory",
	"project.profiles":    "profile",
	"project.env_files":   "env-file",
	"log.level":           "log-level",
	"progress.verbose":    "verbose",
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from defaults, an optional file, the
// environment and flags, in increasing order of precedence. flags may be nil.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("project.name", "")
	v.SetDefault("project.files", []string{})
	v.SetDefault("project.working_dir", "")
	v.SetDefault("project.profiles", []string{})
	v.SetDefault("project.env_files", []string{})
	v.SetDefault("docker.host", "")
	v.SetDefault("labels.prefix", "io.stackctl.compose")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", filepath.Join(defaultStateDir(), "journal.db"))
	v.SetDefault("store.keep", 200)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("progress.color", "auto")
	v.SetDefault("progress.verbose", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("stackctl")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "stackctl"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigParseError); ok {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if configPath != "" {
			if _, statErr := os.Stat(configPath); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			return nil, fmt.Errorf("config file %s not found", configPath)
		}
		// No discovered file is fine, defaults apply.
	}

	v.SetEnvPrefix("STACKCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// defaultStateDir follows the XDG base directory layout.
func defaultStateDir() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "stackctl")
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "stackctl")
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a stderr logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
