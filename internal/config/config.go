package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Chitter configuration
type Config struct {
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Conflicts    ConflictsConfig    `mapstructure:"conflicts"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Paths        PathsConfig        `mapstructure:"paths"`
}

// CoordinationConfig controls how spawn attempts are gated
type CoordinationConfig struct {
	// Mode is the execution policy applied to spawn attempts
	// Options: "track", "nudge", "block", "sequential", "queue"
	Mode string `mapstructure:"mode"`
	// MaxConcurrent is the advisory ceiling on simultaneously running agents
	// per workflow (0 = no ceiling). Exceeding it attaches a warning to the
	// gating result; it never blocks on its own.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// IdleTimeoutMinutes reclaims a workflow whose sole running agent never
	// signaled completion. The agent is marked blocked and the slot freed.
	// 0 disables reclaim.
	IdleTimeoutMinutes int `mapstructure:"idle_timeout_minutes"`
	// WorkflowMaxAgeHours is how long workflow state is kept before cleanup
	// deletes it (default: 24, matching one working day of sessions)
	WorkflowMaxAgeHours int `mapstructure:"workflow_max_age_hours"`
}

// ConflictsConfig controls conflict detection during review
type ConflictsConfig struct {
	// IgnorePatterns are glob patterns for file paths excluded from
	// file-overlap detection (e.g., "*.lock", "go.sum"). Two agents both
	// touching an ignored path are not flagged.
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
}

// LoggingConfig controls the shared chitter.log
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// PathsConfig controls where Chitter stores state
type PathsConfig struct {
	// StateDir is the directory holding workflow records, the decision log,
	// context caches, and chitter.log. Defaults to ~/.chitter.
	// Supports ~ for home directory expansion.
	StateDir string `mapstructure:"state_dir"`
}

// ValidModes returns the list of valid coordination mode values
func ValidModes() []string {
	return []string{"track", "nudge", "block", "sequential", "queue"}
}

// IsValidMode checks if the given mode is valid
func IsValidMode(mode string) bool {
	for _, valid := range ValidModes() {
		if mode == valid {
			return true
		}
	}
	return false
}

// IdleTimeout returns the idle reclaim timeout as a time.Duration (0 means disabled)
func (c *CoordinationConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

// WorkflowMaxAge returns the retention window as a time.Duration
func (c *CoordinationConfig) WorkflowMaxAge() time.Duration {
	return time.Duration(c.WorkflowMaxAgeHours) * time.Hour
}

// ResolveStateDir returns the resolved state directory path.
// If StateDir is empty, it defaults to ~/.chitter. A leading ~ expands to
// the user's home directory.
func (p *PathsConfig) ResolveStateDir() string {
	path := p.StateDir
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".chitter"
		}
		return filepath.Join(home, ".chitter")
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Coordination: CoordinationConfig{
			Mode:                "nudge",
			MaxConcurrent:       0,  // No ceiling by default
			IdleTimeoutMinutes:  30, // Reclaim agents silent for half an hour
			WorkflowMaxAgeHours: 24,
		},
		Conflicts: ConflictsConfig{
			IgnorePatterns: []string{},
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Paths: PathsConfig{
			StateDir: "", // Empty means use default: ~/.chitter
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("coordination.mode", defaults.Coordination.Mode)
	viper.SetDefault("coordination.max_concurrent", defaults.Coordination.MaxConcurrent)
	viper.SetDefault("coordination.idle_timeout_minutes", defaults.Coordination.IdleTimeoutMinutes)
	viper.SetDefault("coordination.workflow_max_age_hours", defaults.Coordination.WorkflowMaxAgeHours)

	viper.SetDefault("conflicts.ignore_patterns", defaults.Conflicts.IgnorePatterns)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
}

// Load reads the configuration from viper into a Config struct.
//
// An invalid coordination mode is not fatal: Chitter must never refuse to
// gate because of a config typo. The mode is reset to the default and the
// warning is reported through the second return value so the caller can
// log it once.
func Load() (*Config, []string) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Default(), []string{"config unreadable, using defaults: " + err.Error()}
	}

	var warnings []string
	if !IsValidMode(cfg.Coordination.Mode) {
		warnings = append(warnings,
			fmt.Sprintf("unknown coordination.mode %q, falling back to %s", cfg.Coordination.Mode, Default().Coordination.Mode))
		cfg.Coordination.Mode = Default().Coordination.Mode
	}
	if cfg.Coordination.MaxConcurrent < 0 {
		warnings = append(warnings, "coordination.max_concurrent cannot be negative, using 0")
		cfg.Coordination.MaxConcurrent = 0
	}
	if cfg.Coordination.IdleTimeoutMinutes < 0 {
		warnings = append(warnings, "coordination.idle_timeout_minutes cannot be negative, disabling reclaim")
		cfg.Coordination.IdleTimeoutMinutes = 0
	}
	if cfg.Coordination.WorkflowMaxAgeHours <= 0 {
		cfg.Coordination.WorkflowMaxAgeHours = Default().Coordination.WorkflowMaxAgeHours
	}

	return &cfg, warnings
}

// Get returns the current configuration, falling back to defaults if
// unmarshaling fails. Warnings are discarded; use Load when they matter.
func Get() *Config {
	cfg, _ := Load()
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chitter")
	}
	// Fall back to ~/.config/chitter
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chitter"
	}
	return filepath.Join(home, ".config", "chitter")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
