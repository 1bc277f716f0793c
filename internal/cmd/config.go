package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/chitter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Chitter configuration",
	Long: `View and modify Chitter configuration.

Configuration is read from ` + "`~/.config/chitter/config.yaml`" + ` (or
$XDG_CONFIG_HOME/chitter/config.yaml) and can be overridden with
CHITTER_* environment variables, e.g. CHITTER_COORDINATION_MODE=block.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value and write it to the config file.

Examples:
  chitter config set coordination.mode sequential
  chitter config set coordination.max_concurrent 3
  chitter config set conflicts.ignore_patterns "*.lock,go.sum"
  chitter config set logging.enabled false`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.ConfigFile())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// validConfigKeys maps each settable key to a validator that converts the
// raw string into the value stored in the config file.
var validConfigKeys = map[string]func(string) (interface{}, error){
	"coordination.mode": func(v string) (interface{}, error) {
		if !config.IsValidMode(v) {
			return nil, fmt.Errorf("invalid mode %q (valid: %s)", v, strings.Join(config.ValidModes(), ", "))
		}
		return v, nil
	},
	"coordination.max_concurrent": func(v string) (interface{}, error) {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("must be a non-negative integer, got %q", v)
		}
		return n, nil
	},
	"coordination.idle_timeout_minutes": func(v string) (interface{}, error) {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("must be a non-negative integer, got %q", v)
		}
		return n, nil
	},
	"coordination.workflow_max_age_hours": func(v string) (interface{}, error) {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("must be a positive integer, got %q", v)
		}
		return n, nil
	},
	"conflicts.ignore_patterns": func(v string) (interface{}, error) {
		if v == "" {
			return []string{}, nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	},
	"logging.enabled": func(v string) (interface{}, error) {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("must be true or false, got %q", v)
		}
		return b, nil
	},
	"logging.level": func(v string) (interface{}, error) {
		switch v {
		case "debug", "info", "warn", "error":
			return v, nil
		}
		return nil, fmt.Errorf("invalid level %q (valid: debug, info, warn, error)", v)
	},
	"paths.state_dir": func(v string) (interface{}, error) {
		return v, nil
	},
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, warnings := config.Load()
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	validate, ok := validConfigKeys[key]
	if !ok {
		keys := make([]string, 0, len(validConfigKeys))
		for k := range validConfigKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Errorf("unknown config key %q\nValid keys:\n  %s", key, strings.Join(keys, "\n  "))
	}

	value, err := validate(raw)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	viper.Set(key, value)

	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(config.ConfigFile()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, value)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.ConfigFile()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

// defaultConfigYAML is the commented starting point written by config init.
// Every value matches the built-in default, so an untouched file changes
// nothing.
const defaultConfigYAML = `# Chitter configuration
# Environment variables override this file: CHITTER_COORDINATION_MODE=block

coordination:
  # Execution policy for agent spawns:
  #   track      - log spawns, never interfere
  #   nudge      - allow spawns, inject a roster notice (default)
  #   block      - deny spawns lacking a coordination marker while peers run
  #   sequential - one running agent at a time
  #   queue      - assign queue positions, warn on out-of-order starts
  mode: nudge

  # Advisory ceiling on simultaneously running agents per workflow.
  # 0 disables the ceiling. Exceeding it warns; it never blocks.
  max_concurrent: 0

  # Reclaim an agent that has been silent this long (minutes). The agent
  # is marked blocked and its slot freed. 0 disables reclaim.
  idle_timeout_minutes: 30

  # Delete workflow state older than this (hours).
  workflow_max_age_hours: 24

conflicts:
  # Glob patterns excluded from file-overlap detection.
  ignore_patterns: []
  # ignore_patterns:
  #   - "*.lock"
  #   - "go.sum"

logging:
  enabled: true
  level: info

paths:
  # Where workflow records, decision logs, and context caches live.
  # Empty means ~/.chitter
  state_dir: ""
`
