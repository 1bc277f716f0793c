// Package cmd implements the chitter command line interface.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/chitter/internal/config"
	"github.com/Iron-Ham/chitter/internal/conflict"
	"github.com/Iron-Ham/chitter/internal/logging"
	"github.com/Iron-Ham/chitter/internal/policy"
	"github.com/Iron-Ham/chitter/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "chitter",
	Short: "Coordination layer for parallel Claude Code agents",
	Long: `Chitter coordinates parallel agent spawns within a Claude Code session:
it tracks who is working on what, gates conflicting spawns, logs the
decisions agents make, and surfaces conflicts at review time.

It runs two ways: as a Task-tool hook (chitter hook pre|post) and as an
MCP server exposing the chitter_* tools (chitter serve).`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/chitter/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/chitter")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CHITTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// runtime bundles the pieces every command builds from configuration.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *workflow.Registry
	engine   *policy.Engine
	detector *conflict.Detector
}

// newRuntime loads config and wires the store, registry, engine, and
// detector. Config warnings (bad mode, negative limits) go to stderr once.
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, warnings := config.Load()
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}

	stateDir := cfg.Paths.ResolveStateDir()
	store, err := workflow.NewStore(stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state directory: %w", err)
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLogger(stateDir, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
	}

	detector, err := conflict.New(cfg.Conflicts.IgnorePatterns)
	if err != nil {
		return nil, err
	}

	mode, _ := workflow.ParseMode(cfg.Coordination.Mode)
	registry := workflow.NewRegistry(store, logger)
	engine := policy.NewEngine(registry, logger,
		policy.WithMode(mode),
		policy.WithMaxConcurrent(cfg.Coordination.MaxConcurrent),
		policy.WithIdleTimeout(cfg.Coordination.IdleTimeout()))

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		engine:   engine,
		detector: detector,
	}, nil
}

// Close releases the runtime's log file.
func (r *runtime) Close() {
	_ = r.logger.Close()
}
