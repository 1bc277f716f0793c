package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/chitter/internal/workflow"
)

var startAgents []string

var startCmd = &cobra.Command{
	Use:   "start <description>",
	Short: "Start a workflow explicitly",
	Long: `Start a workflow without waiting for the first hook event. Prints the
workflow id to hand to agents calling the chitter_* tools.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringSliceVar(&startAgents, "agents", nil, "planned agent names (comma separated)")
}

func runStart(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	mode, _ := workflow.ParseMode(rt.cfg.Coordination.Mode)
	w, err := rt.registry.Create("", strings.Join(args, " "), mode, startAgents)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Workflow created: %s\n", w.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "Mode: %s\n", w.Mode)
	if len(startAgents) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Planned agents: %s\n", strings.Join(startAgents, ", "))
	}
	return nil
}
