package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete aged and corrupt workflow state",
	Long: `Cleanup removes workflow records older than the configured retention
window (coordination.workflow_max_age_hours, default 24) along with any
records that no longer parse. Session bindings pointing at removed
workflows are pruned.

The MCP server runs the same sweep opportunistically on tool calls;
this command is for hook-only setups where no server is running.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	deleted, err := rt.registry.Cleanup(rt.cfg.Coordination.WorkflowMaxAge())
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if deleted == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to clean up")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d workflow(s)\n", deleted)
	}
	return nil
}
