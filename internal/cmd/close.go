package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	cerrors "github.com/Iron-Ham/chitter/internal/errors"
)

var closeCmd = &cobra.Command{
	Use:   "close <workflow-id>",
	Short: "Close a workflow and clear its state",
	Args:  cobra.ExactArgs(1),
	RunE:  runClose,
}

func init() {
	rootCmd.AddCommand(closeCmd)
}

func runClose(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	id := args[0]
	w, err := rt.registry.Close(id)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return fmt.Errorf("workflow %s not found", id)
		}
		return err
	}
	if w.SessionKey != "" {
		_ = rt.registry.Store().RemoveContextCache(w.SessionKey)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s closed (%d agents)\n", id, len(w.Agents))
	return nil
}
