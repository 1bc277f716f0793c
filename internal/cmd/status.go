package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/chitter/internal/workflow"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active workflows and their agents",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "output format: text or yaml")
}

// statusWorkflow is the yaml projection of one workflow.
type statusWorkflow struct {
	WorkflowID  string        `yaml:"workflow_id"`
	Description string        `yaml:"description"`
	Mode        string        `yaml:"mode"`
	SessionKey  string        `yaml:"session_key,omitempty"`
	Created     string        `yaml:"created"`
	Agents      []statusAgent `yaml:"agents"`
}

type statusAgent struct {
	ID     string `yaml:"id"`
	Role   string `yaml:"role,omitempty"`
	Task   string `yaml:"task"`
	Status string `yaml:"status"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	workflows, err := rt.registry.ListActive()
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	if statusOutput == "yaml" {
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(statusProjection(workflows))
	}

	if len(workflows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No active workflows")
		return nil
	}

	for _, w := range workflows {
		fmt.Fprintf(cmd.OutOrStdout(), "Workflow: %s\n", w.ID)
		fmt.Fprintf(cmd.OutOrStdout(), "Goal: %s\n", w.Description)
		fmt.Fprintf(cmd.OutOrStdout(), "Mode: %s\n", w.Mode)
		if w.SessionKey != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\n", w.SessionKey)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", w.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(cmd.OutOrStdout(), "Agents: %d\n\n", len(w.Agents))

		for i, a := range w.AgentsInOrder() {
			fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s (%s)\n", i+1, a.ID, a.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "    Task: %s\n", a.Task)
			if len(a.FilesModified) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "    Files: %v\n", a.FilesModified)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

func statusProjection(workflows []*workflow.Workflow) []statusWorkflow {
	out := make([]statusWorkflow, 0, len(workflows))
	for _, w := range workflows {
		sw := statusWorkflow{
			WorkflowID:  w.ID,
			Description: w.Description,
			Mode:        string(w.Mode),
			SessionKey:  w.SessionKey,
			Created:     w.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for _, a := range w.AgentsInOrder() {
			sw.Agents = append(sw.Agents, statusAgent{
				ID:     a.ID,
				Role:   a.Role,
				Task:   a.Task,
				Status: string(a.Status),
			})
		}
		out = append(out, sw)
	}
	return out
}
