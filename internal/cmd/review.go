package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/chitter/internal/conflict"
	"github.com/Iron-Ham/chitter/internal/decision"
	cerrors "github.com/Iron-Ham/chitter/internal/errors"
)

var reviewOutput string

var reviewCmd = &cobra.Command{
	Use:   "review <workflow-id>",
	Short: "Review a workflow's decisions and conflicts",
	Args:  cobra.ExactArgs(1),
	RunE:  runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.Flags().StringVarP(&reviewOutput, "output", "o", "text", "output format: text or yaml")
}

// reviewReport is the yaml projection of a review.
type reviewReport struct {
	WorkflowID string           `yaml:"workflow_id"`
	Goal       string           `yaml:"goal"`
	Decisions  []reviewDecision `yaml:"decisions"`
	Conflicts  []reviewConflict `yaml:"conflicts"`
}

type reviewDecision struct {
	AgentID string `yaml:"agent_id"`
	Type    string `yaml:"type,omitempty"`
	Text    string `yaml:"text"`
}

type reviewConflict struct {
	Severity string   `yaml:"severity"`
	Agents   []string `yaml:"agents"`
	Message  string   `yaml:"message"`
}

func runReview(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	id := args[0]
	w, err := rt.registry.Get(id)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return fmt.Errorf("workflow %s not found", id)
		}
		return err
	}

	records, _ := decision.NewLog(rt.registry.Store().DecisionLogPath(id)).List()
	conflicts := rt.detector.Detect(w, records)

	if reviewOutput == "yaml" {
		report := reviewReport{WorkflowID: w.ID, Goal: w.Description}
		for _, rec := range records {
			report.Decisions = append(report.Decisions, reviewDecision{
				AgentID: rec.AgentID,
				Type:    string(rec.Type),
				Text:    rec.Text,
			})
		}
		for _, c := range conflicts {
			report.Conflicts = append(report.Conflicts, reviewConflict{
				Severity: string(c.Severity),
				Agents:   []string{c.Agents[0], c.Agents[1]},
				Message:  c.Message,
			})
		}
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(report)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Workflow: %s\n", w.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "Goal: %s\n\n", w.Description)

	fmt.Fprintf(cmd.OutOrStdout(), "Decisions (%d):\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "  [%s] %s: %s\n", rec.Type, rec.AgentID, rec.Text)
	}

	if len(conflicts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nNo conflicts detected")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nConflicts (%d):\n", len(conflicts))
	for _, c := range conflicts {
		glyph := "🟡"
		if c.Severity == conflict.SeverityHigh {
			glyph = "🔴"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", glyph, c.Message)
	}
	return nil
}
