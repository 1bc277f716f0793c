package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/chitter/internal/decision"
	"github.com/Iron-Ham/chitter/internal/render"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch workflow state and keep context caches fresh",
	Long: `Watch the workflows directory and re-render context caches whenever
state changes. A long-running alternative to the per-event refresh the
hook does: useful when agents are driven through the MCP tools, which
don't pass through the hook path. Ctrl-C to stop.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	workflowsDir := filepath.Dir(rt.registry.Store().WorkflowPath("x"))
	if err := watcher.Add(workflowsDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", workflowsDir, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s\n", workflowsDir)

	// Debounce: editors and atomic renames produce event bursts for one
	// logical change.
	debounce := time.NewTimer(0)
	<-debounce.C
	pending := make(map[string]bool)

	renderer := render.New()
	refresh := func(id string) {
		w, err := rt.registry.Get(id)
		if err != nil || w.SessionKey == "" {
			return
		}
		records, err := decision.NewLog(rt.registry.Store().DecisionLogPath(id)).List()
		if err != nil {
			return
		}
		conflicts := rt.detector.Detect(w, records)
		if _, err := renderer.WriteCache(rt.registry.Store(), w, records, conflicts, nil); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "refresh %s: %v\n", id, err)
			return
		}
		fmt.Fprintf(out, "[%s] %s: %d agents, %d decisions, %d conflicts\n",
			time.Now().Format("15:04:05"), id, len(w.Agents), len(records), len(conflicts))
	}

	for {
		select {
		case <-cmd.Context().Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			id := strings.TrimSuffix(strings.TrimSuffix(name, ".json"), ".decisions.jsonl")
			pending[id] = true
			debounce.Reset(100 * time.Millisecond)

		case <-debounce.C:
			for id := range pending {
				refresh(id)
			}
			pending = make(map[string]bool)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
		}
	}
}
