package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	cerrors "github.com/Iron-Ham/chitter/internal/errors"
	"github.com/Iron-Ham/chitter/internal/hook"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Handle a Claude Code Task-tool hook event",
	Long: `Handle a hook event. Claude Code invokes this with the event JSON on
stdin, configured as a PreToolUse/PostToolUse matcher on the Task tool:

  {"matcher": "Task", "hooks": [{"type": "command", "command": "chitter hook pre"}]}

pre exits non-zero to block a spawn; its stdout is surfaced to the model.
post records the finished agent's output and never fails the tool call.`,
}

var hookPreCmd = &cobra.Command{
	Use:   "pre",
	Short: "Gate a spawn attempt (PreToolUse)",
	RunE:  runHookPre,
}

var hookPostCmd = &cobra.Command{
	Use:   "post",
	Short: "Record a finished agent (PostToolUse)",
	RunE:  runHookPost,
}

func init() {
	rootCmd.AddCommand(hookCmd)
	hookCmd.AddCommand(hookPreCmd)
	hookCmd.AddCommand(hookPostCmd)
}

func newInterceptor(cmd *cobra.Command) (*hook.Interceptor, *runtime, error) {
	rt, err := newRuntime(cmd)
	if err != nil {
		return nil, nil, err
	}
	i := hook.New(rt.engine, rt.registry, rt.logger, hook.WithDetector(rt.detector))
	return i, rt, nil
}

func runHookPre(cmd *cobra.Command, args []string) error {
	payload, err := hook.ParsePayload(cmd.InOrStdin())
	if err != nil {
		// Unparseable input fails open: allowing is always safe, wedging
		// the host's Task tool is not.
		fmt.Fprintf(cmd.ErrOrStderr(), "chitter: %v\n", err)
		return nil
	}

	i, rt, err := newInterceptor(cmd)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "chitter: %v\n", err)
		return nil
	}
	defer rt.Close()

	res := i.Pre(cmd.Context(), payload)
	if res.Message != "" {
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	}
	if res.Blocked {
		// A non-zero exit is how a hook blocks the tool call.
		return cerrors.ErrSpawnBlocked
	}
	return nil
}

func runHookPost(cmd *cobra.Command, args []string) error {
	payload, err := hook.ParsePayload(cmd.InOrStdin())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "chitter: %v\n", err)
		return nil
	}

	i, rt, err := newInterceptor(cmd)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "chitter: %v\n", err)
		return nil
	}
	defer rt.Close()

	res := i.Post(cmd.Context(), payload)
	if res.Message != "" {
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	}
	return nil
}
