package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/chitter/internal/mcp"
	"github.com/Iron-Ham/chitter/internal/workflow"
)

var serveHTTPAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Chitter MCP server",
	Long: `Run the MCP server exposing the chitter_* coordination tools.

By default the server speaks MCP over stdio, which is how Claude Code
launches it. With --http it serves the SSE transport under /mcp instead.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "serve SSE over HTTP on this address (e.g. :8377) instead of stdio")
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	mode, _ := workflow.ParseMode(rt.cfg.Coordination.Mode)
	srv := mcp.NewServer(rt.registry, rt.logger,
		mcp.WithMode(mode),
		mcp.WithDetector(rt.detector),
		mcp.WithWorkflowMaxAge(rt.cfg.Coordination.WorkflowMaxAge()))

	if serveHTTPAddr == "" {
		rt.logger.Info("mcp server starting", "transport", "stdio")
		return srv.ServeStdio()
	}

	mux := http.NewServeMux()
	mcp.MountHTTPHandlers(mux, srv.GetMCPServer())
	rt.logger.Info("mcp server starting", "transport", "sse", "addr", serveHTTPAddr)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving MCP over SSE at http://%s/mcp/sse\n", serveHTTPAddr)
	return http.ListenAndServe(serveHTTPAddr, mux)
}
