// Package mcp exposes the explicit coordination surface as MCP tools. The
// hook path covers agents spawned through the Task tool; these tools are
// for orchestrators that opt in and drive workflows by hand: start, agent
// registration, decisions, completion, review, close, status.
package mcp

import (
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/Iron-Ham/chitter/internal/conflict"
	"github.com/Iron-Ham/chitter/internal/logging"
	"github.com/Iron-Ham/chitter/internal/workflow"
)

const (
	serverName    = "Chitter"
	serverVersion = "1.0.0"
)

// Server wires the seven chitter_* tools to the workflow registry.
type Server struct {
	mcpServer *server.MCPServer
	registry  *workflow.Registry
	detector  *conflict.Detector
	logger    *logging.Logger
	mode      workflow.Mode
	maxAge    time.Duration
	clock     func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithDetector sets the conflict detector used by review and close.
func WithDetector(d *conflict.Detector) Option {
	return func(s *Server) {
		if d != nil {
			s.detector = d
		}
	}
}

// WithMode sets the mode stamped on workflows created through
// chitter_workflow_start.
func WithMode(mode workflow.Mode) Option {
	return func(s *Server) { s.mode = mode }
}

// WithWorkflowMaxAge enables opportunistic cleanup of workflows older than
// maxAge on every tool call. Zero disables it.
func WithWorkflowMaxAge(maxAge time.Duration) Option {
	return func(s *Server) {
		if maxAge >= 0 {
			s.maxAge = maxAge
		}
	}
}

// NewServer creates the MCP server and registers its tools.
func NewServer(registry *workflow.Registry, logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(true),
		),
		registry: registry,
		logger:   logger,
		mode:     workflow.DefaultMode,
		clock:    time.Now,
	}
	s.detector, _ = conflict.New(nil)
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for transport wiring.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the server over stdin/stdout until the host disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MountHTTPHandlers attaches the SSE transport under /mcp on mux.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}

// cleanup reaps aged workflow state. Runs at the top of every tool call,
// so a long-lived server never needs a cron.
func (s *Server) cleanup() {
	if s.maxAge <= 0 {
		return
	}
	if n, err := s.registry.Cleanup(s.maxAge); err == nil && n > 0 {
		s.logger.Info("stale workflows cleaned", "count", n)
	}
}
