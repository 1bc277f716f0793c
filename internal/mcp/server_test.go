package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/chitter/internal/workflow"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	store, err := workflow.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewServer(workflow.NewRegistry(store, nil), nil, opts...)
}

func call(name string, arguments map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

// startWorkflow runs chitter_workflow_start and extracts the workflow id
// from the registry (exactly one workflow exists afterwards).
func startWorkflow(t *testing.T, s *Server) string {
	t.Helper()
	res, err := s.handleWorkflowStart(context.Background(), call("chitter_workflow_start", map[string]interface{}{
		"description":    "build auth and billing",
		"agents_planned": []interface{}{"auth-agent", "billing-agent"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	workflows, err := s.registry.ListActive()
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	return workflows[0].ID
}

func TestWorkflowStartReturnsProtocol(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleWorkflowStart(context.Background(), call("chitter_workflow_start", map[string]interface{}{
		"description":    "build auth and billing",
		"agents_planned": []interface{}{"auth-agent", "billing-agent"},
	}))
	require.NoError(t, err)
	text := resultText(t, res)

	assert.Contains(t, text, "Workflow created:")
	assert.Contains(t, text, "CHITTER COORDINATION PROTOCOL")
	assert.Contains(t, text, "auth-agent, billing-agent")
	assert.Contains(t, text, "chitter_workflow_review")
}

func TestWorkflowStartValidation(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleWorkflowStart(context.Background(), call("chitter_workflow_start", map[string]interface{}{
		"agents_planned": []interface{}{"a"},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestAgentStartAndDuplicate(t *testing.T) {
	s := newTestServer(t)
	id := startWorkflow(t, s)

	register := call("chitter_agent_start", map[string]interface{}{
		"workflow_id":      id,
		"agent_id":         "auth-agent",
		"task_summary":     "implement login",
		"areas_of_concern": []interface{}{"auth"},
	})
	res, err := s.handleAgentStart(context.Background(), register)
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "No other agents registered yet.")

	dup, err := s.handleAgentStart(context.Background(), register)
	require.NoError(t, err)
	assert.True(t, dup.IsError)
	assert.Contains(t, resultText(t, dup), "already registered")
}

func TestAgentStartUnknownWorkflow(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleAgentStart(context.Background(), call("chitter_agent_start", map[string]interface{}{
		"workflow_id":      "nope1234",
		"agent_id":         "a1",
		"task_summary":     "task",
		"areas_of_concern": []interface{}{"auth"},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not found")
}

func TestDecisionRequiresRegisteredAgent(t *testing.T) {
	s := newTestServer(t)
	id := startWorkflow(t, s)

	res, err := s.handleDecision(context.Background(), call("chitter_decision", map[string]interface{}{
		"workflow_id":   id,
		"agent_id":      "ghost",
		"decision_type": "api",
		"decision":      "Using REST with /api/auth/* endpoints",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "chitter_agent_start first")
}

func TestFullWorkflowLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := startWorkflow(t, s)

	agents := []struct {
		id, task, area, file string
	}{
		{"auth-agent", "implement login", "auth", "schema.sql"},
		{"billing-agent", "implement invoicing", "billing", "schema.sql"},
	}
	for _, a := range agents {
		res, err := s.handleAgentStart(context.Background(), call("chitter_agent_start", map[string]interface{}{
			"workflow_id":      id,
			"agent_id":         a.id,
			"task_summary":     a.task,
			"areas_of_concern": []interface{}{a.area},
		}))
		require.NoError(t, err)
		require.False(t, res.IsError, resultText(t, res))
	}

	res, err := s.handleDecision(context.Background(), call("chitter_decision", map[string]interface{}{
		"workflow_id":   id,
		"agent_id":      "auth-agent",
		"decision_type": "data_model",
		"decision":      "Added users table with email unique index",
		"rationale":     "login is by email",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "Decision logged: [data_model]")

	var lastComplete *mcp.CallToolResult
	for _, a := range agents {
		lastComplete, err = s.handleComplete(context.Background(), call("chitter_complete", map[string]interface{}{
			"workflow_id":    id,
			"agent_id":       a.id,
			"summary":        "done: " + a.task,
			"files_modified": []interface{}{a.file},
		}))
		require.NoError(t, err)
		require.False(t, lastComplete.IsError, resultText(t, lastComplete))
	}
	assert.Contains(t, resultText(t, lastComplete), "Progress: 2/2 agents complete.")

	review, err := s.handleWorkflowReview(context.Background(), call("chitter_workflow_review", map[string]interface{}{
		"workflow_id": id,
	}))
	require.NoError(t, err)
	text := resultText(t, review)
	assert.Contains(t, text, "# Workflow Review: "+id)
	assert.Contains(t, text, "## Agents (2 of 2 completed)")
	assert.Contains(t, text, "[data_model] Added users table")
	assert.Contains(t, text, "Files Modified (1 unique)")
	assert.Contains(t, text, "🔴")
	assert.Contains(t, text, "schema.sql")

	// Review twice with no activity renders identically.
	again, err := s.handleWorkflowReview(context.Background(), call("chitter_workflow_review", map[string]interface{}{
		"workflow_id": id,
	}))
	require.NoError(t, err)
	assert.Equal(t, text, resultText(t, again))

	closeRes, err := s.handleWorkflowClose(context.Background(), call("chitter_workflow_close", map[string]interface{}{
		"workflow_id": id,
	}))
	require.NoError(t, err)
	closeText := resultText(t, closeRes)
	assert.Contains(t, closeText, "Workflow "+id+" closed.")
	assert.Contains(t, closeText, "Agents: 2")
	assert.Contains(t, closeText, "Decisions logged: 1")

	_, err = s.registry.Get(id)
	assert.Error(t, err, "close must delete workflow state")
}

func TestReviewWithoutConflicts(t *testing.T) {
	s := newTestServer(t)
	id := startWorkflow(t, s)

	res, err := s.handleWorkflowReview(context.Background(), call("chitter_workflow_review", map[string]interface{}{
		"workflow_id": id,
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No Conflicts Detected ✓")
}

func TestReviewUnknownWorkflow(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleWorkflowReview(context.Background(), call("chitter_workflow_review", map[string]interface{}{
		"workflow_id": "nope1234",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCloseUnknownWorkflow(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleWorkflowClose(context.Background(), call("chitter_workflow_close", map[string]interface{}{
		"workflow_id": "nope1234",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not found")
}

func TestStatusEmptyAndPopulated(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleStatus(context.Background(), call("chitter_status", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No active workflows")

	id := startWorkflow(t, s)
	_, err = s.handleAgentStart(context.Background(), call("chitter_agent_start", map[string]interface{}{
		"workflow_id":      id,
		"agent_id":         "auth-agent",
		"task_summary":     "implement login",
		"areas_of_concern": []interface{}{"auth"},
	}))
	require.NoError(t, err)

	res, err = s.handleStatus(context.Background(), call("chitter_status", nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "# Active Workflows (1)")
	assert.Contains(t, text, "## "+id)
	assert.Contains(t, text, "⋯ auth-agent: implement login")
}
