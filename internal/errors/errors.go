// Package errors provides centralized error definitions for the Chitter
// codebase. It defines sentinel errors for the coordination domain, a
// WorkflowError type that carries workflow/agent context, and classification
// helpers used to decide how an error surfaces at each boundary.
//
// Two boundaries treat the same errors differently:
//
//   - The hook boundary fails open: any error resolves to ALLOW with a
//     warning log. Classification is only used for log severity there.
//   - The MCP control surface returns typed failures: callers there act
//     synchronously and can react to ErrDuplicateAgent, ErrWorkflowNotFound,
//     and friends.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience, so callers can
// import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Workflow-related sentinel errors
var (
	// ErrWorkflowNotFound indicates that a workflow could not be found.
	ErrWorkflowNotFound = New("workflow not found")
	// ErrWorkflowClosed indicates that a workflow is no longer active.
	ErrWorkflowClosed = New("workflow is closed")
	// ErrSessionHasWorkflow indicates a session key already maps to an active workflow.
	ErrSessionHasWorkflow = New("session already has an active workflow")
	// ErrStateCorrupted indicates that a persisted workflow record is unreadable.
	ErrStateCorrupted = New("workflow state corrupted")
)

// Agent-related sentinel errors
var (
	// ErrDuplicateAgent indicates an agent id was reused within an open workflow.
	ErrDuplicateAgent = New("agent already registered")
	// ErrAgentNotFound indicates that an agent is not registered in the workflow.
	ErrAgentNotFound = New("agent not found")
)

// Gating and configuration sentinel errors
var (
	// ErrInvalidMode indicates an unrecognized coordination mode.
	ErrInvalidMode = New("invalid coordination mode")
	// ErrAlreadyLocked indicates a workflow lock is held by another process.
	ErrAlreadyLocked = New("workflow is locked")
	// ErrLockTimeout indicates lock acquisition exceeded its deadline.
	ErrLockTimeout = New("lock acquisition timed out")
	// ErrSpawnBlocked indicates a spawn attempt was rejected by policy.
	// Carried by hook commands so the process can exit non-zero, which is
	// how Claude Code hooks signal a block.
	ErrSpawnBlocked = New("spawn blocked by coordination policy")
)

// WorkflowError wraps an error with workflow and agent context.
type WorkflowError struct {
	// Op is the operation that failed (e.g. "register", "complete", "gate").
	Op string
	// WorkflowID is the workflow involved, if known.
	WorkflowID string
	// AgentID is the agent involved, if any.
	AgentID string
	// Err is the underlying error.
	Err error
}

// NewWorkflowError creates a WorkflowError for the given operation.
func NewWorkflowError(op string, err error) *WorkflowError {
	return &WorkflowError{Op: op, Err: err}
}

// WithWorkflow attaches a workflow id and returns the error for chaining.
func (e *WorkflowError) WithWorkflow(id string) *WorkflowError {
	e.WorkflowID = id
	return e
}

// WithAgent attaches an agent id and returns the error for chaining.
func (e *WorkflowError) WithAgent(id string) *WorkflowError {
	e.AgentID = id
	return e
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	switch {
	case e.WorkflowID != "" && e.AgentID != "":
		return fmt.Sprintf("%s: workflow %s, agent %s: %v", e.Op, e.WorkflowID, e.AgentID, e.Err)
	case e.WorkflowID != "":
		return fmt.Sprintf("%s: workflow %s: %v", e.Op, e.WorkflowID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err indicates a missing workflow or agent.
func IsNotFound(err error) bool {
	return Is(err, ErrWorkflowNotFound) || Is(err, ErrAgentNotFound)
}

// IsCorruption reports whether err indicates unreadable persisted state.
// Hook-boundary callers treat corruption as "workflow absent" and start fresh.
func IsCorruption(err error) bool {
	return Is(err, ErrStateCorrupted)
}

// IsUserFacing reports whether err is safe and useful to show to a caller
// at the control surface. Lock timeouts and corruption are internal; the
// typed domain failures are actionable.
func IsUserFacing(err error) bool {
	return IsNotFound(err) ||
		Is(err, ErrDuplicateAgent) ||
		Is(err, ErrWorkflowClosed) ||
		Is(err, ErrSessionHasWorkflow) ||
		Is(err, ErrSpawnBlocked)
}
