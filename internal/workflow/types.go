// Package workflow provides the durable registry of coordination workflows
// and their agents. A workflow is one coordination session spanning multiple
// agent spawns that share a goal; agents are the spawned work units tracked
// by the coordinator.
//
// State is file-backed: one JSON document per workflow plus a session index,
// all under the Chitter state directory. Every mutation of a workflow runs
// under a workflow-scoped advisory file lock so that short-lived hook
// processes and a long-running MCP server can share the same state without
// admitting conflicting gating decisions.
package workflow

import "time"

// CoordinationMarker is the magic string agents must carry in their prompt
// to prove they were given coordination context. Block mode rejects spawns
// without it.
const CoordinationMarker = "CHITTER_COORDINATION"

// Mode is the execution policy applied to spawn attempts in a workflow.
type Mode string

const (
	// ModeTrack logs spawn attempts and nothing else.
	ModeTrack Mode = "track"
	// ModeNudge allows every spawn and attaches the active-agent roster
	// as injected context.
	ModeNudge Mode = "nudge"
	// ModeBlock rejects spawns whose prompt lacks the coordination marker
	// while other agents are active.
	ModeBlock Mode = "block"
	// ModeSequential admits at most one running agent per workflow.
	ModeSequential Mode = "sequential"
	// ModeQueue admits every spawn but assigns advisory queue positions.
	ModeQueue Mode = "queue"
)

// DefaultMode is used when the configured mode is missing or unrecognized.
// Nudge is the most permissive mode that still registers agents.
const DefaultMode = ModeNudge

// ParseMode converts a config string to a Mode. The second return value is
// false when the input was not a recognized mode and the default was used.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeTrack, ModeNudge, ModeBlock, ModeSequential, ModeQueue:
		return Mode(s), true
	default:
		return DefaultMode, false
	}
}

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	// StatusActive means the workflow is accepting spawns and decisions.
	StatusActive WorkflowStatus = "active"
	// StatusClosed means the workflow was explicitly closed.
	StatusClosed WorkflowStatus = "closed"
)

// AgentStatus is the lifecycle state of an agent within a workflow.
type AgentStatus string

const (
	// AgentQueued means the agent was admitted but has not started running.
	AgentQueued AgentStatus = "queued"
	// AgentRunning means the agent is executing outside the coordinator.
	AgentRunning AgentStatus = "running"
	// AgentCompleted means the agent signaled completion.
	AgentCompleted AgentStatus = "completed"
	// AgentBlocked means the agent's slot was reclaimed after the idle
	// timeout, or it was administratively parked.
	AgentBlocked AgentStatus = "blocked"
)

// Agent is one spawned work unit tracked by the coordinator.
type Agent struct {
	ID            string      `json:"id"`
	WorkflowID    string      `json:"workflow_id"`
	Role          string      `json:"role"`
	Task          string      `json:"task"`
	DeclaredScope []string    `json:"declared_scope,omitempty"`
	Status        AgentStatus `json:"status"`
	QueuePos      int         `json:"queue_pos,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Summary       string      `json:"summary,omitempty"`
	FilesModified []string    `json:"files_modified,omitempty"`
}

// Workflow is one coordination session. Agents is keyed by agent id;
// AgentOrder preserves registration order, which map iteration would lose
// and which conflict detection depends on for deterministic output.
type Workflow struct {
	ID            string            `json:"workflow_id"`
	SessionKey    string            `json:"session_key,omitempty"`
	Description   string            `json:"description"`
	Mode          Mode              `json:"mode"`
	Status        WorkflowStatus    `json:"status"`
	PlannedAgents []string          `json:"agents_planned,omitempty"`
	Agents        map[string]*Agent `json:"agents"`
	AgentOrder    []string          `json:"agent_order"`
	NextQueuePos  int               `json:"next_queue_pos"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// AgentsInOrder returns the workflow's agents in registration order.
// Agents missing from the order list (hand-edited state) are skipped.
func (w *Workflow) AgentsInOrder() []*Agent {
	agents := make([]*Agent, 0, len(w.AgentOrder))
	for _, id := range w.AgentOrder {
		if a, ok := w.Agents[id]; ok {
			agents = append(agents, a)
		}
	}
	return agents
}

// RunningAgents returns agents currently marked running, in order.
func (w *Workflow) RunningAgents() []*Agent {
	var running []*Agent
	for _, a := range w.AgentsInOrder() {
		if a.Status == AgentRunning {
			running = append(running, a)
		}
	}
	return running
}

// CompletedAgents returns agents that signaled completion, in order.
func (w *Workflow) CompletedAgents() []*Agent {
	var completed []*Agent
	for _, a := range w.AgentsInOrder() {
		if a.Status == AgentCompleted {
			completed = append(completed, a)
		}
	}
	return completed
}

// AllComplete reports whether every registered agent has completed.
// False for an empty roster.
func (w *Workflow) AllComplete() bool {
	if len(w.Agents) == 0 {
		return false
	}
	for _, a := range w.Agents {
		if a.Status != AgentCompleted {
			return false
		}
	}
	return true
}

// ReclaimIdle marks running agents that started before the cutoff as
// blocked, freeing their slot. Returns the ids of reclaimed agents.
// A zero timeout disables reclaim.
func (w *Workflow) ReclaimIdle(timeout time.Duration, now time.Time) []string {
	if timeout <= 0 {
		return nil
	}

	var reclaimed []string
	cutoff := now.Add(-timeout)
	for _, a := range w.AgentsInOrder() {
		if a.Status == AgentRunning && a.StartedAt.Before(cutoff) {
			a.Status = AgentBlocked
			reclaimed = append(reclaimed, a.ID)
		}
	}
	if len(reclaimed) > 0 {
		w.UpdatedAt = now
	}
	return reclaimed
}
