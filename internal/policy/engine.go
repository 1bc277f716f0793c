// Package policy decides whether an agent spawn may proceed. The engine
// evaluates one spawn attempt against the workflow's execution mode and
// returns an allow or block decision plus whatever context, queue position,
// or remediation text the mode calls for.
//
// The roster check and the roster mutation of a decision run as one step
// under the workflow's exclusive lock, so two racing spawns can never both
// observe an empty roster. The lock is released before the agent runs.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/chitter/internal/logging"
	"github.com/Iron-Ham/chitter/internal/workflow"
)

// Decision is the outcome of gating one spawn attempt.
type Decision string

const (
	Allow Decision = "allow"
	Block Decision = "block"
)

// PreSpawnEvent describes one spawn attempt before the agent starts.
type PreSpawnEvent struct {
	SessionKey string
	AgentID    string
	Role       string
	Task       string
	Prompt     string
	Scope      []string
}

// Result is the gating outcome. Remediation is set on every block and tells
// the caller exactly how to retry. Notice carries the informational text the
// allow paths surface. Warnings are advisory and never block.
type Result struct {
	Decision    Decision
	Reason      string
	Remediation string
	Notice      string
	Warnings    []string
	Workflow    *workflow.Workflow
	Agent       *workflow.Agent
	QueuePos    int
}

// Allowed reports whether the spawn may proceed.
func (r *Result) Allowed() bool { return r.Decision == Allow }

// Engine gates spawn attempts against workflow state.
type Engine struct {
	registry      *workflow.Registry
	logger        *logging.Logger
	mode          workflow.Mode
	maxConcurrent int
	idleTimeout   time.Duration
	clock         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMode sets the mode applied to workflows the engine auto-creates.
// Workflows carry their mode from creation, so changing config mid-workflow
// does not change how an existing workflow gates.
func WithMode(mode workflow.Mode) Option {
	return func(e *Engine) { e.mode = mode }
}

// WithMaxConcurrent sets the advisory concurrency ceiling. Zero disables
// the warning.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxConcurrent = n
		}
	}
}

// WithIdleTimeout sets how long a running agent may sit without completing
// before its slot is reclaimed. Zero disables reclaim.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.idleTimeout = d
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine creates an engine over the given registry.
func NewEngine(registry *workflow.Registry, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	e := &Engine{
		registry: registry,
		logger:   logger,
		mode:     workflow.DefaultMode,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Gate evaluates one spawn attempt. In every mode but track it resolves or
// auto-creates the session's workflow and, on allow, registers the agent
// before returning; the returned snapshot is already persisted. A block
// never mutates the roster.
func (e *Engine) Gate(ctx context.Context, ev PreSpawnEvent) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := e.logger.WithSession(ev.SessionKey).WithAgent(ev.AgentID)

	if e.mode == workflow.ModeTrack {
		log.Info("spawn tracked", "role", ev.Role, "task", ev.Task)
		return &Result{Decision: Allow, Reason: "track mode: spawn logged"}, nil
	}

	res := &Result{Decision: Allow}
	create := func() *workflow.Workflow {
		return e.newWorkflow(ev)
	}

	w, err := e.registry.GateForSession(ev.SessionKey, create, func(w *workflow.Workflow) error {
		now := e.clock()
		for _, id := range w.ReclaimIdle(e.idleTimeout, now) {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("agent %s idle past %s, slot reclaimed", id, e.idleTimeout))
			log.Warn("idle agent reclaimed", "workflow_id", w.ID, "reclaimed", id)
		}

		active := w.RunningAgents()
		mode := w.Mode
		if mode == "" {
			mode = e.mode
		}

		switch mode {
		case workflow.ModeBlock:
			if len(active) > 0 && !e.hasCoordination(ev) {
				res.Decision = Block
				res.Reason = "no coordination instruction in prompt"
				res.Remediation = e.blockRemediation(ev.SessionKey, active)
				return nil
			}
			res.Agent = e.register(w, ev, now)
			if len(active) > 0 {
				res.Notice = fmt.Sprintf("Coordination verified. Active agents in workflow: %d", len(active)+1)
			}

		case workflow.ModeSequential:
			if len(active) > 0 {
				blocking := active[0]
				res.Decision = Block
				res.Reason = fmt.Sprintf("agent %s is still running", blocking.ID)
				res.Remediation = fmt.Sprintf(
					"Sequential mode: agent %s (%s) is still running: %s\nRetry this spawn after it completes.",
					blocking.ID, blocking.Role, blocking.Task)
				return nil
			}
			res.Agent = e.register(w, ev, now)

		case workflow.ModeQueue:
			w.NextQueuePos++
			agent := e.register(w, ev, now)
			agent.QueuePos = w.NextQueuePos
			res.Agent = agent
			res.QueuePos = agent.QueuePos
			for _, a := range active {
				if a.QueuePos > 0 && a.QueuePos < agent.QueuePos {
					res.Warnings = append(res.Warnings, fmt.Sprintf(
						"queue position %d: agent %s (position %d) is still running",
						agent.QueuePos, a.ID, a.QueuePos))
					break
				}
			}

		default: // nudge
			res.Agent = e.register(w, ev, now)
			if len(active) > 0 {
				res.Notice = rosterNotice(active)
			}
		}

		if res.Decision == Allow && e.maxConcurrent > 0 && len(w.RunningAgents()) > e.maxConcurrent {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"%d agents running, above the configured ceiling of %d",
				len(w.RunningAgents()), e.maxConcurrent))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Workflow = w

	if res.Decision == Block {
		log.Info("spawn blocked", "workflow_id", w.ID, "reason", res.Reason)
	} else {
		log.Info("spawn allowed", "workflow_id", w.ID, "mode", string(w.Mode), "agents", len(w.Agents))
	}
	return res, nil
}

// newWorkflow builds the auto-created workflow for a first spawn.
func (e *Engine) newWorkflow(ev PreSpawnEvent) *workflow.Workflow {
	now := e.clock()
	return &workflow.Workflow{
		ID:          workflow.NewWorkflowID(),
		SessionKey:  ev.SessionKey,
		Description: fmt.Sprintf("Auto-coordinated: %s", ev.Task),
		Mode:        e.mode,
		Status:      workflow.StatusActive,
		Agents:      make(map[string]*workflow.Agent),
		AgentOrder:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// register adds the event's agent to the locked workflow and records it on
// the result. Duplicate ids get a fresh suffix rather than failing the
// spawn; the hook boundary never rejects for bookkeeping reasons.
func (e *Engine) register(w *workflow.Workflow, ev PreSpawnEvent, now time.Time) *workflow.Agent {
	agent := &workflow.Agent{
		ID:            ev.AgentID,
		Role:          ev.Role,
		Task:          ev.Task,
		DeclaredScope: ev.Scope,
		Status:        workflow.AgentRunning,
		StartedAt:     now,
	}
	if _, exists := w.Agents[agent.ID]; exists {
		agent.ID = fmt.Sprintf("%s-%d", ev.AgentID, len(w.Agents))
	}
	_ = workflow.AddAgent(w, agent, now)
	return agent
}

// hasCoordination reports whether the prompt proves the agent was given
// coordination context: the marker string or the session's context file
// path.
func (e *Engine) hasCoordination(ev PreSpawnEvent) bool {
	if strings.Contains(ev.Prompt, workflow.CoordinationMarker) {
		return true
	}
	if strings.Contains(ev.Prompt, ".chitter/active/") {
		return true
	}
	path := e.registry.Store().ContextCachePath(ev.SessionKey)
	return path != "" && strings.Contains(ev.Prompt, path)
}

// blockRemediation builds the full block message: who is running and the
// exact preamble a retried prompt must carry.
func (e *Engine) blockRemediation(sessionKey string, active []*workflow.Agent) string {
	var details []string
	for _, a := range active {
		details = append(details, fmt.Sprintf("  - %s: %s", a.Role, a.Task))
	}
	contextFile := e.registry.Store().ContextCachePath(sessionKey)

	return fmt.Sprintf(`🚫 CHITTER: BLOCKED - Coordination Required

Parallel agents detected. To prevent conflicts, this agent must read
the coordination file before starting.

Other agents currently working:
%s

REQUIRED: Add this to the START of your agent's prompt:

   "FIRST: Read the coordination file at %s
    and follow any decisions made by other agents.
    %s"

Then retry the Task call.`,
		strings.Join(details, "\n"), contextFile, workflow.CoordinationMarker)
}

// rosterNotice summarizes the currently running agents for injection into
// an allowed spawn.
func rosterNotice(active []*workflow.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d other agent(s) active in this workflow:\n", len(active))
	for _, a := range active {
		fmt.Fprintf(&b, "  - %s (%s): %s\n", a.ID, a.Role, a.Task)
	}
	b.WriteString("Check the coordination context before making overlapping changes.")
	return b.String()
}
