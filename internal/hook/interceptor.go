package hook

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/chitter/internal/conflict"
	"github.com/Iron-Ham/chitter/internal/decision"
	"github.com/Iron-Ham/chitter/internal/logging"
	"github.com/Iron-Ham/chitter/internal/policy"
	"github.com/Iron-Ham/chitter/internal/render"
	"github.com/Iron-Ham/chitter/internal/workflow"
)

// summaryMaxLen truncates stored agent output summaries. The full output
// lives in the host transcript; the roster only needs enough to render.
const summaryMaxLen = 2000

// PreResult is the interceptor's answer to a PreToolUse event. Blocked is
// the only signal the host acts on; Message carries remediation on block
// and informational text on allow.
type PreResult struct {
	Blocked     bool
	Message     string
	ContextPath string
}

// PostResult reports what a PostToolUse event changed. Message, when set,
// is the workflow-complete summary the hook prints.
type PostResult struct {
	AgentID    string
	WorkflowID string
	Decisions  int
	Message    string
}

// Interceptor wires hook events to the policy engine, the decision log,
// and the context cache.
type Interceptor struct {
	engine   *policy.Engine
	registry *workflow.Registry
	renderer *render.Renderer
	detector *conflict.Detector
	extract  decision.Extractor
	logger   *logging.Logger
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithExtractor overrides the decision extractor.
func WithExtractor(e decision.Extractor) Option {
	return func(i *Interceptor) {
		if e != nil {
			i.extract = e
		}
	}
}

// WithDetector sets the conflict detector used when refreshing context.
func WithDetector(d *conflict.Detector) Option {
	return func(i *Interceptor) {
		if d != nil {
			i.detector = d
		}
	}
}

// New creates an Interceptor over the engine and registry.
func New(engine *policy.Engine, registry *workflow.Registry, logger *logging.Logger, opts ...Option) *Interceptor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	i := &Interceptor{
		engine:   engine,
		registry: registry,
		renderer: render.New(),
		extract:  decision.NewKeywordExtractor(),
		logger:   logger,
	}
	// No configured ignore patterns; New only fails on bad patterns.
	i.detector, _ = conflict.New(nil)
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Pre handles a PreToolUse event. It never returns an error: any internal
// failure, panics included, degrades to ALLOW so a coordination bug cannot
// take the host's Task tool down with it.
func (i *Interceptor) Pre(ctx context.Context, p *Payload) (result PreResult) {
	log := i.logger.WithSession(p.SessionKey())

	defer func() {
		if r := recover(); r != nil {
			log.Error("pre hook panicked, allowing spawn", "panic", fmt.Sprint(r))
			result = PreResult{}
		}
	}()

	ev := policy.PreSpawnEvent{
		SessionKey: p.SessionKey(),
		AgentID:    p.AgentID(),
		Role:       p.ToolInput.SubagentType,
		Task:       p.TaskSummary(),
		Prompt:     p.ToolInput.Prompt,
	}
	log.Info("pre hook", "agent_id", ev.AgentID, "role", ev.Role, "task", ev.Task)

	res, err := i.engine.Gate(ctx, ev)
	if err != nil {
		log.Warn("gating failed, allowing spawn", "error", err.Error())
		return PreResult{}
	}

	if res.Workflow != nil {
		// Agents are told to read the context file, so it has to exist
		// before the host acts on the decision, blocked or not.
		if path, err := i.refreshContext(res.Workflow, res.Agent); err != nil {
			log.Warn("context refresh failed", "error", err.Error())
		} else {
			result.ContextPath = path
		}
	}

	if !res.Allowed() {
		result.Blocked = true
		result.Message = res.Remediation
		return result
	}
	result.Message = res.Notice
	return result
}

// Post handles a PostToolUse event: mark the agent complete, mine its
// output for decisions, refresh the context cache, and surface a summary
// once the whole roster is done. Best effort throughout; failures are
// logged and swallowed.
func (i *Interceptor) Post(ctx context.Context, p *Payload) (result PostResult) {
	log := i.logger.WithSession(p.SessionKey())

	defer func() {
		if r := recover(); r != nil {
			log.Error("post hook panicked", "panic", fmt.Sprint(r))
		}
	}()

	w, err := i.registry.ActiveForSession(p.SessionKey())
	if err != nil {
		log.Debug("post hook without active workflow", "error", err.Error())
		return result
	}

	agentID := i.resolveAgent(w, p)
	if agentID == "" {
		log.Warn("post hook could not resolve agent",
			"workflow_id", w.ID, "tool_use_id", p.ToolUseID, "role", p.ToolInput.SubagentType)
		return result
	}
	result.AgentID = agentID
	result.WorkflowID = w.ID

	output := p.ResponseText()
	summary := output
	if len(summary) > summaryMaxLen {
		summary = summary[:summaryMaxLen]
	}

	w, err = i.registry.CompleteAgent(w.ID, agentID, summary, nil)
	if err != nil {
		log.Warn("complete failed", "workflow_id", result.WorkflowID, "agent_id", agentID, "error", err.Error())
		return result
	}

	dlog := decision.NewLog(i.registry.Store().DecisionLogPath(w.ID))
	for _, rec := range i.extract.Extract(output) {
		if _, err := dlog.Append(agentID, rec.Text, decision.WithType(rec.Type)); err != nil {
			log.Warn("decision append failed", "error", err.Error())
			break
		}
		result.Decisions++
	}
	log.Info("agent complete", "workflow_id", w.ID, "agent_id", agentID, "decisions", result.Decisions)

	if _, err := i.refreshContext(w, nil); err != nil {
		log.Warn("context refresh failed", "error", err.Error())
	}

	if w.AllComplete() && len(w.Agents) > 1 {
		result.Message = i.completionSummary(w, dlog)
		log.Info("workflow complete", "workflow_id", w.ID, "agents", len(w.Agents))
	}
	return result
}

// resolveAgent finds the roster entry a post event belongs to: the derived
// agent id when it matches, otherwise the first running agent of the same
// role.
func (i *Interceptor) resolveAgent(w *workflow.Workflow, p *Payload) string {
	if p.ToolUseID != "" {
		id := p.AgentID()
		if _, ok := w.Agents[id]; ok {
			return id
		}
	}
	for _, a := range w.RunningAgents() {
		if a.Role == p.ToolInput.SubagentType {
			return a.ID
		}
	}
	return ""
}

// refreshContext re-renders the session's context cache from current state.
func (i *Interceptor) refreshContext(w *workflow.Workflow, incoming *workflow.Agent) (string, error) {
	records, err := decision.NewLog(i.registry.Store().DecisionLogPath(w.ID)).List()
	if err != nil {
		return "", err
	}
	conflicts := i.detector.Detect(w, records)
	return i.renderer.WriteCache(i.registry.Store(), w, records, conflicts, incoming)
}

// completionSummary builds the parallel-work-complete notice surfaced when
// every agent in a multi-agent workflow has finished.
func (i *Interceptor) completionSummary(w *workflow.Workflow, dlog *decision.Log) string {
	records, _ := dlog.List()

	var bullets []string
	for _, rec := range records {
		bullets = append(bullets, fmt.Sprintf("[%s] %s", rec.AgentID, rec.Text))
		if len(bullets) == 10 {
			break
		}
	}

	var b strings.Builder
	b.WriteString("📋 CHITTER: Parallel work complete\n")
	fmt.Fprintf(&b, "Workflow: %s\n", w.ID)
	fmt.Fprintf(&b, "Agents: %d\n", len(w.Agents))
	if len(bullets) > 0 {
		b.WriteString("Decisions detected:\n")
		b.WriteString(strings.Join(bullets, "\n"))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n💡 Review for conflicts with: chitter_workflow_review(%q)", w.ID)
	return b.String()
}
