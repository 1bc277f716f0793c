// Package render produces the coordination context injected into agent
// prompts: a bounded markdown document describing the workflow's roster,
// the decisions made so far, and any open conflicts. Rendering is a pure
// function of its inputs, so refreshing the cache with unchanged state
// rewrites an identical file.
package render

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/chitter/internal/conflict"
	"github.com/Iron-Ham/chitter/internal/decision"
	"github.com/Iron-Ham/chitter/internal/workflow"
)

// maxDecisionBullets caps how many decisions appear per completed agent.
// The document goes into a prompt; it has to stay small.
const maxDecisionBullets = 10

// Renderer builds coordination context documents.
type Renderer struct{}

// New returns a Renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render builds the coordination document for a workflow. incoming, when
// non-nil, is the agent the document is being rendered for; it is excluded
// from the active roster it would otherwise appear in.
func (r *Renderer) Render(w *workflow.Workflow, records []decision.Record, conflicts []conflict.Conflict, incoming *workflow.Agent) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s - Session %s\n\n", workflow.CoordinationMarker, w.SessionKey)
	b.WriteString("**Read this before starting your work.**\n\n")
	b.WriteString("You are part of a parallel agent workflow. Other agents are working on related tasks.\n")
	b.WriteString("Coordinate with them to avoid conflicts.\n\n")

	if incoming != nil {
		b.WriteString("## Your Task\n")
		fmt.Fprintf(&b, "You are: **%s**\n", incoming.Role)
		fmt.Fprintf(&b, "Task: %s\n\n", incoming.Task)
	}

	r.renderActive(&b, w, incoming)
	r.renderCompleted(&b, w, records)

	if len(records) == 0 {
		b.WriteString("No prior decisions recorded.\n\n")
	}

	r.renderConflicts(&b, conflicts)

	b.WriteString("## IMPORTANT: Coordination Rules\n\n")
	b.WriteString("1. **Check decisions above** - If another agent defined an API, endpoint, or interface, USE THE SAME FORMAT\n")
	b.WriteString("2. **Be explicit** - State your decisions clearly so future agents can coordinate with you\n")
	b.WriteString("3. **No conflicts** - If you see a decision that conflicts with your plan, MATCH their decision\n\n")
	b.WriteString("---\n")
	fmt.Fprintf(&b, "*Generated by Chitter for workflow %s*\n", w.ID)

	return b.String()
}

func (r *Renderer) renderActive(b *strings.Builder, w *workflow.Workflow, incoming *workflow.Agent) {
	var others []*workflow.Agent
	for _, a := range w.RunningAgents() {
		if incoming != nil && a.ID == incoming.ID {
			continue
		}
		others = append(others, a)
	}
	if len(others) == 0 {
		return
	}

	b.WriteString("## Currently Active Agents (working in parallel with you)\n\n")
	for _, a := range others {
		fmt.Fprintf(b, "- **%s**: %s\n", a.Role, a.Task)
	}
	b.WriteString("\n")
}

func (r *Renderer) renderCompleted(b *strings.Builder, w *workflow.Workflow, records []decision.Record) {
	completed := w.CompletedAgents()
	if len(completed) == 0 {
		return
	}

	byAgent := make(map[string][]decision.Record)
	for _, rec := range records {
		byAgent[rec.AgentID] = append(byAgent[rec.AgentID], rec)
	}

	b.WriteString("## Completed Agents (coordinate with their decisions)\n\n")
	for _, a := range completed {
		fmt.Fprintf(b, "### %s\n", a.Role)
		fmt.Fprintf(b, "Task: %s\n", a.Task)
		if decisions := byAgent[a.ID]; len(decisions) > 0 {
			b.WriteString("**Decisions made:**\n")
			if len(decisions) > maxDecisionBullets {
				decisions = decisions[:maxDecisionBullets]
			}
			for _, d := range decisions {
				fmt.Fprintf(b, "- %s\n", d.Text)
			}
		}
		b.WriteString("\n")
	}
}

func (r *Renderer) renderConflicts(b *strings.Builder, conflicts []conflict.Conflict) {
	if len(conflicts) == 0 {
		return
	}

	b.WriteString("## Open Conflicts\n\n")
	for _, c := range conflicts {
		glyph := "🟡"
		if c.Severity == conflict.SeverityHigh {
			glyph = "🔴"
		}
		fmt.Fprintf(b, "- %s %s\n", glyph, c.Message)
	}
	b.WriteString("\n")
}

// WriteCache renders the document and writes it to the session's context
// cache file, returning the path written. The path is what block-mode
// remediation tells agents to read.
func (r *Renderer) WriteCache(store *workflow.Store, w *workflow.Workflow, records []decision.Record, conflicts []conflict.Conflict, incoming *workflow.Agent) (string, error) {
	path := store.ContextCachePath(w.SessionKey)
	if err := store.WriteContextCache(w.SessionKey, r.Render(w, records, conflicts, incoming)); err != nil {
		return "", err
	}
	return path, nil
}
