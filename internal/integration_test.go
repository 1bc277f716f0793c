// Package internal contains integration tests that verify the packages work
// together the way a live session exercises them: spawn gating through the
// hook interceptor, decision capture on completion, and workflow teardown.
package internal

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/Iron-Ham/chitter/internal/conflict"
	"github.com/Iron-Ham/chitter/internal/decision"
	"github.com/Iron-Ham/chitter/internal/hook"
	"github.com/Iron-Ham/chitter/internal/policy"
	"github.com/Iron-Ham/chitter/internal/render"
	"github.com/Iron-Ham/chitter/internal/workflow"
)

func parsePayload(t *testing.T, raw string) *hook.Payload {
	t.Helper()
	p, err := hook.ParsePayload(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	return p
}

func prePayload(toolUseID, description string) string {
	return fmt.Sprintf(`{
		"session_id": "sess-integration",
		"hook_event_name": "PreToolUse",
		"tool_name": "Task",
		"tool_use_id": %q,
		"tool_input": {"description": %q, "prompt": "do the work", "subagent_type": "general-purpose"}
	}`, toolUseID, description)
}

func postPayload(toolUseID, responseText string) string {
	return fmt.Sprintf(`{
		"session_id": "sess-integration",
		"hook_event_name": "PostToolUse",
		"tool_name": "Task",
		"tool_use_id": %q,
		"tool_input": {"description": "done", "prompt": "do the work"},
		"tool_response": %q
	}`, toolUseID, responseText)
}

// TestHookLifecycle walks a two-agent session end to end: both spawns pass
// the gate, both completions are recorded with their decisions, and the
// final completion surfaces the parallel-work summary.
func TestHookLifecycle(t *testing.T) {
	store, err := workflow.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	registry := workflow.NewRegistry(store, nil)
	engine := policy.NewEngine(registry, nil, policy.WithMode(workflow.ModeNudge))
	detector, err := conflict.New(nil)
	if err != nil {
		t.Fatalf("conflict.New: %v", err)
	}
	i := hook.New(engine, registry, nil, hook.WithDetector(detector))
	ctx := context.Background()

	// Two spawns in the same session join one auto-created workflow.
	resA := i.Pre(ctx, parsePayload(t, prePayload("toolu_aaaa11112222", "Build the backend")))
	if resA.Blocked {
		t.Fatalf("first spawn blocked: %s", resA.Message)
	}
	resB := i.Pre(ctx, parsePayload(t, prePayload("toolu_bbbb11112222", "Build the frontend")))
	if resB.Blocked {
		t.Fatalf("second spawn blocked: %s", resB.Message)
	}

	w, err := registry.ActiveForSession("sess-int")
	if err != nil {
		t.Fatalf("ActiveForSession: %v", err)
	}
	if got := len(w.Agents); got != 2 {
		t.Fatalf("got %d agents, want 2", got)
	}

	// The rendered context file exists before either agent starts work.
	data, err := os.ReadFile(store.ContextCachePath("sess-int"))
	if err != nil {
		t.Fatalf("context cache missing: %v", err)
	}
	if !strings.Contains(string(data), workflow.CoordinationMarker) {
		t.Error("context cache missing coordination marker")
	}

	// First agent finishes; its output carries a decision worth logging.
	post := i.Post(ctx, parsePayload(t, postPayload("toolu_aaaa11112222",
		"Decided to use PostgreSQL for the persistence layer given the JSONB needs.")))
	if post.AgentID != "toolu_aaaa11" {
		t.Errorf("Post resolved agent %q, want toolu_aaaa11", post.AgentID)
	}
	if post.Decisions != 1 {
		t.Errorf("got %d decisions, want 1", post.Decisions)
	}
	if post.Message != "" {
		t.Errorf("mid-workflow completion should carry no summary, got %q", post.Message)
	}

	// Second completion finishes the workflow and surfaces the summary.
	post = i.Post(ctx, parsePayload(t, postPayload("toolu_bbbb11112222",
		"Chose React Query for data fetching since the API is REST-shaped.")))
	if !strings.Contains(post.Message, "Parallel work complete") {
		t.Errorf("final completion missing summary: %q", post.Message)
	}

	w, err = registry.Get(w.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !w.AllComplete() {
		t.Error("workflow should be complete after both posts")
	}

	// The decision log survives on disk, readable independently.
	records, err := decision.NewLog(store.DecisionLogPath(w.ID)).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d decision records, want 2", len(records))
	}

	// Rendering the final state is deterministic.
	conflicts := detector.Detect(w, records)
	first := render.New().Render(w, records, conflicts, nil)
	second := render.New().Render(w, records, conflicts, nil)
	if first != second {
		t.Error("render output is not deterministic")
	}
	if !strings.Contains(first, "PostgreSQL") {
		t.Error("rendered context missing logged decision")
	}

	// Close tears down the workflow and its context cache.
	if _, err := registry.Close(w.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.RemoveContextCache("sess-int"); err != nil {
		t.Fatalf("RemoveContextCache: %v", err)
	}
	if _, err := registry.Get(w.ID); err == nil {
		t.Error("workflow should be gone after close")
	}
}

// TestSequentialGateAcrossHooks verifies the gate holds across separate
// hook invocations: a second spawn is denied while the first agent runs
// and admitted after its completion is posted.
func TestSequentialGateAcrossHooks(t *testing.T) {
	store, err := workflow.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	registry := workflow.NewRegistry(store, nil)
	engine := policy.NewEngine(registry, nil, policy.WithMode(workflow.ModeSequential))
	i := hook.New(engine, registry, nil)
	ctx := context.Background()

	if res := i.Pre(ctx, parsePayload(t, prePayload("toolu_aaaa11112222", "Migrate the schema"))); res.Blocked {
		t.Fatalf("first spawn blocked: %s", res.Message)
	}

	res := i.Pre(ctx, parsePayload(t, prePayload("toolu_bbbb11112222", "Backfill the data")))
	if !res.Blocked {
		t.Fatal("second spawn should be blocked while the first agent runs")
	}
	if !strings.Contains(res.Message, "Sequential mode") {
		t.Errorf("block message = %q, want sequential remediation", res.Message)
	}

	i.Post(ctx, parsePayload(t, postPayload("toolu_aaaa11112222", "Schema migrated.")))

	if res := i.Pre(ctx, parsePayload(t, prePayload("toolu_bbbb11112222", "Backfill the data"))); res.Blocked {
		t.Fatalf("retry after completion should be admitted, got: %s", res.Message)
	}
}
