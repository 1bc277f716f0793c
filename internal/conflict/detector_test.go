package conflict

import (
	"reflect"
	"testing"
	"time"

	"github.com/Iron-Ham/chitter/internal/decision"
	"github.com/Iron-Ham/chitter/internal/workflow"
)

func testWorkflow(t *testing.T, agents ...*workflow.Agent) *workflow.Workflow {
	t.Helper()
	w := &workflow.Workflow{
		ID:     "wf1",
		Mode:   workflow.ModeNudge,
		Status: workflow.StatusActive,
		Agents: make(map[string]*workflow.Agent),
	}
	for _, a := range agents {
		a.WorkflowID = w.ID
		w.Agents[a.ID] = a
		w.AgentOrder = append(w.AgentOrder, a.ID)
	}
	return w
}

func newDetector(t *testing.T, patterns ...string) *Detector {
	t.Helper()
	d, err := New(patterns)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDetectFileOverlap(t *testing.T) {
	w := testWorkflow(t,
		&workflow.Agent{ID: "backend", FilesModified: []string{"schema.sql", "api/users.go"}},
		&workflow.Agent{ID: "frontend", FilesModified: []string{"web/app.tsx"}},
		&workflow.Agent{ID: "migrations", FilesModified: []string{"schema.sql"}},
	)

	conflicts := newDetector(t).Detect(w, nil)
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1: %+v", len(conflicts), conflicts)
	}
	c := conflicts[0]
	if c.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want high", c.Severity)
	}
	if c.Agents != [2]string{"backend", "migrations"} {
		t.Errorf("Agents = %v, want backend before migrations (roster order)", c.Agents)
	}
	if !reflect.DeepEqual(c.Files, []string{"schema.sql"}) {
		t.Errorf("Files = %v", c.Files)
	}
}

func TestDetectFileOverlapNotTransitive(t *testing.T) {
	// a shares x.go with b, b shares y.go with c. a and c do not conflict.
	w := testWorkflow(t,
		&workflow.Agent{ID: "a", FilesModified: []string{"x.go"}},
		&workflow.Agent{ID: "b", FilesModified: []string{"x.go", "y.go"}},
		&workflow.Agent{ID: "c", FilesModified: []string{"y.go"}},
	)

	conflicts := newDetector(t).Detect(w, nil)
	if len(conflicts) != 2 {
		t.Fatalf("got %d conflicts, want 2: %+v", len(conflicts), conflicts)
	}
	for _, c := range conflicts {
		if c.Agents == [2]string{"a", "c"} {
			t.Errorf("transitive pair a/c reported: %+v", c)
		}
	}
}

func TestDetectFilesFromDecisionRecords(t *testing.T) {
	w := testWorkflow(t,
		&workflow.Agent{ID: "auth"},
		&workflow.Agent{ID: "billing"},
	)
	records := []decision.Record{
		{AgentID: "auth", Text: "Created the users table with an email unique index", FilesModified: []string{"schema.sql"}},
		{AgentID: "billing", Text: "Added invoices table to the shared schema", FilesModified: []string{"schema.sql"}},
	}

	conflicts := newDetector(t).Detect(w, records)
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1: %+v", len(conflicts), conflicts)
	}
	c := conflicts[0]
	if c.Severity != SeverityHigh || len(c.Evidence) != 2 {
		t.Errorf("conflict = %+v, want high with both records as evidence", c)
	}
}

func TestDetectIgnorePatterns(t *testing.T) {
	w := testWorkflow(t,
		&workflow.Agent{ID: "a", FilesModified: []string{"go.sum", "pkg/a.go"}},
		&workflow.Agent{ID: "b", FilesModified: []string{"go.sum", "pkg/b.go"}},
	)

	if conflicts := newDetector(t).Detect(w, nil); len(conflicts) != 1 {
		t.Fatalf("without ignores got %d conflicts, want 1", len(conflicts))
	}
	if conflicts := newDetector(t, "go.sum").Detect(w, nil); len(conflicts) != 0 {
		t.Errorf("with go.sum ignored got %+v, want none", conflicts)
	}
}

func TestDetectAreaOverlap(t *testing.T) {
	w := testWorkflow(t,
		&workflow.Agent{ID: "a", DeclaredScope: []string{" Auth ", "database"}},
		&workflow.Agent{ID: "b", DeclaredScope: []string{"auth"}},
	)
	records := []decision.Record{
		{AgentID: "a", Text: "Using JWT with 15 minute expiry", Area: "auth"},
		{AgentID: "a", Text: "Chose btree indexes for the lookup tables", Area: "database"},
		{AgentID: "b", Text: "Went with session cookies for the web flow"},
	}

	conflicts := newDetector(t).Detect(w, records)
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1: %+v", len(conflicts), conflicts)
	}
	c := conflicts[0]
	if c.Severity != SeverityMedium || c.Area != "auth" {
		t.Errorf("conflict = %+v, want medium in area auth", c)
	}
	// a's evidence is only its auth-tagged record; b has no tags so all
	// of its records stand in.
	if len(c.Evidence) != 2 {
		t.Fatalf("Evidence = %+v, want 2 records", c.Evidence)
	}
	if c.Evidence[0].Area != "auth" || c.Evidence[1].AgentID != "b" {
		t.Errorf("Evidence = %+v", c.Evidence)
	}
}

func TestDetectOrderingIsDeterministic(t *testing.T) {
	w := testWorkflow(t,
		&workflow.Agent{ID: "a", DeclaredScope: []string{"api"}, FilesModified: []string{"routes.go"}},
		&workflow.Agent{ID: "b", DeclaredScope: []string{"api"}, FilesModified: []string{"routes.go"}},
		&workflow.Agent{ID: "c", DeclaredScope: []string{"api"}},
	)

	d := newDetector(t)
	first := d.Detect(w, nil)
	for i := 0; i < 10; i++ {
		if again := d.Detect(w, nil); !reflect.DeepEqual(again, first) {
			t.Fatalf("run %d differed:\n%+v\n%+v", i, again, first)
		}
	}

	// a/b file conflict first, then a/b area, then a/c and b/c areas.
	wantPairs := [][2]string{{"a", "b"}, {"a", "b"}, {"a", "c"}, {"b", "c"}}
	if len(first) != len(wantPairs) {
		t.Fatalf("got %d conflicts, want %d: %+v", len(first), len(wantPairs), first)
	}
	for i, want := range wantPairs {
		if first[i].Agents != want {
			t.Errorf("conflict %d agents = %v, want %v", i, first[i].Agents, want)
		}
	}
	if first[0].Severity != SeverityHigh || first[1].Severity != SeverityMedium {
		t.Errorf("within-pair ordering wrong: %q then %q", first[0].Severity, first[1].Severity)
	}
}

func TestDetectSkipsMalformedRecords(t *testing.T) {
	w := testWorkflow(t,
		&workflow.Agent{ID: "a"},
		&workflow.Agent{ID: "b"},
	)
	records := []decision.Record{
		{AgentID: "", Text: "orphan record", FilesModified: []string{"main.go"}},
		{AgentID: "a", Text: "", FilesModified: []string{"main.go"}},
		{AgentID: "a", Text: "Implemented the loader in main", Timestamp: time.Now(), FilesModified: []string{"main.go"}},
	}

	if conflicts := newDetector(t).Detect(w, records); len(conflicts) != 0 {
		t.Errorf("got %+v, want none (malformed records must not count)", conflicts)
	}
}

func TestDetectSingleAgentNoConflicts(t *testing.T) {
	w := testWorkflow(t, &workflow.Agent{ID: "solo", FilesModified: []string{"a.go"}})

	if conflicts := newDetector(t).Detect(w, nil); conflicts != nil {
		t.Errorf("got %+v, want nil", conflicts)
	}
	if conflicts := newDetector(t).Detect(nil, nil); conflicts != nil {
		t.Errorf("nil workflow: got %+v, want nil", conflicts)
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	if _, err := New([]string{"[unclosed"}); err == nil {
		t.Error("expected error for malformed glob pattern")
	}
}
