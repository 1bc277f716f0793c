package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	cerrors "github.com/Iron-Ham/chitter/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func testWorkflow(id string) *Workflow {
	now := time.Now().UTC().Truncate(time.Second)
	return &Workflow{
		ID:          id,
		SessionKey:  "sess-1",
		Description: "Building user authentication system",
		Mode:        ModeSequential,
		Status:      StatusActive,
		Agents:      make(map[string]*Agent),
		AgentOrder:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	store := newTestStore(t)

	w := testWorkflow("wf-1234")
	w.Agents["frontend-001"] = &Agent{
		ID:            "frontend-001",
		WorkflowID:    w.ID,
		Role:          "frontend",
		Task:          "Build login form",
		DeclaredScope: []string{"auth flow"},
		Status:        AgentRunning,
		StartedAt:     w.CreatedAt,
	}
	w.AgentOrder = []string{"frontend-001"}

	if err := store.Save(w); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load("wf-1234")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Description != w.Description {
		t.Errorf("Description = %q, want %q", loaded.Description, w.Description)
	}
	if loaded.Mode != ModeSequential {
		t.Errorf("Mode = %q, want %q", loaded.Mode, ModeSequential)
	}
	agent, ok := loaded.Agents["frontend-001"]
	if !ok {
		t.Fatal("agent missing after roundtrip")
	}
	if agent.Status != AgentRunning {
		t.Errorf("agent status = %q, want %q", agent.Status, AgentRunning)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("nope")
	if !cerrors.Is(err, cerrors.ErrWorkflowNotFound) {
		t.Errorf("Load missing = %v, want ErrWorkflowNotFound", err)
	}
}

func TestStoreLoadCorrupt(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name    string
		content string
	}{
		{name: "truncated json", content: `{"workflow_id": "wf-bad", "agents": {`},
		{name: "id mismatch", content: `{"workflow_id": "other", "status": "active"}`},
		{name: "empty id", content: `{"status": "active"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(store.WorkflowPath("wf-bad"), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := store.Load("wf-bad")
			if !cerrors.IsCorruption(err) {
				t.Errorf("Load corrupt = %v, want ErrStateCorrupted", err)
			}
		})
	}
}

func TestStoreDeleteRemovesSatellites(t *testing.T) {
	store := newTestStore(t)

	w := testWorkflow("wf-del")
	if err := store.Save(w); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.DecisionLogPath("wf-del"), []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete("wf-del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, path := range []string{store.WorkflowPath("wf-del"), store.DecisionLogPath("wf-del")} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", filepath.Base(path))
		}
	}

	if err := store.Delete("wf-del"); !cerrors.Is(err, cerrors.ErrWorkflowNotFound) {
		t.Errorf("second Delete = %v, want ErrWorkflowNotFound", err)
	}
}

func TestStoreListIDs(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"wf-a", "wf-b"} {
		if err := store.Save(testWorkflow(id)); err != nil {
			t.Fatal(err)
		}
	}
	// Decision logs must not show up as workflows.
	if err := os.WriteFile(store.DecisionLogPath("wf-a"), []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ids, err := store.ListIDs()
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ListIDs = %v, want 2 entries", ids)
	}
}

func TestAtomicWritePersistsOnRewrite(t *testing.T) {
	store := newTestStore(t)

	w := testWorkflow("wf-rw")
	if err := store.Save(w); err != nil {
		t.Fatal(err)
	}

	w.Description = "updated"
	if err := store.Save(w); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load("wf-rw")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Description != "updated" {
		t.Errorf("Description = %q, want %q", loaded.Description, "updated")
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(store.WorkflowPath("wf-rw")))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && filepath.Ext(e.Name()) != ".jsonl" {
			t.Errorf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestForwardReadableRecords(t *testing.T) {
	store := newTestStore(t)

	// A record written by a future version with extra fields must load.
	future := `{
		"workflow_id": "wf-future",
		"status": "active",
		"mode": "nudge",
		"agents": {},
		"agent_order": [],
		"some_future_field": {"nested": true}
	}`
	if err := os.WriteFile(store.WorkflowPath("wf-future"), []byte(future), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := store.Load("wf-future")
	if err != nil {
		t.Fatalf("Load future record: %v", err)
	}
	if w.Mode != ModeNudge {
		t.Errorf("Mode = %q, want %q", w.Mode, ModeNudge)
	}
}
