package workflow

import (
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input     string
		want      Mode
		wantKnown bool
	}{
		{"track", ModeTrack, true},
		{"nudge", ModeNudge, true},
		{"block", ModeBlock, true},
		{"sequential", ModeSequential, true},
		{"queue", ModeQueue, true},
		{"", DefaultMode, false},
		{"TRACK", DefaultMode, false},
		{"chaos", DefaultMode, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, known := ParseMode(tt.input)
			if got != tt.want || known != tt.wantKnown {
				t.Errorf("ParseMode(%q) = (%q, %v), want (%q, %v)", tt.input, got, known, tt.want, tt.wantKnown)
			}
		})
	}
}

func TestAgentsInOrder(t *testing.T) {
	w := &Workflow{
		Agents: map[string]*Agent{
			"b": {ID: "b"},
			"a": {ID: "a"},
			"c": {ID: "c"},
		},
		AgentOrder: []string{"a", "b", "missing", "c"},
	}

	agents := w.AgentsInOrder()
	if len(agents) != 3 {
		t.Fatalf("got %d agents, want 3", len(agents))
	}
	for i, want := range []string{"a", "b", "c"} {
		if agents[i].ID != want {
			t.Errorf("agents[%d] = %q, want %q", i, agents[i].ID, want)
		}
	}
}

func TestAllComplete(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		agents map[string]*Agent
		want   bool
	}{
		{name: "empty roster", agents: map[string]*Agent{}, want: false},
		{
			name: "one running",
			agents: map[string]*Agent{
				"a": {ID: "a", Status: AgentCompleted, CompletedAt: &now},
				"b": {ID: "b", Status: AgentRunning},
			},
			want: false,
		},
		{
			name: "all completed",
			agents: map[string]*Agent{
				"a": {ID: "a", Status: AgentCompleted, CompletedAt: &now},
				"b": {ID: "b", Status: AgentCompleted, CompletedAt: &now},
			},
			want: true,
		},
		{
			name: "blocked counts as incomplete",
			agents: map[string]*Agent{
				"a": {ID: "a", Status: AgentBlocked},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Workflow{Agents: tt.agents}
			if got := w.AllComplete(); got != tt.want {
				t.Errorf("AllComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunningAndCompletedAgents(t *testing.T) {
	now := time.Now()
	w := &Workflow{
		Agents: map[string]*Agent{
			"r1": {ID: "r1", Status: AgentRunning},
			"c1": {ID: "c1", Status: AgentCompleted, CompletedAt: &now},
			"q1": {ID: "q1", Status: AgentQueued},
		},
		AgentOrder: []string{"r1", "c1", "q1"},
	}

	if got := w.RunningAgents(); len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("RunningAgents = %v", got)
	}
	if got := w.CompletedAgents(); len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("CompletedAgents = %v", got)
	}
}
