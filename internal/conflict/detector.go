// Package conflict derives coordination conflicts from a workflow's decision
// log and agent roster. Detection runs at review time over durable state and
// produces nothing persistent: the same workflow and records always yield the
// same, identically ordered report.
package conflict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/chitter/internal/decision"
	"github.com/Iron-Ham/chitter/internal/workflow"
)

// Severity ranks how urgent a conflict is.
type Severity string

const (
	// SeverityHigh means two agents touched the same file. Their changes
	// can collide textually and need a human look.
	SeverityHigh Severity = "high"
	// SeverityMedium means two agents declared the same scope area. Their
	// decisions may be incompatible even without file overlap.
	SeverityMedium Severity = "medium"
)

// Conflict is one detected collision between exactly two agents. File-level
// conflicts carry Files; area-level conflicts carry Area. Evidence cites the
// decision records that exposed the collision.
type Conflict struct {
	Severity Severity          `json:"severity"`
	Agents   [2]string         `json:"agents"`
	Files    []string          `json:"files,omitempty"`
	Area     string            `json:"area,omitempty"`
	Evidence []decision.Record `json:"evidence,omitempty"`
	Message  string            `json:"message"`
}

// Detector finds conflicts in one workflow. Paths matching any ignore
// pattern are excluded from file-level detection.
type Detector struct {
	ignore []glob.Glob
}

// New compiles the configured ignore globs into a detector. A bad pattern
// is a configuration error and is reported rather than silently dropped.
func New(ignorePatterns []string) (*Detector, error) {
	d := &Detector{}
	for _, pattern := range ignorePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("conflict: bad ignore pattern %q: %w", pattern, err)
		}
		d.ignore = append(d.ignore, g)
	}
	return d, nil
}

// Detect reports every conflict between pairs of agents in the workflow.
// Agents are visited in roster order and pairs emitted in first-seen order,
// file-level before area-level within a pair. Records without an agent id
// or text are skipped.
func (d *Detector) Detect(w *workflow.Workflow, records []decision.Record) []Conflict {
	if w == nil || len(w.Agents) < 2 {
		return nil
	}

	byAgent := make(map[string][]decision.Record)
	for _, rec := range records {
		if rec.AgentID == "" || rec.Text == "" {
			continue
		}
		byAgent[rec.AgentID] = append(byAgent[rec.AgentID], rec)
	}

	agents := w.AgentsInOrder()
	files := make(map[string]map[string]bool, len(agents))
	for _, a := range agents {
		files[a.ID] = d.modifiedFiles(a, byAgent[a.ID])
	}

	var conflicts []Conflict
	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			first, second := agents[i], agents[j]

			if c, ok := d.fileConflict(first, second, files, byAgent); ok {
				conflicts = append(conflicts, c)
			}
			conflicts = append(conflicts, areaConflicts(first, second, byAgent)...)
		}
	}
	return conflicts
}

// modifiedFiles collects the files an agent touched, from its completion
// report and from its decision records, minus ignored paths.
func (d *Detector) modifiedFiles(a *workflow.Agent, records []decision.Record) map[string]bool {
	files := make(map[string]bool)
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" || d.ignored(path) {
			return
		}
		files[path] = true
	}
	for _, f := range a.FilesModified {
		add(f)
	}
	for _, rec := range records {
		for _, f := range rec.FilesModified {
			add(f)
		}
	}
	return files
}

func (d *Detector) ignored(path string) bool {
	for _, g := range d.ignore {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// fileConflict reports the high-severity conflict between two agents whose
// modified-file sets intersect.
func (d *Detector) fileConflict(first, second *workflow.Agent, files map[string]map[string]bool, byAgent map[string][]decision.Record) (Conflict, bool) {
	var shared []string
	for f := range files[first.ID] {
		if files[second.ID][f] {
			shared = append(shared, f)
		}
	}
	if len(shared) == 0 {
		return Conflict{}, false
	}
	sort.Strings(shared)

	var evidence []decision.Record
	for _, id := range []string{first.ID, second.ID} {
		for _, rec := range byAgent[id] {
			for _, f := range rec.FilesModified {
				if containsString(shared, strings.TrimSpace(f)) {
					evidence = append(evidence, rec)
					break
				}
			}
		}
	}

	return Conflict{
		Severity: SeverityHigh,
		Agents:   [2]string{first.ID, second.ID},
		Files:    shared,
		Evidence: evidence,
		Message: fmt.Sprintf("Both %s and %s modified %s",
			first.ID, second.ID, strings.Join(shared, ", ")),
	}, true
}

// areaConflicts reports a medium-severity conflict for every scope area the
// two agents both declared. Areas compare case-folded and trimmed.
func areaConflicts(first, second *workflow.Agent, byAgent map[string][]decision.Record) []Conflict {
	seen := make(map[string]bool)
	var conflicts []Conflict
	for _, a := range first.DeclaredScope {
		area := normalizeArea(a)
		if area == "" || seen[area] {
			continue
		}
		seen[area] = true
		for _, b := range second.DeclaredScope {
			if normalizeArea(b) != area {
				continue
			}
			evidence := append(
				areaEvidence(byAgent[first.ID], area),
				areaEvidence(byAgent[second.ID], area)...)
			conflicts = append(conflicts, Conflict{
				Severity: SeverityMedium,
				Agents:   [2]string{first.ID, second.ID},
				Area:     area,
				Evidence: evidence,
				Message: fmt.Sprintf("Both %s and %s made decisions in %q - review for compatibility",
					first.ID, second.ID, area),
			})
			break
		}
	}
	return conflicts
}

// areaEvidence returns an agent's records tagged with the area, or all of
// its records when none carry an area tag.
func areaEvidence(records []decision.Record, area string) []decision.Record {
	var tagged []decision.Record
	anyTagged := false
	for _, rec := range records {
		if rec.Area != "" {
			anyTagged = true
			if normalizeArea(rec.Area) == area {
				tagged = append(tagged, rec)
			}
		}
	}
	if anyTagged {
		return tagged
	}
	return records
}

func normalizeArea(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
