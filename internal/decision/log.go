// Package decision provides the append-only decision log attached to each
// workflow and the heuristic extractor that mines decision statements out of
// raw agent output.
//
// The log is one JSONL file per workflow. Records are only ever appended;
// there is no edit and no delete, so the log doubles as an audit trail of
// what each agent committed to. Readers tolerate unknown fields and skip
// malformed lines, which keeps old binaries able to read files written by
// newer ones.
//
// Basic usage:
//
//	log := decision.NewLog(store.DecisionLogPath(workflowID))
//	rec, err := log.Append("a1b2c3d4e5f6", "Using REST with /api/auth/* endpoints",
//		decision.WithType(decision.TypeAPI),
//		decision.WithRationale("matches the existing gateway"))
//	records, err := log.List()
package decision

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

// Type categorizes a decision the way agents report them.
type Type string

const (
	TypeArchitecture Type = "architecture"
	TypeApproach     Type = "approach"
	TypeAPI          Type = "api"
	TypeDataModel    Type = "data_model"
	TypeInterface    Type = "interface"
	TypeDependency   Type = "dependency"
	TypeOther        Type = "other"
)

// ValidTypes lists the accepted decision categories.
func ValidTypes() []Type {
	return []Type{
		TypeArchitecture, TypeApproach, TypeAPI,
		TypeDataModel, TypeInterface, TypeDependency, TypeOther,
	}
}

// ParseType converts a string to a Type, falling back to TypeOther for
// anything unrecognized. The second return value is false on fallback.
func ParseType(s string) (Type, bool) {
	for _, t := range ValidTypes() {
		if Type(s) == t {
			return t, true
		}
	}
	return TypeOther, false
}

// Record is one logged decision. Timestamp is assigned by the log at append
// time, never by the caller.
type Record struct {
	AgentID       string    `json:"agent_id"`
	Timestamp     time.Time `json:"timestamp"`
	Text          string    `json:"text"`
	Type          Type      `json:"type,omitempty"`
	Rationale     string    `json:"rationale,omitempty"`
	FilesModified []string  `json:"files_modified,omitempty"`
	Area          string    `json:"area,omitempty"`
}

// RecordOption customizes a record at append time.
type RecordOption func(*Record)

// WithType sets the decision category.
func WithType(t Type) RecordOption {
	return func(r *Record) { r.Type = t }
}

// WithRationale records why the decision was made.
func WithRationale(rationale string) RecordOption {
	return func(r *Record) { r.Rationale = rationale }
}

// WithFiles records the files the decision touches.
func WithFiles(files []string) RecordOption {
	return func(r *Record) { r.FilesModified = files }
}

// WithArea tags the decision with the agent's declared scope area.
func WithArea(area string) RecordOption {
	return func(r *Record) { r.Area = area }
}

// Log is the append-only decision log for one workflow.
type Log struct {
	path  string
	clock func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) { l.clock = clock }
}

// NewLog returns a log backed by the JSONL file at path. The file is created
// lazily on first append.
func NewLog(path string, opts ...Option) *Log {
	l := &Log{path: path, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append writes one record to the log and returns it with its assigned
// timestamp. The write is O_APPEND plus fsync so that concurrent hook
// processes appending to the same log cannot interleave partial lines.
func (l *Log) Append(agentID, text string, opts ...RecordOption) (Record, error) {
	if agentID == "" {
		return Record{}, errors.New("decision: agent id is required")
	}
	if strings.TrimSpace(text) == "" {
		return Record{}, errors.New("decision: text is required")
	}

	rec := Record{
		AgentID:   agentID,
		Timestamp: l.clock().UTC(),
		Text:      strings.TrimSpace(text),
	}
	for _, opt := range opts {
		opt(&rec)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return Record{}, err
	}
	if err := f.Sync(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns every readable record in insertion order. A missing log file
// is an empty log, not an error. Malformed lines and records without an
// agent id or text are skipped.
func (l *Log) List() ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.AgentID == "" || rec.Text == "" {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, err
	}
	return records, nil
}

// ListAgent returns the records logged by one agent, in insertion order.
func (l *Log) ListAgent(agentID string) ([]Record, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, rec := range all {
		if rec.AgentID == agentID {
			records = append(records, rec)
		}
	}
	return records, nil
}
