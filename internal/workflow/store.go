package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	cerrors "github.com/Iron-Ham/chitter/internal/errors"
)

// State directory layout. The log format may gain fields across versions
// but existing fields are never dropped or repurposed, so older records
// stay readable.
const (
	workflowsDirName = "workflows"
	locksDirName     = "locks"
	activeDirName    = "active"
	sessionIndexName = "sessions.json"
)

// Store persists workflow records as one JSON document per workflow under
// {stateDir}/workflows. Writes are atomic (temp file, fsync, rename) and
// happen before any gating response is returned: the host acts on
// ALLOW/BLOCK immediately, so a crash-then-replay must not lose or
// duplicate an admission decision.
type Store struct {
	stateDir string
}

// NewStore creates a Store rooted at stateDir, creating the directory
// layout if needed.
func NewStore(stateDir string) (*Store, error) {
	for _, dir := range []string{
		filepath.Join(stateDir, workflowsDirName),
		filepath.Join(stateDir, locksDirName),
		filepath.Join(stateDir, activeDirName),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	return &Store{stateDir: stateDir}, nil
}

// StateDir returns the root state directory.
func (s *Store) StateDir() string { return s.stateDir }

// WorkflowPath returns the JSON record path for a workflow.
func (s *Store) WorkflowPath(id string) string {
	return filepath.Join(s.stateDir, workflowsDirName, id+".json")
}

// DecisionLogPath returns the append-only decision log path for a workflow.
func (s *Store) DecisionLogPath(id string) string {
	return filepath.Join(s.stateDir, workflowsDirName, id+".decisions.jsonl")
}

// LockPath returns the advisory lock file path for a workflow.
func (s *Store) LockPath(id string) string {
	return filepath.Join(s.stateDir, locksDirName, id+".lock")
}

// SessionLockPath returns the lock file guarding the session index.
func (s *Store) SessionLockPath() string {
	return filepath.Join(s.stateDir, locksDirName, "sessions.lock")
}

// SessionIndexPath returns the session_key → workflow_id index path.
func (s *Store) SessionIndexPath() string {
	return filepath.Join(s.stateDir, sessionIndexName)
}

// ContextCachePath returns the rendered coordination context path for a
// session. This is the file agents are told to read.
func (s *Store) ContextCachePath(sessionKey string) string {
	return filepath.Join(s.stateDir, activeDirName, sessionKey+".md")
}

// WriteContextCache atomically replaces the session's rendered coordination
// context.
func (s *Store) WriteContextCache(sessionKey, content string) error {
	return atomicWriteFile(s.ContextCachePath(sessionKey), []byte(content), 0644)
}

// RemoveContextCache deletes the session's context cache. Missing files
// are fine.
func (s *Store) RemoveContextCache(sessionKey string) error {
	err := os.Remove(s.ContextCachePath(sessionKey))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Save persists a workflow record atomically.
func (s *Store) Save(w *Workflow) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	return atomicWriteFile(s.WorkflowPath(w.ID), data, 0644)
}

// Load reads a workflow record. Absent files return ErrWorkflowNotFound;
// unreadable or partially-written files return ErrStateCorrupted so
// hook-boundary callers can treat the workflow as absent and start fresh.
func (s *Store) Load(id string) (*Workflow, error) {
	data, err := os.ReadFile(s.WorkflowPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", cerrors.ErrStateCorrupted, err)
	}
	if w.ID == "" || w.ID != id {
		return nil, fmt.Errorf("%w: workflow id mismatch in %s", cerrors.ErrStateCorrupted, s.WorkflowPath(id))
	}
	if w.Agents == nil {
		w.Agents = make(map[string]*Agent)
	}
	return &w, nil
}

// Delete removes a workflow record, its decision log, and its lock file.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.WorkflowPath(id)); err != nil {
		if os.IsNotExist(err) {
			return cerrors.ErrWorkflowNotFound
		}
		return fmt.Errorf("delete workflow file: %w", err)
	}
	// Best effort on the satellites: the record is already gone.
	_ = os.Remove(s.DecisionLogPath(id))
	_ = os.Remove(s.LockPath(id))
	return nil
}

// ListIDs returns the ids of all persisted workflows, sorted by the
// directory's lexical order.
func (s *Store) ListIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.stateDir, workflowsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflows directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// sessionIndex is the persisted session_key → workflow_id mapping.
type sessionIndex struct {
	Sessions map[string]string `json:"sessions"`
}

// loadSessionIndex reads the index, tolerating an absent file.
// A corrupt index is replaced rather than fatal: losing the mapping only
// means the next spawn auto-creates a fresh workflow.
func (s *Store) loadSessionIndex() *sessionIndex {
	idx := &sessionIndex{Sessions: make(map[string]string)}
	data, err := os.ReadFile(s.SessionIndexPath())
	if err != nil {
		return idx
	}
	if err := json.Unmarshal(data, idx); err != nil || idx.Sessions == nil {
		idx.Sessions = make(map[string]string)
	}
	return idx
}

func (s *Store) saveSessionIndex(idx *sessionIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	return atomicWriteFile(s.SessionIndexPath(), data, 0644)
}

// atomicWriteFile writes data to a file atomically by writing to a
// temporary file first, syncing, then renaming. The target is never left
// in a partially-written state.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// AgeOf returns how long ago the workflow record was created, determined
// from the persisted record when readable and the file's modification
// time otherwise. Used by cleanup to reap stale and corrupt state alike.
func (s *Store) AgeOf(id string, now time.Time) (time.Duration, error) {
	w, err := s.Load(id)
	if err == nil {
		return now.Sub(w.CreatedAt), nil
	}
	if cerrors.IsCorruption(err) {
		info, statErr := os.Stat(s.WorkflowPath(id))
		if statErr != nil {
			return 0, statErr
		}
		return now.Sub(info.ModTime()), err
	}
	return 0, err
}
