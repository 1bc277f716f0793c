package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/Iron-Ham/chitter/internal/errors"
	"github.com/Iron-Ham/chitter/internal/logging"
)

// defaultLockTimeout bounds how long a gating call may wait on a workflow
// lock before giving up. Kept short: the host runs hooks synchronously.
const defaultLockTimeout = 2 * time.Second

// Registry provides CRUD over workflow records with the atomicity
// guarantee gating needs: the check-roster-then-mutate-roster step of a
// gating decision runs under a workflow-scoped exclusive lock, so two
// racing spawn attempts for the same workflow are serialized across
// exactly that step. The lock never spans agent execution.
type Registry struct {
	store       *Store
	logger      *logging.Logger
	lockTimeout time.Duration
	clock       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLockTimeout overrides the bounded lock acquisition deadline.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.lockTimeout = d
		}
	}
}

// WithClock overrides the time source. Tests use this to exercise idle
// reclaim without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry creates a Registry backed by the given store.
func NewRegistry(store *Store, logger *logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.NopLogger()
	}
	r := &Registry{
		store:       store,
		logger:      logger,
		lockTimeout: defaultLockTimeout,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying store, for callers that need path layout
// (the decision log, context cache).
func (r *Registry) Store() *Store { return r.store }

// NewWorkflowID generates a short workflow id. The original scheme (first
// uuid4 group) is kept for readability in prompts and logs.
func NewWorkflowID() string {
	return uuid.NewString()[:8]
}

// Create creates and persists a new active workflow, binding it to the
// session key when one is given. A session key may map to at most one
// active workflow; a second bind attempt fails with ErrSessionHasWorkflow.
func (r *Registry) Create(sessionKey, description string, mode Mode, planned []string) (*Workflow, error) {
	now := r.clock()
	w := &Workflow{
		ID:            NewWorkflowID(),
		SessionKey:    sessionKey,
		Description:   description,
		Mode:          mode,
		Status:        StatusActive,
		PlannedAgents: planned,
		Agents:        make(map[string]*Agent),
		AgentOrder:    []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if sessionKey != "" {
		if err := r.bindSession(sessionKey, w.ID); err != nil {
			return nil, err
		}
	}

	if err := r.store.Save(w); err != nil {
		return nil, cerrors.NewWorkflowError("create", err).WithWorkflow(w.ID)
	}

	r.logger.WithWorkflow(w.ID).Info("workflow created",
		"session_key", sessionKey, "mode", string(mode), "description", description)
	return w, nil
}

// Get loads a workflow. Closed workflows are deleted on close, so a
// successful load always returns an active record.
func (r *Registry) Get(id string) (*Workflow, error) {
	return r.store.Load(id)
}

// ActiveForSession resolves the active workflow for a session key through
// the session index. A dangling index entry (workflow file deleted or
// corrupt) is unbound and reported as not found.
func (r *Registry) ActiveForSession(sessionKey string) (*Workflow, error) {
	fl := NewFileLock(r.store.SessionLockPath())
	if err := fl.LockTimeout(r.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = fl.Unlock() }()

	idx := r.store.loadSessionIndex()
	id, ok := idx.Sessions[sessionKey]
	if !ok {
		return nil, cerrors.ErrWorkflowNotFound
	}

	w, err := r.store.Load(id)
	if err != nil {
		delete(idx.Sessions, sessionKey)
		_ = r.store.saveSessionIndex(idx)
		if cerrors.IsCorruption(err) {
			r.logger.WithSession(sessionKey).Warn("workflow state corrupted, treating as absent", "workflow_id", id)
		}
		return nil, cerrors.ErrWorkflowNotFound
	}
	return w, nil
}

// Update applies fn to a workflow inside its exclusive lock and persists
// the result before returning. fn runs on freshly loaded state; returning
// an error aborts the save.
func (r *Registry) Update(id string, fn func(*Workflow) error) (*Workflow, error) {
	fl := NewFileLock(r.store.LockPath(id))
	if err := fl.LockTimeout(r.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = fl.Unlock() }()

	w, err := r.store.Load(id)
	if err != nil {
		return nil, err
	}

	if err := fn(w); err != nil {
		return nil, err
	}

	w.UpdatedAt = r.clock()
	if err := r.store.Save(w); err != nil {
		return nil, cerrors.NewWorkflowError("update", err).WithWorkflow(id)
	}
	return w, nil
}

// GateForSession is the atomic gating unit: it resolves (or, via create,
// builds) the session's workflow and applies fn, all under the session
// lock followed by the workflow lock. Lock order is always session index
// first, then workflow, matching every other path that takes both.
//
// create may be nil, in which case an absent workflow yields
// ErrWorkflowNotFound. When create runs, the new workflow is bound to the
// session before fn sees it.
func (r *Registry) GateForSession(sessionKey string, create func() *Workflow, fn func(*Workflow) error) (*Workflow, error) {
	sessLock := NewFileLock(r.store.SessionLockPath())
	if err := sessLock.LockTimeout(r.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = sessLock.Unlock() }()

	idx := r.store.loadSessionIndex()
	id, bound := idx.Sessions[sessionKey]

	var w *Workflow
	if bound {
		var err error
		w, err = r.store.Load(id)
		if err != nil {
			// Dangling or corrupt: unbind and fall through to create.
			delete(idx.Sessions, sessionKey)
			bound = false
			if cerrors.IsCorruption(err) {
				r.logger.WithSession(sessionKey).Warn("workflow state corrupted, starting fresh", "workflow_id", id)
			}
		}
	}

	if !bound {
		if create == nil {
			return nil, cerrors.ErrWorkflowNotFound
		}
		w = create()
		w.SessionKey = sessionKey
		idx.Sessions[sessionKey] = w.ID
		if err := r.store.saveSessionIndex(idx); err != nil {
			return nil, fmt.Errorf("bind session: %w", err)
		}
		r.logger.WithSession(sessionKey).Info("workflow auto-created",
			"workflow_id", w.ID, "mode", string(w.Mode))
	}

	wfLock := NewFileLock(r.store.LockPath(w.ID))
	if err := wfLock.LockTimeout(r.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = wfLock.Unlock() }()

	if err := fn(w); err != nil {
		return nil, err
	}

	w.UpdatedAt = r.clock()
	if err := r.store.Save(w); err != nil {
		return nil, cerrors.NewWorkflowError("gate", err).WithWorkflow(w.ID)
	}
	return w, nil
}

// RegisterAgent adds an agent to a workflow under its lock. Reusing an
// agent id within an open workflow fails with ErrDuplicateAgent.
func (r *Registry) RegisterAgent(workflowID string, agent *Agent) (*Workflow, error) {
	return r.Update(workflowID, func(w *Workflow) error {
		return AddAgent(w, agent, r.clock())
	})
}

// AddAgent attaches an agent to an already-locked workflow. Exposed so
// gating callbacks can register inside GateForSession without re-locking.
func AddAgent(w *Workflow, agent *Agent, now time.Time) error {
	if _, exists := w.Agents[agent.ID]; exists {
		return cerrors.NewWorkflowError("register", cerrors.ErrDuplicateAgent).
			WithWorkflow(w.ID).WithAgent(agent.ID)
	}

	agent.WorkflowID = w.ID
	if agent.Status == "" {
		agent.Status = AgentRunning
	}
	if agent.StartedAt.IsZero() {
		agent.StartedAt = now
	}
	w.Agents[agent.ID] = agent
	w.AgentOrder = append(w.AgentOrder, agent.ID)
	return nil
}

// CompleteAgent marks an agent completed, storing its summary and the
// files it reported modifying.
func (r *Registry) CompleteAgent(workflowID, agentID, summary string, filesModified []string) (*Workflow, error) {
	return r.Update(workflowID, func(w *Workflow) error {
		a, ok := w.Agents[agentID]
		if !ok {
			return cerrors.NewWorkflowError("complete", cerrors.ErrAgentNotFound).
				WithWorkflow(workflowID).WithAgent(agentID)
		}
		now := r.clock()
		a.Status = AgentCompleted
		a.CompletedAt = &now
		a.Summary = summary
		if len(filesModified) > 0 {
			a.FilesModified = filesModified
		}
		return nil
	})
}

// Close closes a workflow: the session binding is removed and the state
// files deleted. Conflicts are derived state, so nothing else needs
// tearing down. Returns the final record for the closure summary.
func (r *Registry) Close(id string) (*Workflow, error) {
	sessLock := NewFileLock(r.store.SessionLockPath())
	if err := sessLock.LockTimeout(r.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = sessLock.Unlock() }()

	wfLock := NewFileLock(r.store.LockPath(id))
	if err := wfLock.LockTimeout(r.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = wfLock.Unlock() }()

	w, err := r.store.Load(id)
	if err != nil {
		return nil, err
	}

	idx := r.store.loadSessionIndex()
	if w.SessionKey != "" && idx.Sessions[w.SessionKey] == id {
		delete(idx.Sessions, w.SessionKey)
		if err := r.store.saveSessionIndex(idx); err != nil {
			return nil, fmt.Errorf("unbind session: %w", err)
		}
	}

	w.Status = StatusClosed
	if err := r.store.Delete(id); err != nil {
		return nil, err
	}

	r.logger.WithWorkflow(id).Info("workflow closed", "agents", len(w.Agents))
	return w, nil
}

// ListActive loads all persisted workflows, skipping unreadable records.
func (r *Registry) ListActive() ([]*Workflow, error) {
	ids, err := r.store.ListIDs()
	if err != nil {
		return nil, err
	}

	var workflows []*Workflow
	for _, id := range ids {
		w, err := r.store.Load(id)
		if err != nil {
			continue // corrupt or vanished, cleanup will reap it
		}
		if w.Status == StatusActive {
			workflows = append(workflows, w)
		}
	}
	return workflows, nil
}

// Cleanup deletes workflows older than maxAge along with corrupt records,
// and prunes their session bindings. Returns the number deleted.
func (r *Registry) Cleanup(maxAge time.Duration) (int, error) {
	ids, err := r.store.ListIDs()
	if err != nil {
		return 0, err
	}

	now := r.clock()
	deleted := 0
	for _, id := range ids {
		age, err := r.store.AgeOf(id, now)
		corrupt := err != nil && cerrors.IsCorruption(err)
		if err != nil && !corrupt {
			continue
		}
		if !corrupt && age < maxAge {
			continue
		}

		if err := r.store.Delete(id); err == nil {
			deleted++
			r.logger.Info("stale workflow removed", "workflow_id", id, "corrupt", corrupt)
		}
	}

	if deleted > 0 {
		r.pruneSessionIndex()
	}
	return deleted, nil
}

// pruneSessionIndex drops bindings whose workflow no longer exists.
func (r *Registry) pruneSessionIndex() {
	fl := NewFileLock(r.store.SessionLockPath())
	if err := fl.LockTimeout(r.lockTimeout); err != nil {
		return
	}
	defer func() { _ = fl.Unlock() }()

	idx := r.store.loadSessionIndex()
	changed := false
	for key, id := range idx.Sessions {
		if _, err := r.store.Load(id); err != nil {
			delete(idx.Sessions, key)
			changed = true
		}
	}
	if changed {
		_ = r.store.saveSessionIndex(idx)
	}
}

// bindSession records sessionKey → workflowID, enforcing the one active
// workflow per session invariant.
func (r *Registry) bindSession(sessionKey, workflowID string) error {
	fl := NewFileLock(r.store.SessionLockPath())
	if err := fl.LockTimeout(r.lockTimeout); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	idx := r.store.loadSessionIndex()
	if existing, ok := idx.Sessions[sessionKey]; ok {
		// Stale bindings don't count: the workflow must still load.
		if _, err := r.store.Load(existing); err == nil {
			return cerrors.NewWorkflowError("bind", cerrors.ErrSessionHasWorkflow).WithWorkflow(existing)
		}
	}
	idx.Sessions[sessionKey] = workflowID
	return r.store.saveSessionIndex(idx)
}
