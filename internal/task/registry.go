package task

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// VersionRef points at the ProfileVersion a completed task produced
type VersionRef struct {
	PositionID    uuid.UUID `json:"position_id"`
	VersionNumber int       `json:"version_number"`
}

// Task is the tracked unit of asynchronous generation work. Once a task
// reaches a terminal status it is immutable.
type Task struct {
	ID              uuid.UUID   `json:"id"`
	PositionID      uuid.UUID   `json:"position_id"`
	Status          Status      `json:"status"`
	Progress        int         `json:"progress"` // 0-100, monotone while processing
	CurrentStep     string      `json:"current_step,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	Error           string      `json:"error,omitempty"`
	Result          *VersionRef `json:"result,omitempty"`
	CancelRequested bool        `json:"cancel_requested,omitempty"`
}

// Update describes a partial task update; nil fields are untouched
type Update struct {
	Status   *Status
	Progress *int
	Step     *string
	Error    *string
	Result   *VersionRef
}

// SnapshotSink receives copies of task records on every mutation so they can
// be persisted for durability. The registry remains the source of truth; sink
// failures are logged, never propagated.
type SnapshotSink interface {
	SaveTask(ctx context.Context, t *Task) error
	DeleteTask(ctx context.Context, id uuid.UUID) error
}

// Registry holds the live state of all generation tasks. All access goes
// through its methods; callers receive copies, never shared pointers.
type Registry struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
	sink  SnapshotSink
}

// NewRegistry creates an empty registry. sink may be nil.
func NewRegistry(sink SnapshotSink) *Registry {
	return &Registry{
		tasks: make(map[uuid.UUID]*Task),
		sink:  sink,
	}
}

// Create registers a new queued task for the given position
func (r *Registry) Create(positionID uuid.UUID) *Task {
	t := &Task{
		ID:         uuid.New(),
		PositionID: positionID,
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}

	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()

	r.snapshot(t)
	return t.clone()
}

// Get returns a copy of the task with the given id
func (r *Registry) Get(id uuid.UUID) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, &ErrTaskNotFound{ID: id}
	}
	return t.clone(), nil
}

// Update applies a partial update, enforcing the state machine and progress
// monotonicity. Every status transition is timestamped; transitions into a
// terminal state stamp CompletedAt.
func (r *Registry) Update(id uuid.UUID, upd Update) (*Task, error) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return nil, &ErrTaskNotFound{ID: id}
	}

	if t.Status.Terminal() {
		to := t.Status
		if upd.Status != nil {
			to = *upd.Status
		}
		r.mu.Unlock()
		return nil, &ErrInvalidTransition{ID: id, From: t.Status, To: to}
	}

	if upd.Status != nil && *upd.Status != t.Status {
		if !transitionAllowed(t.Status, *upd.Status) {
			r.mu.Unlock()
			return nil, &ErrInvalidTransition{ID: id, From: t.Status, To: *upd.Status}
		}
	}

	if upd.Progress != nil && t.Status == StatusProcessing && *upd.Progress < t.Progress {
		r.mu.Unlock()
		return nil, &ErrProgressRegression{ID: id, Current: t.Progress, Proposed: *upd.Progress}
	}

	now := time.Now().UTC()
	if upd.Status != nil && *upd.Status != t.Status {
		t.Status = *upd.Status
		switch {
		case t.Status == StatusProcessing:
			t.StartedAt = &now
		case t.Status.Terminal():
			t.CompletedAt = &now
		}
	}
	if upd.Progress != nil {
		t.Progress = *upd.Progress
	}
	if upd.Step != nil {
		t.CurrentStep = *upd.Step
	}
	if upd.Error != nil {
		t.Error = *upd.Error
	}
	if upd.Result != nil {
		t.Result = upd.Result
	}

	updated := t.clone()
	r.mu.Unlock()

	r.snapshot(updated)
	return updated, nil
}

// RequestCancel marks a cancellation request on a non-terminal task. The flag
// is observed by the running job at step boundaries.
func (r *Registry) RequestCancel(id uuid.UUID) (*Task, error) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return nil, &ErrTaskNotFound{ID: id}
	}
	if t.Status.Terminal() {
		r.mu.Unlock()
		return nil, &ErrInvalidTransition{ID: id, From: t.Status, To: StatusCancelled}
	}
	t.CancelRequested = true
	updated := t.clone()
	r.mu.Unlock()

	r.snapshot(updated)
	return updated, nil
}

// CancelRequested reports whether cancellation was requested for the task
func (r *Registry) CancelRequested(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return ok && t.CancelRequested
}

// ListActive returns copies of all tasks not yet in a terminal state
func (r *Registry) ListActive() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []*Task
	for _, t := range r.tasks {
		if !t.Status.Terminal() {
			active = append(active, t.clone())
		}
	}
	return active
}

// Delete removes a terminal task (explicit caller acknowledgement)
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return &ErrTaskNotFound{ID: id}
	}
	if !t.Status.Terminal() {
		r.mu.Unlock()
		return &ErrInvalidTransition{ID: id, From: t.Status, To: t.Status}
	}
	delete(r.tasks, id)
	r.mu.Unlock()

	if r.sink != nil {
		if err := r.sink.DeleteTask(context.Background(), id); err != nil {
			log.Printf("[task] Failed to delete task snapshot %s: %v", id, err)
		}
	}
	return nil
}

// Sweep removes terminal tasks whose completion is older than retention.
// Returns the number of tasks removed.
func (r *Registry) Sweep(retention time.Duration) int {
	cutoff := time.Now().UTC().Add(-retention)

	r.mu.Lock()
	var expired []uuid.UUID
	for id, t := range r.tasks {
		if t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(r.tasks, id)
	}
	r.mu.Unlock()

	if r.sink != nil {
		for _, id := range expired {
			if err := r.sink.DeleteTask(context.Background(), id); err != nil {
				log.Printf("[task] Failed to delete task snapshot %s: %v", id, err)
			}
		}
	}
	return len(expired)
}

// Restore inserts a task record loaded from the snapshot store. In-flight
// records are not resumed: anything non-terminal is recorded as failed, since
// its job died with the previous process.
func (r *Registry) Restore(t *Task) {
	restored := t.clone()
	if !restored.Status.Terminal() {
		now := time.Now().UTC()
		restored.Status = StatusFailed
		restored.Error = "backend_error: interrupted by restart"
		restored.CompletedAt = &now
	}

	r.mu.Lock()
	r.tasks[restored.ID] = restored
	r.mu.Unlock()

	r.snapshot(restored)
}

// snapshot mirrors a task copy to the sink, best effort
func (r *Registry) snapshot(t *Task) {
	if r.sink == nil {
		return
	}
	if err := r.sink.SaveTask(context.Background(), t.clone()); err != nil {
		log.Printf("[task] Failed to persist task snapshot %s: %v", t.ID, err)
	}
}

// clone returns a deep copy of the task
func (t *Task) clone() *Task {
	c := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	if t.Result != nil {
		result := *t.Result
		c.Result = &result
	}
	return &c
}
