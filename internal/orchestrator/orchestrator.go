// Package orchestrator turns generation requests into tracked, cancellable,
// progress-reporting background jobs and records successful results as
// profile versions.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/profile-orchestrator/internal/catalog"
	"github.com/jonathan/profile-orchestrator/internal/llm"
	"github.com/jonathan/profile-orchestrator/internal/prompts"
	"github.com/jonathan/profile-orchestrator/internal/scoring"
	"github.com/jonathan/profile-orchestrator/internal/task"
	"github.com/jonathan/profile-orchestrator/internal/types"
	"github.com/jonathan/profile-orchestrator/internal/version"
)

// Step labels reported while a job progresses
const (
	StepPreparing  = "preparing request"
	StepInvoking   = "invoking model"
	StepValidating = "validating output"
	StepRecording  = "recording version"
)

// Generator is the generation backend consumed by jobs. *llm.Adapter
// implements it; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, params llm.GenerateParams) (*scoring.ParsedDocument, *llm.GenerationFailure)
}

// ProgressEvent is one observable change in a task's state
type ProgressEvent struct {
	TaskID   uuid.UUID   `json:"task_id"`
	Status   task.Status `json:"status"`
	Progress int         `json:"progress"`
	Step     string      `json:"step,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// jobInput carries what a prepared job needs at run time
type jobInput struct {
	position *catalog.Position
	request  types.GenerationRequest
	author   string
}

// Orchestrator coordinates the task registry, the generation backend adapter
// and the version store. All job failures resolve to a terminal task status;
// only control-operation failures propagate to callers.
type Orchestrator struct {
	registry  *task.Registry
	generator Generator
	store     version.Store
	catalog   catalog.Catalog
	locks     *positionLocks

	jobsMu sync.Mutex
	jobs   map[uuid.UUID]jobInput

	subsMu sync.Mutex
	subs   map[uuid.UUID][]chan ProgressEvent

	// JobTimeout bounds one whole job; the adapter additionally bounds each
	// backend call.
	JobTimeout time.Duration
}

// New creates an orchestrator
func New(registry *task.Registry, generator Generator, store version.Store, cat catalog.Catalog) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		generator:  generator,
		store:      store,
		catalog:    cat,
		locks:      newPositionLocks(),
		jobs:       make(map[uuid.UUID]jobInput),
		subs:       make(map[uuid.UUID][]chan ProgressEvent),
		JobTimeout: 2 * time.Minute,
	}
}

// Start creates a task for the request and begins the job without blocking.
// Returns ErrConcurrentGeneration if a job for the position is in flight.
func (o *Orchestrator) Start(ctx context.Context, req types.GenerationRequest, author string) (*task.Task, error) {
	t, err := o.Prepare(ctx, req, author)
	if err != nil {
		return nil, err
	}
	go o.Run(t.ID)
	return t, nil
}

// Prepare resolves the position, takes the per-position token, and creates
// the queued task. The caller must eventually invoke Run for the task, which
// releases the token.
func (o *Orchestrator) Prepare(ctx context.Context, req types.GenerationRequest, author string) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	pos, err := o.catalog.ResolvePosition(ctx, req.PositionID)
	if err != nil {
		return nil, err
	}

	if !o.locks.tryAcquire(pos.ID) {
		return nil, &ErrConcurrentGeneration{PositionID: pos.ID}
	}

	t := o.registry.Create(pos.ID)

	o.jobsMu.Lock()
	o.jobs[t.ID] = jobInput{position: pos, request: req, author: author}
	o.jobsMu.Unlock()

	log.Printf("[orchestrator] Task %s queued for position %s (%s)", t.ID, pos.ID, pos.Name)
	return t, nil
}

// Poll returns the current state of a task
func (o *Orchestrator) Poll(id uuid.UUID) (*task.Task, error) {
	return o.registry.Get(id)
}

// Result returns the profile version a completed task produced
func (o *Orchestrator) Result(ctx context.Context, id uuid.UUID) (*version.ProfileVersion, error) {
	t, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusCompleted || t.Result == nil {
		return nil, &ErrNotReady{TaskID: id, Status: t.Status}
	}
	return o.store.GetVersion(ctx, t.Result.PositionID, t.Result.VersionNumber)
}

// Cancel requests cancellation of a task. A queued task moves straight to
// cancelled; a processing task gets its cancellation flag set and terminates
// at the next step boundary. Returns the observed task state.
func (o *Orchestrator) Cancel(id uuid.UUID) (*task.Task, error) {
	t, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, &ErrAlreadyTerminal{TaskID: id, Status: t.Status}
	}

	if t.Status == task.StatusQueued {
		cancelled := task.StatusCancelled
		updated, err := o.registry.Update(id, task.Update{Status: &cancelled})
		if err == nil {
			log.Printf("[orchestrator] Task %s cancelled before dispatch", id)
			o.publish(updated)
			return updated, nil
		}
		// The job raced us into processing; fall through to the flag
	}

	updated, err := o.registry.RequestCancel(id)
	if err != nil {
		if _, ok := err.(*task.ErrInvalidTransition); ok {
			current, getErr := o.registry.Get(id)
			if getErr == nil {
				return nil, &ErrAlreadyTerminal{TaskID: id, Status: current.Status}
			}
		}
		return nil, err
	}
	log.Printf("[orchestrator] Cancellation requested for task %s", id)
	return updated, nil
}

// Run executes one prepared job to a terminal status. It is called on its own
// goroutine for single requests and from the bulk dispatcher's worker pool.
func (o *Orchestrator) Run(taskID uuid.UUID) {
	o.jobsMu.Lock()
	input, ok := o.jobs[taskID]
	delete(o.jobs, taskID)
	o.jobsMu.Unlock()
	if !ok {
		log.Printf("[orchestrator] No job input for task %s, skipping", taskID)
		return
	}
	defer o.locks.release(input.position.ID)

	if !o.advance(taskID, task.StatusProcessing, 5, StepPreparing) {
		// Cancelled while queued
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.JobTimeout)
	defer cancel()

	if o.cancelledAtCheckpoint(taskID) {
		return
	}

	o.progress(taskID, 10, StepInvoking)
	doc, failure := o.generator.Generate(ctx, llm.GenerateParams{
		Prompt:      buildPrompt(input),
		Temperature: input.request.Temperature,
	})
	if failure != nil {
		o.fail(taskID, failure)
		return
	}

	if o.cancelledAtCheckpoint(taskID) {
		// The backend call completed in flight, but the task was cancelled:
		// the result is discarded, never recorded.
		return
	}

	o.progress(taskID, 70, StepValidating)
	if doc.Flagged {
		log.Printf("[orchestrator] Task %s: document flagged (completeness %.2f)", taskID, doc.CompletenessScore)
	}

	if o.cancelledAtCheckpoint(taskID) {
		return
	}

	o.progress(taskID, 90, StepRecording)
	exists, err := o.store.HasProfile(ctx, input.position.ID)
	if err != nil {
		o.fail(taskID, &llm.GenerationFailure{
			Kind:   llm.FailureBackend,
			Detail: "failed to check existing profile",
			Cause:  err,
		})
		return
	}
	versionType := version.TypeGenerated
	if exists {
		versionType = version.TypeRegenerated
	}

	v, err := o.store.Append(ctx, input.position.ID, version.AppendInput{
		Content:           doc.Content,
		ValidityScore:     doc.ValidityScore,
		CompletenessScore: doc.CompletenessScore,
		Type:              versionType,
		CreatedBy:         input.author,
	})
	if err != nil {
		o.fail(taskID, &llm.GenerationFailure{
			Kind:   llm.FailureBackend,
			Detail: "failed to record version",
			Cause:  err,
		})
		return
	}

	completed := task.StatusCompleted
	full := 100
	done := ""
	updated, err := o.registry.Update(taskID, task.Update{
		Status:   &completed,
		Progress: &full,
		Step:     &done,
		Result:   &task.VersionRef{PositionID: v.PositionID, VersionNumber: v.VersionNumber},
	})
	if err != nil {
		log.Printf("[orchestrator] Failed to complete task %s: %v", taskID, err)
		return
	}
	o.publish(updated)
	log.Printf("[orchestrator] Task %s completed — position %s version %d (%s)",
		taskID, v.PositionID, v.VersionNumber, v.Type)
}

// advance transitions the task status, reporting whether the job may proceed
func (o *Orchestrator) advance(taskID uuid.UUID, status task.Status, progress int, step string) bool {
	updated, err := o.registry.Update(taskID, task.Update{
		Status:   &status,
		Progress: &progress,
		Step:     &step,
	})
	if err != nil {
		return false
	}
	o.publish(updated)
	return true
}

// progress reports a step boundary within the current status
func (o *Orchestrator) progress(taskID uuid.UUID, progress int, step string) {
	updated, err := o.registry.Update(taskID, task.Update{
		Progress: &progress,
		Step:     &step,
	})
	if err != nil {
		log.Printf("[orchestrator] Failed to report progress for task %s: %v", taskID, err)
		return
	}
	o.publish(updated)
}

// cancelledAtCheckpoint observes the cancellation flag at a step boundary and
// finalizes the task as cancelled when set.
func (o *Orchestrator) cancelledAtCheckpoint(taskID uuid.UUID) bool {
	if !o.registry.CancelRequested(taskID) {
		return false
	}
	cancelled := task.StatusCancelled
	updated, err := o.registry.Update(taskID, task.Update{Status: &cancelled})
	if err != nil {
		log.Printf("[orchestrator] Failed to cancel task %s: %v", taskID, err)
		return true
	}
	o.publish(updated)
	log.Printf("[orchestrator] Task %s cancelled at checkpoint", taskID)
	return true
}

// fail finalizes the task as failed with the adapter's failure detail
func (o *Orchestrator) fail(taskID uuid.UUID, failure *llm.GenerationFailure) {
	failed := task.StatusFailed
	message := fmt.Sprintf("%s: %s", failure.Kind, failure.Detail)
	updated, err := o.registry.Update(taskID, task.Update{
		Status: &failed,
		Error:  &message,
	})
	if err != nil {
		log.Printf("[orchestrator] Failed to mark task %s failed: %v", taskID, err)
		return
	}
	o.publish(updated)
	log.Printf("[orchestrator] Task %s failed: %v", taskID, failure)
}

// buildPrompt renders the generation prompt for a position
func buildPrompt(input jobInput) string {
	template := prompts.MustGet("generation.json", "generate-profile")
	return prompts.Format(template, map[string]string{
		"PositionName": input.position.Name,
		"OrgUnit":      input.position.OrgUnitName,
		"EmployeeName": input.request.EmployeeName,
	})
}

// Subscribe registers a progress listener for a task. The returned function
// unsubscribes; the channel is closed after a terminal event is delivered.
func (o *Orchestrator) Subscribe(taskID uuid.UUID) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)

	o.subsMu.Lock()
	o.subs[taskID] = append(o.subs[taskID], ch)
	o.subsMu.Unlock()

	unsubscribe := func() {
		o.subsMu.Lock()
		defer o.subsMu.Unlock()
		listeners := o.subs[taskID]
		for i, listener := range listeners {
			if listener == ch {
				o.subs[taskID] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
	}
	return ch, unsubscribe
}

// publish fans a task state change out to subscribers. Slow listeners drop
// events rather than block the job.
func (o *Orchestrator) publish(t *task.Task) {
	event := ProgressEvent{
		TaskID:   t.ID,
		Status:   t.Status,
		Progress: t.Progress,
		Step:     t.CurrentStep,
		Error:    t.Error,
	}

	o.subsMu.Lock()
	listeners := o.subs[t.ID]
	if t.Status.Terminal() {
		delete(o.subs, t.ID)
	}
	o.subsMu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- event:
		default:
		}
		if t.Status.Terminal() {
			close(ch)
		}
	}
}
