// Package bulk dispatches department- or organization-wide batches of
// generation requests through a bounded worker pool.
package bulk

import (
	"context"
	"log"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/profile-orchestrator/internal/orchestrator"
	"github.com/jonathan/profile-orchestrator/internal/task"
	"github.com/jonathan/profile-orchestrator/internal/types"
)

// DefaultConcurrency caps simultaneous jobs per batch. The cap exists to
// respect backend rate limits, not local resource scarcity.
const DefaultConcurrency = 5

// ItemOutcome reports the per-position outcome of queueing one batch item
type ItemOutcome struct {
	PositionID uuid.UUID `json:"position_id"`
	TaskID     uuid.UUID `json:"task_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// StatusCounts aggregates task statuses across a batch
type StatusCounts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Dispatcher submits batches to the orchestrator under a concurrency cap
type Dispatcher struct {
	orch        *orchestrator.Orchestrator
	registry    *task.Registry
	concurrency int
}

// NewDispatcher creates a dispatcher. concurrency <= 0 uses DefaultConcurrency.
func NewDispatcher(orch *orchestrator.Orchestrator, registry *task.Registry, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Dispatcher{orch: orch, registry: registry, concurrency: concurrency}
}

// Dispatch queues one task per position and returns as soon as every task id
// exists; the jobs then drain through the worker pool in the background.
// Positions that cannot be queued (unknown id, generation already in flight)
// are reported in their outcome and never block siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, positionIDs []uuid.UUID) []ItemOutcome {
	outcomes := make([]ItemOutcome, len(positionIDs))
	var queued []uuid.UUID

	for i, positionID := range positionIDs {
		outcomes[i] = ItemOutcome{PositionID: positionID}

		t, err := d.orch.Prepare(ctx, types.GenerationRequest{PositionID: positionID}, "system")
		if err != nil {
			outcomes[i].Error = err.Error()
			log.Printf("[bulk] Skipping position %s: %v", positionID, err)
			continue
		}
		outcomes[i].TaskID = t.ID
		queued = append(queued, t.ID)
	}

	log.Printf("[bulk] Dispatching %d/%d position(s) with cap %d", len(queued), len(positionIDs), d.concurrency)

	go d.drain(queued)
	return outcomes
}

// drain runs the queued jobs through a fixed-size pool. A failure in one item
// is recorded on its own task and never cancels siblings.
func (d *Dispatcher) drain(taskIDs []uuid.UUID) {
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for _, id := range taskIDs {
		taskID := id
		g.Go(func() error {
			d.orch.Run(taskID)
			return nil
		})
	}

	_ = g.Wait()
	log.Printf("[bulk] Batch of %d task(s) drained", len(taskIDs))
}

// AggregateStatus counts the statuses of the given tasks. Unknown ids (e.g.
// already swept) are skipped.
func (d *Dispatcher) AggregateStatus(taskIDs []uuid.UUID) StatusCounts {
	var counts StatusCounts
	for _, id := range taskIDs {
		t, err := d.registry.Get(id)
		if err != nil {
			continue
		}
		switch t.Status {
		case task.StatusQueued:
			counts.Queued++
		case task.StatusProcessing:
			counts.Processing++
		case task.StatusCompleted:
			counts.Completed++
		case task.StatusFailed:
			counts.Failed++
		case task.StatusCancelled:
			counts.Cancelled++
		}
	}
	return counts
}
