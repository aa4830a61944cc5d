package orchestrator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/profile-orchestrator/internal/task"
)

// ErrConcurrentGeneration indicates a generation is already in flight for the
// position. This is a retryable user-facing condition, not a fatal error.
type ErrConcurrentGeneration struct {
	PositionID uuid.UUID
}

func (e *ErrConcurrentGeneration) Error() string {
	return fmt.Sprintf("generation already in progress for position %s", e.PositionID)
}

// ErrAlreadyTerminal indicates an operation against a task that has finished
type ErrAlreadyTerminal struct {
	TaskID uuid.UUID
	Status task.Status
}

func (e *ErrAlreadyTerminal) Error() string {
	return fmt.Sprintf("task %s is already %s", e.TaskID, e.Status)
}

// ErrNotReady indicates the task has not completed yet, so it has no result
type ErrNotReady struct {
	TaskID uuid.UUID
	Status task.Status
}

func (e *ErrNotReady) Error() string {
	return fmt.Sprintf("task %s has no result yet (status %s)", e.TaskID, e.Status)
}
