package task

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrTaskNotFound indicates the task id is unknown to the registry
type ErrTaskNotFound struct {
	ID uuid.UUID
}

func (e *ErrTaskNotFound) Error() string {
	return fmt.Sprintf("task not found: %s", e.ID)
}

// ErrInvalidTransition indicates a status change the state machine forbids.
// Terminal states are append-only facts; any update against them fails with
// this error.
type ErrInvalidTransition struct {
	ID   uuid.UUID
	From Status
	To   Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s -> %s", e.ID, e.From, e.To)
}

// ErrProgressRegression indicates a progress update lower than the recorded
// value while processing. This signals a caller bug and is never clamped.
type ErrProgressRegression struct {
	ID       uuid.UUID
	Current  int
	Proposed int
}

func (e *ErrProgressRegression) Error() string {
	return fmt.Sprintf("progress regression for task %s: %d -> %d", e.ID, e.Current, e.Proposed)
}
