package version

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrProfileNotFound indicates no profile exists for the position
type ErrProfileNotFound struct {
	PositionID uuid.UUID
}

func (e *ErrProfileNotFound) Error() string {
	return fmt.Sprintf("no profile for position: %s", e.PositionID)
}

// ErrVersionNotFound indicates the requested version number does not exist
type ErrVersionNotFound struct {
	PositionID uuid.UUID
	Number     int
}

func (e *ErrVersionNotFound) Error() string {
	return fmt.Sprintf("version %d not found for position %s", e.Number, e.PositionID)
}
