// Package catalog provides lookup access to the organizational position
// catalog. Positions are owned by the external catalog; this subsystem only
// resolves them.
package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Position identifies a job slot in the organization
type Position struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	OrgUnitID   uuid.UUID `json:"org_unit_id"`
	OrgUnitName string    `json:"org_unit_name,omitempty"`
}

// Catalog resolves positions by id
type Catalog interface {
	ResolvePosition(ctx context.Context, id uuid.UUID) (*Position, error)
}

// ErrPositionNotFound indicates the position does not exist in the catalog
type ErrPositionNotFound struct {
	ID uuid.UUID
}

func (e *ErrPositionNotFound) Error() string {
	return fmt.Sprintf("position not found: %s", e.ID)
}
