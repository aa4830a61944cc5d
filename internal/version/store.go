// Package version provides the append-only store of profile versions.
// Versions per position are contiguous starting at 1 and exactly one version
// per position is active at any time.
package version

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/profile-orchestrator/internal/types"
)

// VersionType records how a version came to exist
type VersionType string

const (
	// TypeGenerated marks the first generated version of a profile
	TypeGenerated VersionType = "generated"
	// TypeRegenerated marks a generated version for a profile that already existed
	TypeRegenerated VersionType = "regenerated"
	// TypeEdited marks a version appended by a manual edit
	TypeEdited VersionType = "edited"
)

// ProfileVersion is one immutable, scored snapshot of profile content
type ProfileVersion struct {
	ID                uuid.UUID              `json:"id"`
	PositionID        uuid.UUID              `json:"position_id"`
	VersionNumber     int                    `json:"version_number"`
	Content           *types.ProfileDocument `json:"content"`
	ValidityScore     float64                `json:"validity_score"`
	CompletenessScore float64                `json:"completeness_score"`
	Type              VersionType            `json:"type"`
	CreatedBy         string                 `json:"created_by"`
	ChangesSummary    string                 `json:"changes_summary,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	// Active is filled on reads; it is derived from the profile's active
	// pointer, not stored on the version itself.
	Active bool `json:"active"`
}

// AppendInput carries the fields of a new version; the store assigns the
// version number and timestamp.
type AppendInput struct {
	Content           *types.ProfileDocument
	ValidityScore     float64
	CompletenessScore float64
	Type              VersionType
	CreatedBy         string
	ChangesSummary    string
}

// Store is the append-only version store. Append assigns the next contiguous
// version number transactionally and makes the new version active.
type Store interface {
	Append(ctx context.Context, positionID uuid.UUID, input AppendInput) (*ProfileVersion, error)
	GetActive(ctx context.Context, positionID uuid.UUID) (*ProfileVersion, error)
	GetVersion(ctx context.Context, positionID uuid.UUID, number int) (*ProfileVersion, error)
	List(ctx context.Context, positionID uuid.UUID) ([]ProfileVersion, error)
	SetActive(ctx context.Context, positionID uuid.UUID, number int) error
	// HasProfile reports whether any version exists for the position
	HasProfile(ctx context.Context, positionID uuid.UUID) (bool, error)
}
