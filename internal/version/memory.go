package version

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryProfile is one position's versions plus its active pointer
type memoryProfile struct {
	versions []ProfileVersion // index i holds version i+1
	active   int
}

// MemoryStore is an in-memory Store used in tests and DB-less development.
// Appends for the same position are serialized by the store mutex, so version
// numbers stay contiguous under concurrency.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*memoryProfile
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[uuid.UUID]*memoryProfile)}
}

// Append adds a new version with the next contiguous number and makes it active
func (s *MemoryStore) Append(_ context.Context, positionID uuid.UUID, input AppendInput) (*ProfileVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[positionID]
	if !ok {
		profile = &memoryProfile{}
		s.profiles[positionID] = profile
	}

	v := ProfileVersion{
		ID:                uuid.New(),
		PositionID:        positionID,
		VersionNumber:     len(profile.versions) + 1,
		Content:           input.Content,
		ValidityScore:     input.ValidityScore,
		CompletenessScore: input.CompletenessScore,
		Type:              input.Type,
		CreatedBy:         input.CreatedBy,
		ChangesSummary:    input.ChangesSummary,
		CreatedAt:         time.Now().UTC(),
	}
	profile.versions = append(profile.versions, v)
	profile.active = v.VersionNumber

	result := v
	result.Active = true
	return &result, nil
}

// GetActive returns the currently active version for the position
func (s *MemoryStore) GetActive(_ context.Context, positionID uuid.UUID) (*ProfileVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[positionID]
	if !ok || len(profile.versions) == 0 {
		return nil, &ErrProfileNotFound{PositionID: positionID}
	}

	v := profile.versions[profile.active-1]
	v.Active = true
	return &v, nil
}

// GetVersion returns one version by number
func (s *MemoryStore) GetVersion(_ context.Context, positionID uuid.UUID, number int) (*ProfileVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[positionID]
	if !ok {
		return nil, &ErrProfileNotFound{PositionID: positionID}
	}
	if number < 1 || number > len(profile.versions) {
		return nil, &ErrVersionNotFound{PositionID: positionID, Number: number}
	}

	v := profile.versions[number-1]
	v.Active = profile.active == number
	return &v, nil
}

// List returns all versions for a position ordered by version number
func (s *MemoryStore) List(_ context.Context, positionID uuid.UUID) ([]ProfileVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[positionID]
	if !ok {
		return nil, &ErrProfileNotFound{PositionID: positionID}
	}

	out := make([]ProfileVersion, len(profile.versions))
	copy(out, profile.versions)
	for i := range out {
		out[i].Active = profile.active == out[i].VersionNumber
	}
	return out, nil
}

// SetActive repins the active pointer to an existing version
func (s *MemoryStore) SetActive(_ context.Context, positionID uuid.UUID, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[positionID]
	if !ok {
		return &ErrProfileNotFound{PositionID: positionID}
	}
	if number < 1 || number > len(profile.versions) {
		return &ErrVersionNotFound{PositionID: positionID, Number: number}
	}

	profile.active = number
	return nil
}

// HasProfile reports whether any version exists for the position
func (s *MemoryStore) HasProfile(_ context.Context, positionID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[positionID]
	return ok && len(profile.versions) > 0, nil
}
