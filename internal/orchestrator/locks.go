package orchestrator

import (
	"sync"

	"github.com/google/uuid"
)

// positionLocks is the mutual-exclusion token set keyed by position id.
// At most one generation job may hold a position's token at a time; the token
// is held from task creation until the job reaches a terminal status.
type positionLocks struct {
	mu   sync.Mutex
	held map[uuid.UUID]bool
}

func newPositionLocks() *positionLocks {
	return &positionLocks{held: make(map[uuid.UUID]bool)}
}

// tryAcquire takes the token for a position, returning false if already held
func (l *positionLocks) tryAcquire(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] {
		return false
	}
	l.held[id] = true
	return true
}

// release returns the token
func (l *positionLocks) release(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
