package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryCatalog is an in-memory Catalog used in tests and DB-less development
type MemoryCatalog struct {
	mu        sync.RWMutex
	positions map[uuid.UUID]Position
}

// NewMemoryCatalog creates an empty in-memory catalog
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{positions: make(map[uuid.UUID]Position)}
}

// Add registers a position
func (c *MemoryCatalog) Add(pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[pos.ID] = pos
}

// ResolvePosition looks up a position by id
func (c *MemoryCatalog) ResolvePosition(_ context.Context, id uuid.UUID) (*Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.positions[id]
	if !ok {
		return nil, &ErrPositionNotFound{ID: id}
	}
	return &pos, nil
}
