package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog resolves positions from the positions table
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog creates a catalog backed by the given pool
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

// ResolvePosition looks up a position by id
func (c *PostgresCatalog) ResolvePosition(ctx context.Context, id uuid.UUID) (*Position, error) {
	var pos Position
	err := c.pool.QueryRow(ctx,
		`SELECT p.id, p.name, p.org_unit_id, COALESCE(u.name, '')
		 FROM positions p
		 LEFT JOIN org_units u ON u.id = p.org_unit_id
		 WHERE p.id = $1`,
		id,
	).Scan(&pos.ID, &pos.Name, &pos.OrgUnitID, &pos.OrgUnitName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &ErrPositionNotFound{ID: id}
		}
		return nil, fmt.Errorf("failed to resolve position: %w", err)
	}
	return &pos, nil
}
