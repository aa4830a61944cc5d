package version

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/profile-orchestrator/internal/types"
)

// PostgresStore is the persistence-backed Store implementation.
//
// Schema:
//
//	profiles(position_id uuid PRIMARY KEY, active_version int NOT NULL)
//	profile_versions(id uuid, position_id uuid, version_number int,
//	                 content jsonb, validity_score float8, completeness_score float8,
//	                 version_type text, created_by text, changes_summary text,
//	                 created_at timestamptz, UNIQUE (position_id, version_number))
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the given pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append inserts a new version inside a transaction. The profile row is
// locked first so concurrent appends for the same position cannot race the
// next version number.
func (s *PostgresStore) Append(ctx context.Context, positionID uuid.UUID, input AppendInput) (*ProfileVersion, error) {
	contentJSON, err := json.Marshal(input.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Upsert-then-lock gives us a per-position serialization point
	if _, err := tx.Exec(ctx,
		`INSERT INTO profiles (position_id, active_version)
		 VALUES ($1, 0)
		 ON CONFLICT (position_id) DO NOTHING`,
		positionID,
	); err != nil {
		return nil, fmt.Errorf("failed to ensure profile row: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`SELECT active_version FROM profiles WHERE position_id = $1 FOR UPDATE`,
		positionID,
	); err != nil {
		return nil, fmt.Errorf("failed to lock profile row: %w", err)
	}

	var v ProfileVersion
	err = tx.QueryRow(ctx,
		`INSERT INTO profile_versions
		   (position_id, version_number, content, validity_score, completeness_score,
		    version_type, created_by, changes_summary)
		 SELECT $1, COALESCE(MAX(version_number), 0) + 1, $2, $3, $4, $5, $6, $7
		 FROM profile_versions WHERE position_id = $1
		 RETURNING id, version_number, created_at`,
		positionID, contentJSON, input.ValidityScore, input.CompletenessScore,
		string(input.Type), input.CreatedBy, input.ChangesSummary,
	).Scan(&v.ID, &v.VersionNumber, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE profiles SET active_version = $1 WHERE position_id = $2`,
		v.VersionNumber, positionID,
	); err != nil {
		return nil, fmt.Errorf("failed to update active version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit version append: %w", err)
	}

	v.PositionID = positionID
	v.Content = input.Content
	v.ValidityScore = input.ValidityScore
	v.CompletenessScore = input.CompletenessScore
	v.Type = input.Type
	v.CreatedBy = input.CreatedBy
	v.ChangesSummary = input.ChangesSummary
	v.Active = true
	return &v, nil
}

// versionColumns is the select list shared by the read queries
const versionColumns = `v.id, v.position_id, v.version_number, v.content,
	v.validity_score, v.completeness_score, v.version_type, v.created_by,
	COALESCE(v.changes_summary, ''), v.created_at,
	v.version_number = p.active_version AS active`

// GetActive returns the currently active version for the position
func (s *PostgresStore) GetActive(ctx context.Context, positionID uuid.UUID) (*ProfileVersion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+`
		 FROM profile_versions v
		 JOIN profiles p ON p.position_id = v.position_id
		 WHERE v.position_id = $1 AND v.version_number = p.active_version`,
		positionID,
	)
	v, err := scanVersion(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &ErrProfileNotFound{PositionID: positionID}
		}
		return nil, fmt.Errorf("failed to get active version: %w", err)
	}
	return v, nil
}

// GetVersion returns one version by number
func (s *PostgresStore) GetVersion(ctx context.Context, positionID uuid.UUID, number int) (*ProfileVersion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+`
		 FROM profile_versions v
		 JOIN profiles p ON p.position_id = v.position_id
		 WHERE v.position_id = $1 AND v.version_number = $2`,
		positionID, number,
	)
	v, err := scanVersion(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			exists, hasErr := s.HasProfile(ctx, positionID)
			if hasErr == nil && !exists {
				return nil, &ErrProfileNotFound{PositionID: positionID}
			}
			return nil, &ErrVersionNotFound{PositionID: positionID, Number: number}
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

// List returns all versions for a position ordered by version number
func (s *PostgresStore) List(ctx context.Context, positionID uuid.UUID) ([]ProfileVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+`
		 FROM profile_versions v
		 JOIN profiles p ON p.position_id = v.position_id
		 WHERE v.position_id = $1
		 ORDER BY v.version_number`,
		positionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []ProfileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	if len(versions) == 0 {
		return nil, &ErrProfileNotFound{PositionID: positionID}
	}
	return versions, nil
}

// SetActive repins the active pointer to an existing version
func (s *PostgresStore) SetActive(ctx context.Context, positionID uuid.UUID, number int) error {
	result, err := s.pool.Exec(ctx,
		`UPDATE profiles SET active_version = $1
		 WHERE position_id = $2
		   AND EXISTS (SELECT 1 FROM profile_versions
		               WHERE position_id = $2 AND version_number = $1)`,
		number, positionID,
	)
	if err != nil {
		return fmt.Errorf("failed to set active version: %w", err)
	}
	if result.RowsAffected() == 0 {
		exists, hasErr := s.HasProfile(ctx, positionID)
		if hasErr == nil && !exists {
			return &ErrProfileNotFound{PositionID: positionID}
		}
		return &ErrVersionNotFound{PositionID: positionID, Number: number}
	}
	return nil
}

// HasProfile reports whether any version exists for the position
func (s *PostgresStore) HasProfile(ctx context.Context, positionID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM profile_versions WHERE position_id = $1)`,
		positionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check profile existence: %w", err)
	}
	return exists, nil
}

// scanVersion reads one version row
func scanVersion(row pgx.Row) (*ProfileVersion, error) {
	var v ProfileVersion
	var contentJSON []byte
	var versionType string

	if err := row.Scan(&v.ID, &v.PositionID, &v.VersionNumber, &contentJSON,
		&v.ValidityScore, &v.CompletenessScore, &versionType, &v.CreatedBy,
		&v.ChangesSummary, &v.CreatedAt, &v.Active); err != nil {
		return nil, err
	}

	v.Type = VersionType(versionType)
	if len(contentJSON) > 0 {
		var doc types.ProfileDocument
		if err := json.Unmarshal(contentJSON, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal version content: %w", err)
		}
		v.Content = &doc
	}
	return &v, nil
}
