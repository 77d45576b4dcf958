package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sourceColumns = `id, name, endpoint_url, kind, active, created_at`

type sourceRepository struct {
	db *DB
}

// NewSourceRepository creates a new source repository
func NewSourceRepository(db *DB) SourceRepository {
	return &sourceRepository{db: db}
}

// UpsertSource inserts a source or updates the one with the same name
func (r *sourceRepository) UpsertSource(ctx context.Context, source Source) (int64, error) {
	if !source.Kind.Valid() {
		return 0, fmt.Errorf("invalid source kind %q", source.Kind)
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sources (name, endpoint_url, kind, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			endpoint_url = excluded.endpoint_url,
			kind = excluded.kind,
			active = excluded.active
		RETURNING id
	`, source.Name, source.EndpointURL, string(source.Kind), source.Active, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert source: %w", err)
	}

	return id, nil
}

// GetSource retrieves a source by its ID
func (r *sourceRepository) GetSource(ctx context.Context, id int64) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return source, nil
}

// GetSourceByName retrieves a source by its unique name
func (r *sourceRepository) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source by name: %w", err)
	}
	return source, nil
}

// ListSources returns every source ordered by name
func (r *sourceRepository) ListSources(ctx context.Context) ([]Source, error) {
	return r.querySources(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name`)
}

// ListActiveSources returns active sources of the given kind
func (r *sourceRepository) ListActiveSources(ctx context.Context, kind SourceKind) ([]Source, error) {
	return r.querySources(ctx, `SELECT `+sourceColumns+` FROM sources WHERE active = 1 AND kind = ? ORDER BY id`, string(kind))
}

// CountActiveSources returns the number of active sources of any kind
func (r *sourceRepository) CountActiveSources(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources WHERE active = 1`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active sources: %w", err)
	}
	return count, nil
}

func (r *sourceRepository) querySources(ctx context.Context, query string, args ...any) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

func scanSource(row rowScanner) (*Source, error) {
	var source Source
	var kind string
	if err := row.Scan(&source.ID, &source.Name, &source.EndpointURL, &kind, &source.Active, &source.CreatedAt); err != nil {
		return nil, err
	}
	source.Kind = SourceKind(kind)
	return &source, nil
}
