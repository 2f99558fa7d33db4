package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo/regwatch/model"
)

// SourceStore is the repository for Source rows.
type SourceStore struct {
	db *PostgresDB
}

// NewSourceStore builds a SourceStore over db.
func NewSourceStore(db *PostgresDB) *SourceStore {
	return &SourceStore{db: db}
}

// Get loads a source by id.
func (s *SourceStore) Get(ctx context.Context, id int64) (*model.Source, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, kind, base_url, robots_mode, rate_limit, enabled, created_at
		FROM sources WHERE id = $1`, id)
	return scanSource(row)
}

// Create inserts a new Source.
func (s *SourceStore) Create(ctx context.Context, src *model.Source) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO sources (name, kind, base_url, robots_mode, rate_limit, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id`,
		src.Name, src.Kind, src.BaseURL, src.RobotsMode, src.RateLimit, src.Enabled).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: create source: %w", err)
	}
	return id, nil
}

func scanSource(row pgx.Row) (*model.Source, error) {
	var src model.Source
	err := row.Scan(&src.ID, &src.Name, &src.Kind, &src.BaseURL, &src.RobotsMode, &src.RateLimit, &src.Enabled, &src.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db: scan source: %w", err)
	}
	return &src, nil
}
