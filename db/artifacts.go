package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo/regwatch/model"
)

// ArtifactStore is the repository for Artifact rows: immutable raw-fetch records.
type ArtifactStore struct {
	db *PostgresDB
}

// NewArtifactStore builds an ArtifactStore over db.
func NewArtifactStore(db *PostgresDB) *ArtifactStore {
	return &ArtifactStore{db: db}
}

// Create inserts an Artifact row for a successful fetch.
func (a *ArtifactStore) Create(ctx context.Context, art *model.Artifact) (int64, error) {
	var id int64
	err := a.db.QueryRow(ctx, `
		INSERT INTO artifacts (source_url, content_type, blob_uri, fetch_hash, fetched_at, run_id)
		VALUES ($1, $2, $3, $4, now(), $5)
		RETURNING id`,
		art.SourceURL, art.ContentType, art.BlobURI, art.FetchHash, art.RunID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: create artifact: %w", err)
	}
	return id, nil
}

// FindByRunAndSourceURL looks up an artifact already created for this run and URL,
// the dedupe key the crawler uses to avoid writing two artifacts when a dispatcher
// restart causes a duplicate crawl.request for the same run.
func (a *ArtifactStore) FindByRunAndSourceURL(ctx context.Context, runID int64, sourceURL string) (*model.Artifact, error) {
	row := a.db.QueryRow(ctx, `
		SELECT id, source_url, content_type, blob_uri, fetch_hash, fetched_at, run_id
		FROM artifacts WHERE run_id = $1 AND source_url = $2
		ORDER BY id LIMIT 1`, runID, sourceURL)
	art, err := scanArtifact(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: find artifact by run and source url: %w", err)
	}
	return art, nil
}

func scanArtifact(row pgx.Row) (*model.Artifact, error) {
	var art model.Artifact
	err := row.Scan(&art.ID, &art.SourceURL, &art.ContentType, &art.BlobURI, &art.FetchHash, &art.FetchedAt, &art.RunID)
	if err != nil {
		return nil, err
	}
	return &art, nil
}
