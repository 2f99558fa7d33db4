package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo/regwatch/model"
)

// DocumentStore is the repository for Document and DocumentVersion rows.
type DocumentStore struct {
	db *PostgresDB
}

// NewDocumentStore builds a DocumentStore over db.
func NewDocumentStore(db *PostgresDB) *DocumentStore {
	return &DocumentStore{db: db}
}

// UpsertDocument returns the Document for sourceURL, creating it if absent. A
// Document's identity is its source_url, so this is the idempotent entry point the
// parser uses on every run regardless of how many times the same URL is crawled.
func (d *DocumentStore) UpsertDocument(ctx context.Context, sourceID int64, sourceURL, language string) (*model.Document, error) {
	row := d.db.QueryRow(ctx, `
		INSERT INTO documents (source_id, source_url, language, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (source_url) DO UPDATE SET updated_at = now()
		RETURNING id, source_id, source_url, published_date, language, created_at, updated_at`,
		sourceID, sourceURL, language)
	return scanDocument(row)
}

// VersionsForDocument returns every DocumentVersion of docID, oldest first — the
// source list the audit-trail reconstructor walks for a whole-document query.
func (d *DocumentStore) VersionsForDocument(ctx context.Context, docID int64) ([]*model.DocumentVersion, error) {
	rows, err := d.db.Query(ctx, `
		SELECT id, document_id, parsed_uri, diff_uri, content_hash, created_at, run_id
		FROM document_versions WHERE document_id = $1 ORDER BY created_at, id`, docID)
	if err != nil {
		return nil, fmt.Errorf("db: versions for document %d: %w", docID, err)
	}
	defer rows.Close()

	var out []*model.DocumentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("db: scan version row for document %d: %w", docID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVersion loads a single DocumentVersion by id, for the (document_id,
// version_id)-scoped audit query.
func (d *DocumentStore) GetVersion(ctx context.Context, versionID int64) (*model.DocumentVersion, error) {
	row := d.db.QueryRow(ctx, `
		SELECT id, document_id, parsed_uri, diff_uri, content_hash, created_at, run_id
		FROM document_versions WHERE id = $1`, versionID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, fmt.Errorf("db: get version %d: %w", versionID, err)
	}
	return v, nil
}

// CreateVersion inserts a new DocumentVersion.
func (d *DocumentStore) CreateVersion(ctx context.Context, v *model.DocumentVersion) (int64, error) {
	var id int64
	err := d.db.QueryRow(ctx, `
		INSERT INTO document_versions (document_id, parsed_uri, diff_uri, content_hash, created_at, run_id)
		VALUES ($1, $2, $3, $4, now(), $5)
		RETURNING id`,
		v.DocumentID, v.ParsedURI, nullIfEmpty(v.DiffURI), v.ContentHash, v.RunID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: create document version: %w", err)
	}
	return id, nil
}

// SetParsedURI stamps the parsed object's URI onto a DocumentVersion once the
// upload completes; CreateVersion runs first so the row's id can be used to
// build the object key in the first place.
func (d *DocumentStore) SetParsedURI(ctx context.Context, versionID int64, parsedURI string) error {
	if err := d.db.Exec(ctx, `UPDATE document_versions SET parsed_uri = $1 WHERE id = $2`, parsedURI, versionID); err != nil {
		return fmt.Errorf("db: set parsed uri for version %d: %w", versionID, err)
	}
	return nil
}

// SetDiffURI stamps the diff object's URI onto a DocumentVersion once the
// versioner has computed and uploaded it.
func (d *DocumentStore) SetDiffURI(ctx context.Context, versionID int64, diffURI string) error {
	if err := d.db.Exec(ctx, `UPDATE document_versions SET diff_uri = $1 WHERE id = $2`, diffURI, versionID); err != nil {
		return fmt.Errorf("db: set diff uri for version %d: %w", versionID, err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var doc model.Document
	err := row.Scan(&doc.ID, &doc.SourceID, &doc.SourceURL, &doc.PublishedDate, &doc.Language, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db: scan document: %w", err)
	}
	return &doc, nil
}

func scanVersion(row pgx.Row) (*model.DocumentVersion, error) {
	var v model.DocumentVersion
	var diffURI *string
	err := row.Scan(&v.ID, &v.DocumentID, &v.ParsedURI, &diffURI, &v.ContentHash, &v.CreatedAt, &v.RunID)
	if err != nil {
		return nil, err
	}
	if diffURI != nil {
		v.DiffURI = *diffURI
	}
	return &v, nil
}
