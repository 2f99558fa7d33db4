package db

import (
	"context"
	"fmt"

	"github.com/evalgo/regwatch/model"
)

// AuditStore gathers every record touched by a single run, for the audit-trail
// reconstructor to stitch into a linear timeline. It does not sort or interpret
// anything: it returns raw rows scoped by run_id and leaves ordering to the caller.
type AuditStore struct {
	db *PostgresDB
}

// NewAuditStore builds an AuditStore over db.
func NewAuditStore(db *PostgresDB) *AuditStore {
	return &AuditStore{db: db}
}

// OutboxForRun returns every outbox row whose JSON payload carries this run_id.
// The payload is opaque JSON so the match is done with a jsonb containment query
// rather than a join column, since outbox entries predate the run's other rows.
func (s *AuditStore) OutboxForRun(ctx context.Context, runID int64) ([]*model.OutboxEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, created_at, event_type, payload, status, attempts, published_at
		FROM outbox
		WHERE payload @> jsonb_build_object('run_id', $1::bigint)
		ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("db: outbox for run %d: %w", runID, err)
	}
	defer rows.Close()

	var entries []*model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.EventType, &e.Payload, &e.Status, &e.Attempts, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("db: scan outbox row for run %d: %w", runID, err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ArtifactsForRun returns every Artifact created by run_id.
func (s *AuditStore) ArtifactsForRun(ctx context.Context, runID int64) ([]*model.Artifact, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, source_url, content_type, blob_uri, fetch_hash, fetched_at, run_id
		FROM artifacts WHERE run_id = $1 ORDER BY fetched_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("db: artifacts for run %d: %w", runID, err)
	}
	defer rows.Close()

	var out []*model.Artifact
	for rows.Next() {
		art, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("db: scan artifact row for run %d: %w", runID, err)
		}
		out = append(out, art)
	}
	return out, rows.Err()
}

// VersionsForRun returns every DocumentVersion created by run_id.
func (s *AuditStore) VersionsForRun(ctx context.Context, runID int64) ([]*model.DocumentVersion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, parsed_uri, diff_uri, content_hash, created_at, run_id
		FROM document_versions WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("db: versions for run %d: %w", runID, err)
	}
	defer rows.Close()

	var out []*model.DocumentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("db: scan version row for run %d: %w", runID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeliveriesForRun returns every DeliveryEvent whose DocumentVersion belongs to
// run_id, joining through document_versions since delivery_events has no run_id
// column of its own.
func (s *AuditStore) DeliveriesForRun(ctx context.Context, runID int64) ([]*model.DeliveryEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT d.id, d.doc_version_id, d.status, d.artifact_type, d.delivery_uri, d.error_message, d.created_at, d.updated_at
		FROM delivery_events d
		JOIN document_versions v ON v.id = d.doc_version_id
		WHERE v.run_id = $1
		ORDER BY d.created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("db: deliveries for run %d: %w", runID, err)
	}
	defer rows.Close()

	var out []*model.DeliveryEvent
	for rows.Next() {
		e, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("db: scan delivery row for run %d: %w", runID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
