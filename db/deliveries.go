package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo/regwatch/model"
)

// DeliveryStore is the repository for DeliveryEvent rows.
type DeliveryStore struct {
	db *PostgresDB
}

// NewDeliveryStore builds a DeliveryStore over db.
func NewDeliveryStore(db *PostgresDB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

// Create inserts a PENDING delivery row for a DocumentVersion about to be handed off.
func (s *DeliveryStore) Create(ctx context.Context, docVersionID int64, artifactType string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO delivery_events (doc_version_id, status, artifact_type, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id`,
		docVersionID, model.DeliveryPending, artifactType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: create delivery event: %w", err)
	}
	return id, nil
}

// Complete marks a delivery event COMPLETED with its destination URI.
func (s *DeliveryStore) Complete(ctx context.Context, id int64, deliveryURI string) error {
	err := s.db.Exec(ctx, `
		UPDATE delivery_events SET status = $2, delivery_uri = $3, updated_at = now() WHERE id = $1`,
		id, model.DeliveryCompleted, deliveryURI)
	if err != nil {
		return fmt.Errorf("db: complete delivery event %d: %w", id, err)
	}
	return nil
}

// Fail marks a delivery event FAILED with an error message.
func (s *DeliveryStore) Fail(ctx context.Context, id int64, errMsg string) error {
	err := s.db.Exec(ctx, `
		UPDATE delivery_events SET status = $2, error_message = $3, updated_at = now() WHERE id = $1`,
		id, model.DeliveryFailed, errMsg)
	if err != nil {
		return fmt.Errorf("db: fail delivery event %d: %w", id, err)
	}
	return nil
}

// Get loads a delivery event by id.
func (s *DeliveryStore) Get(ctx context.Context, id int64) (*model.DeliveryEvent, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, doc_version_id, status, artifact_type, delivery_uri, error_message, created_at, updated_at
		FROM delivery_events WHERE id = $1`, id)
	return scanDelivery(row)
}

func scanDelivery(row pgx.Row) (*model.DeliveryEvent, error) {
	var e model.DeliveryEvent
	err := row.Scan(&e.ID, &e.DocVersionID, &e.Status, &e.ArtifactType, &e.DeliveryURI, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db: scan delivery event: %w", err)
	}
	return &e, nil
}
