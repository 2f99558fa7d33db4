package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo/regwatch/model"
)

// OutboxStore is the repository for OutboxEntry rows: the transactional log the
// dispatcher drains onto the bus.
type OutboxStore struct {
	db *PostgresDB
}

// NewOutboxStore builds an OutboxStore over db.
func NewOutboxStore(db *PostgresDB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Insert writes a PENDING outbox row within tx, committed atomically with whatever
// else tx does (typically a Run insert).
func (o *OutboxStore) Insert(ctx context.Context, tx pgx.Tx, eventType string, payload []byte) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO outbox (created_at, event_type, payload, status, attempts)
		VALUES (now(), $1, $2, $3, 0)
		RETURNING id`,
		eventType, payload, model.OutboxPending).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: insert outbox entry: %w", err)
	}
	return id, nil
}

// FetchPendingForUpdate selects up to batchSize PENDING rows FOR UPDATE SKIP LOCKED,
// oldest first, so concurrent dispatcher instances never double-claim a row.
func (o *OutboxStore) FetchPendingForUpdate(ctx context.Context, tx pgx.Tx, batchSize int) ([]*model.OutboxEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, created_at, event_type, payload, status, attempts, published_at
		FROM outbox
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		model.OutboxPending, batchSize)
	if err != nil {
		return nil, fmt.Errorf("db: select pending outbox rows: %w", err)
	}
	defer rows.Close()

	var entries []*model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.EventType, &e.Payload, &e.Status, &e.Attempts, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("db: scan outbox row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate outbox rows: %w", err)
	}
	return entries, nil
}

// MarkPublished sets status=PUBLISHED and published_at=now() within tx, called
// immediately after a successful bus publish and before the enclosing transaction
// commits.
func (o *OutboxStore) MarkPublished(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `UPDATE outbox SET status = $2, published_at = now() WHERE id = $1`,
		id, model.OutboxPublished)
	if err != nil {
		return fmt.Errorf("db: mark outbox %d published: %w", id, err)
	}
	return nil
}

// IncrementAttempt bumps attempts after a failed publish. With terminal set it
// marks the row FAILED; otherwise the status stays PENDING and the next dispatcher
// pass retries the whole row rather than a half-applied one.
func (o *OutboxStore) IncrementAttempt(ctx context.Context, tx pgx.Tx, id int64, terminal bool) error {
	status := model.OutboxPending
	if terminal {
		status = model.OutboxFailed
	}
	_, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("db: increment outbox %d attempts: %w", id, err)
	}
	return nil
}
