package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo/regwatch/model"
)

// SubscriptionStore is the repository for Subscription rows, including the
// row-locking reads the scheduler tick and next-fire computer depend on.
type SubscriptionStore struct {
	db *PostgresDB
}

// NewSubscriptionStore builds a SubscriptionStore over db.
func NewSubscriptionStore(db *PostgresDB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Get loads a single subscription by id.
func (s *SubscriptionStore) Get(ctx context.Context, id int64) (*model.Subscription, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, source_id, jurisdiction, selectors, schedule, last_run_at, next_run_at, status, created_at
		FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

// DueForScheduling selects up to batchSize ACTIVE subscriptions whose next_run_at is
// null or due, locking each row FOR UPDATE SKIP LOCKED so two concurrent ticks never
// claim the same subscription. Must be called within tx; the caller commits.
func (s *SubscriptionStore) DueForScheduling(ctx context.Context, tx pgx.Tx, batchSize int) ([]*model.Subscription, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, source_id, jurisdiction, selectors, schedule, last_run_at, next_run_at, status, created_at
		FROM subscriptions
		WHERE status = $1 AND (next_run_at IS NULL OR next_run_at <= now())
		ORDER BY next_run_at NULLS FIRST
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		model.SubscriptionActive, batchSize)
	if err != nil {
		return nil, fmt.Errorf("db: select due subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// NeedingNextFire selects up to batchSize ACTIVE subscriptions with a null
// next_run_at, locked the same way as DueForScheduling so the next-fire computer
// and the scheduler tick never race over the same row.
func (s *SubscriptionStore) NeedingNextFire(ctx context.Context, tx pgx.Tx, batchSize int) ([]*model.Subscription, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, source_id, jurisdiction, selectors, schedule, last_run_at, next_run_at, status, created_at
		FROM subscriptions
		WHERE status = $1 AND next_run_at IS NULL
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		model.SubscriptionActive, batchSize)
	if err != nil {
		return nil, fmt.Errorf("db: select subscriptions needing next-fire: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// MarkScheduled stamps last_run_at=runAt and clears next_run_at, the mutation the
// scheduler tick applies to every subscription it claims.
func (s *SubscriptionStore) MarkScheduled(ctx context.Context, tx pgx.Tx, id int64, runAt time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE subscriptions SET last_run_at = $2, next_run_at = NULL WHERE id = $1`, id, runAt)
	if err != nil {
		return fmt.Errorf("db: mark subscription %d scheduled: %w", id, err)
	}
	return nil
}

// SetNextRunAt writes next_run_at for id. Writing the same value twice is a no-op
// at the row level, satisfying the next-fire computer's idempotence requirement.
func (s *SubscriptionStore) SetNextRunAt(ctx context.Context, tx pgx.Tx, id int64, next time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE subscriptions SET next_run_at = $2 WHERE id = $1`, id, next)
	if err != nil {
		return fmt.Errorf("db: set next_run_at for subscription %d: %w", id, err)
	}
	return nil
}

// SetStatus updates a subscription's lifecycle status, used by the enable/disable
// control operations.
func (s *SubscriptionStore) SetStatus(ctx context.Context, id int64, status model.SubscriptionStatus) error {
	err := s.db.Exec(ctx, `UPDATE subscriptions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("db: set subscription %d status: %w", id, err)
	}
	return nil
}

// TriggerNow sets next_run_at to now() so the next scheduler tick, which claims
// rows whose next_run_at is due, picks up id regardless of its configured schedule. Used by the run-now
// control command; an administrative override, not part of the regular
// tick/next-fire claiming path, so it runs outside a transaction.
func (s *SubscriptionStore) TriggerNow(ctx context.Context, id int64) error {
	err := s.db.Exec(ctx, `UPDATE subscriptions SET next_run_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db: trigger subscription %d now: %w", id, err)
	}
	return nil
}

// List returns every subscription ordered by id, for the control commands'
// listing output.
func (s *SubscriptionStore) List(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, source_id, jurisdiction, selectors, schedule, last_run_at, next_run_at, status, created_at
		FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("db: list subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var sub model.Subscription
	err := row.Scan(&sub.ID, &sub.SourceID, &sub.Jurisdiction, &sub.Selectors, &sub.Schedule,
		&sub.LastRunAt, &sub.NextRunAt, &sub.Status, &sub.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db: scan subscription: %w", err)
	}
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ID, &sub.SourceID, &sub.Jurisdiction, &sub.Selectors, &sub.Schedule,
			&sub.LastRunAt, &sub.NextRunAt, &sub.Status, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("db: scan subscription row: %w", err)
		}
		subs = append(subs, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate subscription rows: %w", err)
	}
	return subs, nil
}
