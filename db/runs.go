package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo/regwatch/model"
)

// RunStore is the repository for Run rows.
type RunStore struct {
	db *PostgresDB
}

// NewRunStore builds a RunStore over db.
func NewRunStore(db *PostgresDB) *RunStore {
	return &RunStore{db: db}
}

// Create inserts a new PENDING run within tx, returning its id. Called by the
// scheduler tick, always in the same transaction as the outbox insert so a Run never exists without its triggering event, or vice versa.
func (r *RunStore) Create(ctx context.Context, tx pgx.Tx, subscriptionID *int64, kind model.RunKind) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO runs (subscription_id, run_kind, started_at, status)
		VALUES ($1, $2, now(), $3)
		RETURNING id`,
		subscriptionID, kind, model.RunPending).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: create run: %w", err)
	}
	return id, nil
}

// Get loads a run by id.
func (r *RunStore) Get(ctx context.Context, id int64) (*model.Run, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, subscription_id, run_kind, started_at, ended_at, status, error
		FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

// TransitionStatus moves a run to status, idempotently. Applying the same terminal
// status twice is a no-op; applying RUNNING after a terminal status is ignored.
// errMsg is stored only on a transition into FAILED.
func (r *RunStore) TransitionStatus(ctx context.Context, id int64, status model.RunStatus, errMsg string) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	if current.Status == status {
		return nil
	}
	if current.Status.Terminal() && !status.Terminal() {
		return nil
	}

	var endedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		endedAt = &now
	}

	err = r.db.Exec(ctx, `UPDATE runs SET status = $2, ended_at = $3, error = $4 WHERE id = $1`,
		id, status, endedAt, errMsg)
	if err != nil {
		return fmt.Errorf("db: transition run %d to %s: %w", id, status, err)
	}
	return nil
}

func scanRun(row pgx.Row) (*model.Run, error) {
	var run model.Run
	err := row.Scan(&run.ID, &run.SubscriptionID, &run.RunKind, &run.StartedAt, &run.EndedAt, &run.Status, &run.Error)
	if err != nil {
		return nil, fmt.Errorf("db: scan run: %w", err)
	}
	return &run, nil
}
