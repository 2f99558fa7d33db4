// Package scheduler runs the three periodic, DB-transactional operations that
// drive the pipeline from outside the event bus: the scheduler tick (claims due
// subscriptions), the next-fire computer (precomputes next_run_at), and the outbox
// dispatcher (drains committed events onto the bus). Each is a Service with the
// same loop shape: Run(ctx) calls its operation on every tick of a time.Ticker
// until ctx is cancelled.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
	"github.com/google/uuid"
)

const defaultTickBatchSize = 100

// TickService runs the scheduler tick on a fixed period.
type TickService struct {
	postgres *db.PostgresDB
	subs     *db.SubscriptionStore
	runs     *db.RunStore
	outbox   *db.OutboxStore
	interval time.Duration
	batch    int
	log      *common.ContextLogger
}

// NewTickService builds a TickService firing every interval (use 0 for the
// suggested 10s default) and claiming up to batchSize subscriptions per tick (use
// 0 for the default of 100).
func NewTickService(pg *db.PostgresDB, interval time.Duration, batchSize int) *TickService {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = defaultTickBatchSize
	}
	return &TickService{
		postgres: pg,
		subs:     db.NewSubscriptionStore(pg),
		runs:     db.NewRunStore(pg),
		outbox:   db.NewOutboxStore(pg),
		interval: interval,
		batch:    batchSize,
		log:      common.NewContextLogger(common.Logger, map[string]interface{}{"component": "scheduler.tick"}),
	}
}

// Run loops calling Tick every interval until ctx is cancelled.
func (s *TickService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Tick(ctx)
			if err != nil {
				s.log.WithField("error", err.Error()).Error("tick failed")
				continue
			}
			if n > 0 {
				s.log.WithField("count", n).Info("scheduled subscriptions")
			}
		}
	}
}

// Tick selects up to batch ACTIVE, due subscriptions, creates a PENDING Run and a
// subs.schedule outbox entry for each, all within one transaction, and returns the
// number processed. A transient DB failure aborts the whole transaction: nothing
// partially commits.
func (s *TickService) Tick(ctx context.Context) (int, error) {
	tx, err := s.postgres.BeginTx(ctx)
	if err != nil {
		return 0, common.Transient(fmt.Errorf("scheduler: begin tick tx: %w", err))
	}
	defer tx.Rollback(ctx)

	due, err := s.subs.DueForScheduling(ctx, tx, s.batch)
	if err != nil {
		return 0, common.Transient(err)
	}

	now := time.Now().UTC()
	for _, sub := range due {
		if err := s.subs.MarkScheduled(ctx, tx, sub.ID, now); err != nil {
			return 0, common.Transient(err)
		}

		runID, err := s.runs.Create(ctx, tx, &sub.ID, model.RunKindSchedule)
		if err != nil {
			return 0, common.Transient(err)
		}

		payload, err := json.Marshal(events.SubsSchedule{
			RunID:          runID,
			TraceID:        uuid.NewString(),
			SubscriptionID: sub.ID,
		})
		if err != nil {
			return 0, fmt.Errorf("scheduler: encode subs.schedule payload: %w", err)
		}

		if _, err := s.outbox.Insert(ctx, tx, events.TopicSubsSchedule, payload); err != nil {
			return 0, common.Transient(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, common.Transient(fmt.Errorf("scheduler: commit tick tx: %w", err))
	}
	return len(due), nil
}
