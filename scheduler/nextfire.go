package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/cron"
	"github.com/evalgo/regwatch/db"
)

const defaultNextFireBatchSize = 100

// NextFireService runs the next-fire computer on a fixed period.
type NextFireService struct {
	postgres *db.PostgresDB
	subs     *db.SubscriptionStore
	eval     cron.Evaluator
	interval time.Duration
	batch    int
	log      *common.ContextLogger
}

// NewNextFireService builds a NextFireService firing every interval (0 for the
// suggested 5s default) over up to batchSize subscriptions per pass (0 for 100).
func NewNextFireService(pg *db.PostgresDB, eval cron.Evaluator, interval time.Duration, batchSize int) *NextFireService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = defaultNextFireBatchSize
	}
	return &NextFireService{
		postgres: pg,
		subs:     db.NewSubscriptionStore(pg),
		eval:     eval,
		interval: interval,
		batch:    batchSize,
		log:      common.NewContextLogger(common.Logger, map[string]interface{}{"component": "scheduler.nextfire"}),
	}
}

// Run loops calling Compute every interval until ctx is cancelled.
func (s *NextFireService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Compute(ctx); err != nil {
				s.log.WithField("error", err.Error()).Error("next-fire computation failed")
			}
		}
	}
}

// Compute selects up to batch ACTIVE subscriptions with a null next_run_at and
// writes the next occurrence of their cron schedule after
// COALESCE(last_run_at, created_at, now()). Writing the same value twice is a
// no-op, so running this twice with no subscription changes is idempotent.
func (s *NextFireService) Compute(ctx context.Context) (int, error) {
	tx, err := s.postgres.BeginTx(ctx)
	if err != nil {
		return 0, common.Transient(fmt.Errorf("scheduler: begin next-fire tx: %w", err))
	}
	defer tx.Rollback(ctx)

	pending, err := s.subs.NeedingNextFire(ctx, tx, s.batch)
	if err != nil {
		return 0, common.Transient(err)
	}

	for _, sub := range pending {
		anchor := time.Now().UTC()
		if sub.LastRunAt != nil {
			anchor = *sub.LastRunAt
		} else if !sub.CreatedAt.IsZero() {
			anchor = sub.CreatedAt
		}

		next, err := s.eval.Next(sub.Schedule, anchor)
		if err != nil {
			s.log.WithFields(map[string]interface{}{
				"subscription_id": sub.ID,
				"schedule":        sub.Schedule,
				"error":           err.Error(),
			}).Warn("skipping subscription with unparseable schedule")
			continue
		}

		if err := s.subs.SetNextRunAt(ctx, tx, sub.ID, next); err != nil {
			return 0, common.Transient(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, common.Transient(fmt.Errorf("scheduler: commit next-fire tx: %w", err))
	}
	return len(pending), nil
}
