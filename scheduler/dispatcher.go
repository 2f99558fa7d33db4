package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/queue"
)

const (
	defaultDispatchBatchSize = 200
	maxDispatchAttempts      = 5
)

// DispatcherService runs the outbox dispatcher on a fixed period, draining
// PENDING outbox rows onto the bus. A short random jitter is applied before each
// pass so that multiple dispatcher replicas started at the same instant don't all
// hit the outbox table in lockstep.
type DispatcherService struct {
	postgres *db.PostgresDB
	outbox   *db.OutboxStore
	bus      queue.Bus
	interval time.Duration
	batch    int
	log      *common.ContextLogger
}

// NewDispatcherService builds a DispatcherService firing every interval (0 for the
// suggested 2s default) and draining up to batchSize rows per pass (0 for 200).
func NewDispatcherService(pg *db.PostgresDB, bus queue.Bus, interval time.Duration, batchSize int) *DispatcherService {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = defaultDispatchBatchSize
	}
	return &DispatcherService{
		postgres: pg,
		outbox:   db.NewOutboxStore(pg),
		bus:      bus,
		interval: interval,
		batch:    batchSize,
		log:      common.NewContextLogger(common.Logger, map[string]interface{}{"component": "scheduler.dispatcher"}),
	}
}

// Run loops calling Dispatch every interval, jittered, until ctx is cancelled.
func (s *DispatcherService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			time.Sleep(time.Duration(rand.Int63n(int64(s.interval / 4))))
			n, err := s.Dispatch(ctx)
			if err != nil {
				s.log.WithField("error", err.Error()).Error("dispatch failed")
				continue
			}
			if n > 0 {
				s.log.WithField("count", n).Info("dispatched outbox entries")
			}
		}
	}
}

// Dispatch selects up to batch PENDING outbox rows FOR UPDATE SKIP LOCKED, publishes
// each to the bus under its event_type, and marks it PUBLISHED within the same
// transaction. A row whose publish fails has its attempt count bumped instead; once
// attempts reaches maxDispatchAttempts it is marked FAILED so it stops being
// re-selected. Returns the number successfully published.
func (s *DispatcherService) Dispatch(ctx context.Context) (int, error) {
	tx, err := s.postgres.BeginTx(ctx)
	if err != nil {
		return 0, common.Transient(fmt.Errorf("dispatcher: begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	pending, err := s.outbox.FetchPendingForUpdate(ctx, tx, s.batch)
	if err != nil {
		return 0, common.Transient(err)
	}

	published := 0
	for _, entry := range pending {
		// entry.Payload is already-encoded JSON; the bus wraps it in an Envelope
		// without re-marshaling its fields since json.RawMessage serializes verbatim.
		if pubErr := s.bus.Publish(entry.EventType, json.RawMessage(entry.Payload)); pubErr != nil {
			terminal := entry.Attempts+1 >= maxDispatchAttempts
			if err := s.outbox.IncrementAttempt(ctx, tx, entry.ID, terminal); err != nil {
				return 0, common.Transient(err)
			}
			s.log.WithFields(map[string]interface{}{
				"outbox_id":  entry.ID,
				"event_type": entry.EventType,
				"attempts":   entry.Attempts + 1,
				"terminal":   terminal,
				"error":      pubErr.Error(),
			}).Warn("outbox publish failed")
			continue
		}

		if err := s.outbox.MarkPublished(ctx, tx, entry.ID); err != nil {
			return 0, common.Transient(err)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, common.Transient(fmt.Errorf("dispatcher: commit tx: %w", err))
	}
	return published, nil
}
