// Package runstatus aggregates run.status and delivery.result events into Run
// lifecycle transitions. It is deliberately the only place that writes a Run's
// status, so the idempotence and terminal-state transition rules live in one spot.
package runstatus

import (
	"context"
	"fmt"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
)

// runTransitioner is the slice of db.RunStore the aggregator needs, narrowed so
// tests can inject a fake instead of a live database.
type runTransitioner interface {
	TransitionStatus(ctx context.Context, id int64, status model.RunStatus, errMsg string) error
}

// Aggregator applies run.status and delivery.result events to Run rows.
type Aggregator struct {
	runs runTransitioner
	log  *common.ContextLogger
}

// NewAggregator builds an Aggregator over runs.
func NewAggregator(runs *db.RunStore) *Aggregator {
	return &Aggregator{
		runs: runs,
		log:  common.NewContextLogger(common.Logger, map[string]interface{}{"component": "runstatus.aggregator"}),
	}
}

// HandleRunStatus applies a run.started/run.completed/run.failed event. Applying
// RUNNING after a terminal state, or the same terminal state twice, is a no-op —
// enforced by db.RunStore.TransitionStatus itself.
func (a *Aggregator) HandleRunStatus(ctx context.Context, evt events.RunStatusEvent) error {
	var target model.RunStatus
	switch evt.Event {
	case events.RunEventStarted:
		target = model.RunRunning
	case events.RunEventCompleted:
		target = model.RunCompleted
	case events.RunEventFailed:
		target = model.RunFailed
	default:
		return fmt.Errorf("runstatus: unknown run.status event %q", evt.Event)
	}

	errMsg := combineErrorAndTraceback(evt.ErrorMessage, evt.ErrorTraceback)

	if err := a.runs.TransitionStatus(ctx, evt.RunID, target, errMsg); err != nil {
		return fmt.Errorf("runstatus: transition run %d to %s: %w", evt.RunID, target, err)
	}
	a.log.WithFields(map[string]interface{}{
		"run_id": evt.RunID,
		"status": target,
	}).Info("run transitioned")
	return nil
}

// HandleDeliveryResult applies delivery.result as the terminal COMPLETED trigger;
// the aggregator reacts to this topic directly rather than waiting for a separate
// run.completed event.
func (a *Aggregator) HandleDeliveryResult(ctx context.Context, evt events.DeliveryResult) error {
	if err := a.runs.TransitionStatus(ctx, evt.RunID, model.RunCompleted, ""); err != nil {
		return fmt.Errorf("runstatus: complete run %d from delivery result: %w", evt.RunID, err)
	}
	a.log.WithField("run_id", evt.RunID).Info("run completed via delivery result")
	return nil
}

// combineErrorAndTraceback concatenates an error message with its traceback (if
// any) into the single field TransitionStatus persists.
func combineErrorAndTraceback(msg, traceback string) string {
	if traceback == "" {
		return msg
	}
	if msg == "" {
		return traceback
	}
	return msg + "\n" + traceback
}
