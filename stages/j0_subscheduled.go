package stages

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
	"github.com/evalgo/regwatch/queue"
)

// subscriptionGetter is the slice of db.SubscriptionStore J0 needs, narrowed so
// tests can inject a fake instead of a live database.
type subscriptionGetter interface {
	Get(ctx context.Context, id int64) (*model.Subscription, error)
}

// sourceGetter is the slice of db.SourceStore J0 and J1 need.
type sourceGetter interface {
	Get(ctx context.Context, id int64) (*model.Source, error)
}

// SubsScheduledHandler is J0: resolves subscription -> source -> base_url and
// emits crawl.request with a freshly generated crawl_request_id.
type SubsScheduledHandler struct {
	subs    subscriptionGetter
	sources sourceGetter
	bus     queue.Bus
	log     *common.ContextLogger
}

// NewSubsScheduledHandler builds the J0 handler.
func NewSubsScheduledHandler(subs *db.SubscriptionStore, sources *db.SourceStore, bus queue.Bus) *SubsScheduledHandler {
	return &SubsScheduledHandler{
		subs:    subs,
		sources: sources,
		bus:     bus,
		log:     common.NewContextLogger(common.Logger, map[string]interface{}{"component": "stages.j0"}),
	}
}

// Topic implements Handler.
func (h *SubsScheduledHandler) Topic() string { return events.TopicSubsSchedule }

// Handle implements Handler.
func (h *SubsScheduledHandler) Handle(ctx context.Context, env events.Envelope) error {
	var in events.SubsSchedule
	if err := env.Decode(&in); err != nil {
		return common.ContractError(fmt.Errorf("j0: decode subs.schedule: %w", err))
	}
	if in.RunID == 0 || in.TraceID == "" {
		return common.ContractError(fmt.Errorf("j0: missing run_id or trace_id"))
	}

	emitRunStarted(h.bus, h.log, in.RunID, in.TraceID)

	sub, err := h.subs.Get(ctx, in.SubscriptionID)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.DataError(fmt.Errorf("j0: load subscription %d: %w", in.SubscriptionID, err))
	}

	source, err := h.sources.Get(ctx, sub.SourceID)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.DataError(fmt.Errorf("j0: load source %d: %w", sub.SourceID, err))
	}

	out := events.CrawlRequest{
		RunID:          in.RunID,
		TraceID:        in.TraceID,
		URL:            source.BaseURL,
		SourceID:       source.ID,
		CrawlRequestID: uuid.NewString(),
		SubscriptionID: sub.ID,
	}
	if err := h.bus.Publish(events.TopicCrawlRequest, out); err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j0: publish crawl.request: %w", err))
	}
	return nil
}
