package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
)

func newTestSubsScheduledHandler(subs subscriptionGetter, sources sourceGetter, bus *fakeBus) *SubsScheduledHandler {
	return &SubsScheduledHandler{
		subs:    subs,
		sources: sources,
		bus:     bus,
		log:     common.NewContextLogger(common.Logger, map[string]interface{}{"component": "stages.j0.test"}),
	}
}

func TestSubsScheduledHandler_Handle_PublishesCrawlRequest(t *testing.T) {
	subs := &fakeSubscriptions{byID: map[int64]*model.Subscription{
		10: {ID: 10, SourceID: 20},
	}}
	sources := &fakeSources{byID: map[int64]*model.Source{
		20: {ID: 20, BaseURL: "https://example.gov/rules"},
	}}
	bus := &fakeBus{}
	h := newTestSubsScheduledHandler(subs, sources, bus)

	env := mustEnvelope(events.TopicSubsSchedule, events.SubsSchedule{
		RunID: 1, TraceID: "trace-1", SubscriptionID: 10,
	})

	err := h.Handle(context.Background(), env)
	require.NoError(t, err)

	started, ok := bus.find(events.TopicRunStatus)
	require.True(t, ok)
	assert.Equal(t, events.RunEventStarted, started.(events.RunStatusEvent).Event)

	payload, ok := bus.find(events.TopicCrawlRequest)
	require.True(t, ok)
	req := payload.(events.CrawlRequest)
	assert.Equal(t, int64(1), req.RunID)
	assert.Equal(t, "https://example.gov/rules", req.URL)
	assert.Equal(t, int64(20), req.SourceID)
	assert.NotEmpty(t, req.CrawlRequestID)
}

func TestSubsScheduledHandler_Handle_MissingRunIDIsContractError(t *testing.T) {
	h := newTestSubsScheduledHandler(&fakeSubscriptions{}, &fakeSources{}, &fakeBus{})

	env := mustEnvelope(events.TopicSubsSchedule, events.SubsSchedule{SubscriptionID: 10})
	err := h.Handle(context.Background(), env)

	assert.Error(t, err)
	assert.Equal(t, common.ClassContract, common.ClassOf(err))
}

func TestSubsScheduledHandler_Handle_UnknownSubscriptionFailsRun(t *testing.T) {
	bus := &fakeBus{}
	h := newTestSubsScheduledHandler(&fakeSubscriptions{byID: map[int64]*model.Subscription{}}, &fakeSources{}, bus)

	env := mustEnvelope(events.TopicSubsSchedule, events.SubsSchedule{RunID: 2, TraceID: "t", SubscriptionID: 99})
	err := h.Handle(context.Background(), env)

	assert.Error(t, err)
	assert.Equal(t, common.ClassData, common.ClassOf(err))

	_, published := bus.find(events.TopicCrawlRequest)
	assert.False(t, published)
}
