package runstatus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
)

type fakeTransitioner struct {
	calls []transitionCall
	err   error
}

type transitionCall struct {
	runID  int64
	status model.RunStatus
	errMsg string
}

func (f *fakeTransitioner) TransitionStatus(ctx context.Context, id int64, status model.RunStatus, errMsg string) error {
	f.calls = append(f.calls, transitionCall{id, status, errMsg})
	return f.err
}

func newTestAggregator(f *fakeTransitioner) *Aggregator {
	return &Aggregator{runs: f, log: common.NewContextLogger(common.Logger, nil)}
}

func TestAggregator_HandleRunStatus_Started(t *testing.T) {
	f := &fakeTransitioner{}
	agg := newTestAggregator(f)

	err := agg.HandleRunStatus(context.Background(), events.RunStatusEvent{
		RunID: 1, TraceID: "t1", Event: events.RunEventStarted,
	})
	require.NoError(t, err)
	require.Len(t, f.calls, 1)
	assert.Equal(t, model.RunRunning, f.calls[0].status)
}

func TestAggregator_HandleRunStatus_FailedCombinesMessageAndTraceback(t *testing.T) {
	f := &fakeTransitioner{}
	agg := newTestAggregator(f)

	err := agg.HandleRunStatus(context.Background(), events.RunStatusEvent{
		RunID:          2,
		Event:          events.RunEventFailed,
		ErrorMessage:   "fetch timed out",
		ErrorTraceback: "at crawl.go:42",
	})
	require.NoError(t, err)
	require.Len(t, f.calls, 1)
	assert.Equal(t, model.RunFailed, f.calls[0].status)
	assert.Equal(t, "fetch timed out\nat crawl.go:42", f.calls[0].errMsg)
}

func TestAggregator_HandleRunStatus_UnknownEventErrors(t *testing.T) {
	f := &fakeTransitioner{}
	agg := newTestAggregator(f)

	err := agg.HandleRunStatus(context.Background(), events.RunStatusEvent{RunID: 3, Event: "run.bogus"})
	assert.Error(t, err)
	assert.Empty(t, f.calls)
}

func TestAggregator_HandleDeliveryResult_CompletesRun(t *testing.T) {
	f := &fakeTransitioner{}
	agg := newTestAggregator(f)

	err := agg.HandleDeliveryResult(context.Background(), events.DeliveryResult{RunID: 4, Status: "COMPLETED"})
	require.NoError(t, err)
	require.Len(t, f.calls, 1)
	assert.Equal(t, model.RunCompleted, f.calls[0].status)
}

func TestCombineErrorAndTraceback(t *testing.T) {
	assert.Equal(t, "", combineErrorAndTraceback("", ""))
	assert.Equal(t, "msg", combineErrorAndTraceback("msg", ""))
	assert.Equal(t, "tb", combineErrorAndTraceback("", "tb"))
	assert.Equal(t, "msg\ntb", combineErrorAndTraceback("msg", "tb"))
}
