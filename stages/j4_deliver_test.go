package stages

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
	"github.com/evalgo/regwatch/storage"
)

func newTestDeliverHandler(documents versionGetter, deliveries deliveryRecorder, objects *storage.ObjectStore, bus *fakeBus) *DeliverHandler {
	return &DeliverHandler{
		documents:  documents,
		deliveries: deliveries,
		objects:    objects,
		bus:        bus,
		log:        common.NewContextLogger(common.Logger, map[string]interface{}{"component": "stages.j4.test"}),
	}
}

func newTestObjectStore() *storage.ObjectStore {
	client := storage.NewMockS3Client()
	client.Buckets["regwatch"] = true
	return storage.NewObjectStore(client, "regwatch")
}

func TestDeliverHandler_Handle_PublishesDeliveryRequestAndResult(t *testing.T) {
	objects := newTestObjectStore()
	parsed := model.ParsedDocument{SourceURL: "https://example.gov/rule", Language: "en"}
	parsedJSON, err := json.Marshal(parsed)
	require.NoError(t, err)
	parsedURI, err := objects.Put(context.Background(), storage.ParsedKey(1, 2), parsedJSON, "application/json")
	require.NoError(t, err)

	documents := &fakeVersions{byID: map[int64]*model.DocumentVersion{
		2: {ID: 2, DocumentID: 1, ParsedURI: parsedURI},
	}}
	deliveries := &fakeDeliveries{}
	bus := &fakeBus{}
	h := newTestDeliverHandler(documents, deliveries, objects, bus)

	env := mustEnvelope(events.TopicVersioningResult, events.VersioningResult{
		RunID: 1, TraceID: "t1", DocID: 1, VersionID: 2,
	})

	err = h.Handle(context.Background(), env)
	require.NoError(t, err)

	reqPayload, ok := bus.find(events.TopicDeliveryRequest)
	require.True(t, ok)
	req := reqPayload.(events.DeliveryRequest)
	assert.Equal(t, int64(2), req.VersionID)
	assert.Equal(t, "https://example.gov/rule", req.ParsedDocument.SourceURL)

	resultPayload, ok := bus.find(events.TopicDeliveryResult)
	require.True(t, ok)
	result := resultPayload.(events.DeliveryResult)
	assert.Equal(t, string(model.DeliveryCompleted), result.Status)
	require.NotNil(t, result.Result)
	assert.Equal(t, 0, result.Result.SectionsDelivered)

	assert.Equal(t, parsedURI, deliveries.completed[1])
}

func TestDeliverHandler_Handle_MissingParsedURIFailsDelivery(t *testing.T) {
	documents := &fakeVersions{byID: map[int64]*model.DocumentVersion{
		2: {ID: 2, DocumentID: 1, ParsedURI: ""},
	}}
	deliveries := &fakeDeliveries{}
	bus := &fakeBus{}
	h := newTestDeliverHandler(documents, deliveries, newTestObjectStore(), bus)

	env := mustEnvelope(events.TopicVersioningResult, events.VersioningResult{
		RunID: 1, TraceID: "t1", DocID: 1, VersionID: 2,
	})

	err := h.Handle(context.Background(), env)
	assert.Error(t, err)
	assert.Equal(t, common.ClassData, common.ClassOf(err))

	_, published := bus.find(events.TopicDeliveryRequest)
	assert.False(t, published)
}
