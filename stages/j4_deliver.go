package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
	"github.com/evalgo/regwatch/queue"
	"github.com/evalgo/regwatch/storage"
)

// deliveryArtifactType is the artifact_type recorded against every delivery event;
// the pipeline only hands off the parsed document shape, never raw bytes.
const deliveryArtifactType = "parsed_document"

// versionGetter is the slice of db.DocumentStore J4 needs.
type versionGetter interface {
	GetVersion(ctx context.Context, versionID int64) (*model.DocumentVersion, error)
}

// deliveryRecorder is the slice of db.DeliveryStore J4 needs.
type deliveryRecorder interface {
	Create(ctx context.Context, docVersionID int64, artifactType string) (int64, error)
	Complete(ctx context.Context, id int64, deliveryURI string) error
	Fail(ctx context.Context, id int64, errMsg string) error
}

// DeliverHandler is J4: the terminal stage. It loads the parsed document for a
// versioned run, records a delivery event, publishes it on delivery.request for
// downstream consumers, marks the delivery completed, and publishes
// delivery.result, from which the run-status aggregator completes the run.
type DeliverHandler struct {
	documents  versionGetter
	deliveries deliveryRecorder
	objects    *storage.ObjectStore
	bus        queue.Bus
	log        *common.ContextLogger
}

// NewDeliverHandler builds the J4 handler.
func NewDeliverHandler(documents *db.DocumentStore, deliveries *db.DeliveryStore, objects *storage.ObjectStore, bus queue.Bus) *DeliverHandler {
	return &DeliverHandler{
		documents:  documents,
		deliveries: deliveries,
		objects:    objects,
		bus:        bus,
		log:        common.NewContextLogger(common.Logger, map[string]interface{}{"component": "stages.j4"}),
	}
}

// Topic implements Handler.
func (h *DeliverHandler) Topic() string { return events.TopicVersioningResult }

// Handle implements Handler.
func (h *DeliverHandler) Handle(ctx context.Context, env events.Envelope) error {
	var in events.VersioningResult
	if err := env.Decode(&in); err != nil {
		return common.ContractError(fmt.Errorf("j4: decode versioning.result: %w", err))
	}
	if in.RunID == 0 || in.TraceID == "" {
		return common.ContractError(fmt.Errorf("j4: missing run_id or trace_id"))
	}

	version, err := h.documents.GetVersion(ctx, in.VersionID)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.DataError(fmt.Errorf("j4: load version %d: %w", in.VersionID, err))
	}
	if version.ParsedURI == "" {
		err := fmt.Errorf("j4: version %d has no parsed document", in.VersionID)
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.DataError(err)
	}

	deliveryID, err := h.deliveries.Create(ctx, in.VersionID, deliveryArtifactType)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j4: create delivery event: %w", err))
	}

	parsedKey, err := keyFromBlobURI(version.ParsedURI)
	if err != nil {
		h.failDelivery(ctx, deliveryID, in, err)
		return common.DataError(err)
	}

	parsedJSON, err := h.objects.Get(ctx, parsedKey)
	if err != nil {
		h.failDelivery(ctx, deliveryID, in, err)
		return common.Transient(fmt.Errorf("j4: download parsed document: %w", err))
	}

	var parsed model.ParsedDocument
	if err := json.Unmarshal(parsedJSON, &parsed); err != nil {
		h.failDelivery(ctx, deliveryID, in, err)
		return common.DataError(fmt.Errorf("j4: unmarshal parsed document: %w", err))
	}

	req := events.DeliveryRequest{
		RunID:          in.RunID,
		TraceID:        in.TraceID,
		DocID:          in.DocID,
		VersionID:      in.VersionID,
		ParsedDocument: parsed,
	}
	if err := h.bus.Publish(events.TopicDeliveryRequest, req); err != nil {
		h.failDelivery(ctx, deliveryID, in, err)
		return common.Transient(fmt.Errorf("j4: publish delivery.request: %w", err))
	}

	if err := h.deliveries.Complete(ctx, deliveryID, version.ParsedURI); err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j4: complete delivery event: %w", err))
	}

	out := events.DeliveryResult{
		RunID:     in.RunID,
		TraceID:   in.TraceID,
		DocID:     in.DocID,
		VersionID: in.VersionID,
		Status:    string(model.DeliveryCompleted),
		Result: &events.DeliveryOutcome{
			DeliveryEventID:   deliveryID,
			SectionsDelivered: len(parsed.Sections),
		},
	}
	if err := h.bus.Publish(events.TopicDeliveryResult, out); err != nil {
		return common.Transient(fmt.Errorf("j4: publish delivery.result: %w", err))
	}
	return nil
}

func (h *DeliverHandler) failDelivery(ctx context.Context, deliveryID int64, in events.VersioningResult, cause error) {
	if err := h.deliveries.Fail(ctx, deliveryID, cause.Error()); err != nil {
		h.log.WithField("delivery_id", deliveryID).Error("j4: mark delivery failed: " + err.Error())
	}
	emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, cause.Error())
}
