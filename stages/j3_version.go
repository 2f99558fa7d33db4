package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wI2L/jsondiff"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
	"github.com/evalgo/regwatch/queue"
	"github.com/evalgo/regwatch/storage"
)

// VersionHandler is J3: given a freshly parsed document version, diffs it against
// the document's previous version (if any) as an RFC 6902 JSON Patch (an operations
// array: add/remove/replace/move/copy/test) and uploads the patch alongside the
// version. The first version of a document has no diff.
type VersionHandler struct {
	documents *db.DocumentStore
	objects   *storage.ObjectStore
	bus       queue.Bus
	log       *common.ContextLogger
}

// NewVersionHandler builds the J3 handler.
func NewVersionHandler(documents *db.DocumentStore, objects *storage.ObjectStore, bus queue.Bus) *VersionHandler {
	return &VersionHandler{
		documents: documents,
		objects:   objects,
		bus:       bus,
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "stages.j3"}),
	}
}

// Topic implements Handler.
func (h *VersionHandler) Topic() string { return events.TopicParseResult }

// Handle implements Handler.
func (h *VersionHandler) Handle(ctx context.Context, env events.Envelope) error {
	var in events.ParseResult
	if err := env.Decode(&in); err != nil {
		return common.ContractError(fmt.Errorf("j3: decode parse.result: %w", err))
	}
	if in.RunID == 0 || in.TraceID == "" {
		return common.ContractError(fmt.Errorf("j3: missing run_id or trace_id"))
	}

	current, err := h.documents.GetVersion(ctx, in.VersionID)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.DataError(fmt.Errorf("j3: load version %d: %w", in.VersionID, err))
	}

	previous, err := h.previousVersion(ctx, in.DocID, in.VersionID)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(err)
	}

	var diffURI string
	if previous != nil && previous.ParsedURI != "" && current.ParsedURI != "" {
		diffURI, err = h.diffAndUpload(ctx, previous, current)
		if err != nil {
			emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
			return common.Transient(err)
		}
		if err := h.documents.SetDiffURI(ctx, current.ID, diffURI); err != nil {
			emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
			return common.Transient(err)
		}
	}

	out := events.VersioningResult{
		RunID:     in.RunID,
		TraceID:   in.TraceID,
		DocID:     in.DocID,
		VersionID: in.VersionID,
		DiffURI:   diffURI,
	}
	if err := h.bus.Publish(events.TopicVersioningResult, out); err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j3: publish versioning.result: %w", err))
	}
	return nil
}

// previousVersion returns the DocumentVersion immediately preceding versionID for
// docID, or nil if versionID is already the oldest (the first-version case).
func (h *VersionHandler) previousVersion(ctx context.Context, docID, versionID int64) (*model.DocumentVersion, error) {
	versions, err := h.documents.VersionsForDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("j3: list versions for document %d: %w", docID, err)
	}
	for i, v := range versions {
		if v.ID == versionID {
			if i == 0 {
				return nil, nil
			}
			return versions[i-1], nil
		}
	}
	return nil, nil
}

func (h *VersionHandler) diffAndUpload(ctx context.Context, previous, current *model.DocumentVersion) (string, error) {
	prevKey, err := keyFromBlobURI(previous.ParsedURI)
	if err != nil {
		return "", fmt.Errorf("j3: previous parsed uri: %w", err)
	}
	curKey, err := keyFromBlobURI(current.ParsedURI)
	if err != nil {
		return "", fmt.Errorf("j3: current parsed uri: %w", err)
	}

	prevJSON, err := h.objects.Get(ctx, prevKey)
	if err != nil {
		return "", fmt.Errorf("j3: download previous parsed document: %w", err)
	}
	curJSON, err := h.objects.Get(ctx, curKey)
	if err != nil {
		return "", fmt.Errorf("j3: download current parsed document: %w", err)
	}

	patch, err := jsondiff.CompareJSON(prevJSON, curJSON)
	if err != nil {
		return "", fmt.Errorf("j3: compute json patch: %w", err)
	}
	if patch == nil {
		patch = jsondiff.Patch{}
	}

	// Re-marshal through an indented encoder so the stored diff reads like a
	// hand-inspected artifact rather than a single packed line. patch is the
	// RFC 6902 operations array; a nil patch (no change) was replaced above by an
	// empty one so the stored diff is "[]", not "null".
	diffBytes, err := json.MarshalIndent(patch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("j3: marshal json patch: %w", err)
	}

	key := storage.DiffKey(current.DocumentID, current.ID)
	uri, err := h.objects.Put(ctx, key, diffBytes, "application/json")
	if err != nil {
		return "", fmt.Errorf("j3: upload diff: %w", err)
	}
	return uri, nil
}
