// Package audit reconstructs the event timeline for a document or a single
// document version: every outbox, run, artifact, version and delivery record tied
// to that version's run_id, normalized into one shape and sorted by timestamp.
// Timestamps are the sort key but never the source of truth — the structural
// graph (run_id, version_id, artifact_id) is, per the concurrency model's
// explicit warning that server clocks need not be monotonic across processes.
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/model"
)

// Event is one normalized timeline entry.
type Event struct {
	EventType    string    `json:"event_type"`
	EventID      int64     `json:"event_id"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status,omitempty"`
	RunID        int64     `json:"run_id"`
	RunKind      string    `json:"run_kind,omitempty"`
	ArtifactIDs  []int64   `json:"artifact_ids,omitempty"`
	ArtifactURIs []string  `json:"artifact_uris,omitempty"`
	VersionID    int64     `json:"version_id,omitempty"`
	ParsedURI    string    `json:"parsed_uri,omitempty"`
	DiffURI      string    `json:"diff_uri,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Reconstructor assembles Event timelines from the store layer. Version and
// delivery events are read through AuditStore.VersionsForRun and
// DeliveriesForRun rather than the narrower per-document/per-version store
// methods, since a run's timeline covers every version and delivery it
// produced, not just the one that seeded the query.
type Reconstructor struct {
	documents *db.DocumentStore
	runs      *db.RunStore
	artifacts *db.ArtifactStore
	audit     *db.AuditStore
}

// NewReconstructor builds a Reconstructor wired to the pipeline's stores.
func NewReconstructor(documents *db.DocumentStore, runs *db.RunStore, artifacts *db.ArtifactStore, auditStore *db.AuditStore) *Reconstructor {
	return &Reconstructor{
		documents: documents,
		runs:      runs,
		artifacts: artifacts,
		audit:     auditStore,
	}
}

// ForDocument reconstructs the timeline across every version of docID.
func (r *Reconstructor) ForDocument(ctx context.Context, docID int64) ([]Event, error) {
	versions, err := r.documents.VersionsForDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("audit: versions for document %d: %w", docID, err)
	}
	return r.collect(ctx, versions)
}

// ForVersion reconstructs the timeline for a single (document_id, version_id) pair.
func (r *Reconstructor) ForVersion(ctx context.Context, versionID int64) ([]Event, error) {
	v, err := r.documents.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("audit: get version %d: %w", versionID, err)
	}
	return r.collect(ctx, []*model.DocumentVersion{v})
}

func (r *Reconstructor) collect(ctx context.Context, versions []*model.DocumentVersion) ([]Event, error) {
	var timeline []Event
	seenRuns := map[int64]bool{}

	for _, v := range versions {
		if !seenRuns[v.RunID] {
			seenRuns[v.RunID] = true

			outboxRows, err := r.audit.OutboxForRun(ctx, v.RunID)
			if err != nil {
				return nil, err
			}
			for _, o := range outboxRows {
				timeline = append(timeline, Event{
					EventType: o.EventType,
					EventID:   o.ID,
					Timestamp: asUTC(o.CreatedAt),
					Status:    string(o.Status),
					RunID:     v.RunID,
				})
			}

			run, err := r.runs.Get(ctx, v.RunID)
			if err != nil {
				return nil, fmt.Errorf("audit: get run %d: %w", v.RunID, err)
			}
			timeline = append(timeline, Event{
				EventType: "run",
				EventID:   run.ID,
				Timestamp: asUTC(run.StartedAt),
				Status:    string(run.Status),
				RunID:     run.ID,
				RunKind:   string(run.RunKind),
				Error:     run.Error,
			})

			artifacts, err := r.audit.ArtifactsForRun(ctx, v.RunID)
			if err != nil {
				return nil, err
			}
			for _, a := range artifacts {
				timeline = append(timeline, Event{
					EventType:    "artifact",
					EventID:      a.ID,
					Timestamp:    asUTC(a.FetchedAt),
					RunID:        v.RunID,
					ArtifactIDs:  []int64{a.ID},
					ArtifactURIs: []string{a.BlobURI},
				})
			}

			runVersions, err := r.audit.VersionsForRun(ctx, v.RunID)
			if err != nil {
				return nil, fmt.Errorf("audit: versions for run %d: %w", v.RunID, err)
			}
			for _, rv := range runVersions {
				timeline = append(timeline, Event{
					EventType:   "version",
					EventID:     rv.ID,
					Timestamp:   asUTC(rv.CreatedAt),
					RunID:       rv.RunID,
					VersionID:   rv.ID,
					ParsedURI:   rv.ParsedURI,
					DiffURI:     rv.DiffURI,
					ContentHash: rv.ContentHash,
				})
			}

			deliveries, err := r.audit.DeliveriesForRun(ctx, v.RunID)
			if err != nil {
				return nil, fmt.Errorf("audit: deliveries for run %d: %w", v.RunID, err)
			}
			for _, dl := range deliveries {
				timeline = append(timeline, Event{
					EventType: "delivery",
					EventID:   dl.ID,
					Timestamp: asUTC(dl.UpdatedAt),
					Status:    string(dl.Status),
					RunID:     v.RunID,
					VersionID: dl.DocVersionID,
					Error:     dl.ErrorMessage,
				})
			}
		}
	}

	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})
	return timeline, nil
}

// asUTC converts a timestamp in any non-UTC location to the same instant in UTC
// so every timeline timestamp is UTC before sorting.
func asUTC(t time.Time) time.Time {
	if t.Location() != time.UTC {
		return t.UTC()
	}
	return t
}
