package stages

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
	"github.com/evalgo/regwatch/queue"
	"github.com/evalgo/regwatch/storage"
)

const crawlTimeout = 30 * time.Second

// artifactCrawlStore is the slice of db.ArtifactStore J1 needs.
type artifactCrawlStore interface {
	FindByRunAndSourceURL(ctx context.Context, runID int64, sourceURL string) (*model.Artifact, error)
	Create(ctx context.Context, art *model.Artifact) (int64, error)
}

// CrawlHandler is J1: fetches a URL, stores the raw bytes content-addressed in the
// object store, records an Artifact, and emits crawl.result. Non-2xx responses fail
// the run; the fetch is rate-limited per source_id.
type CrawlHandler struct {
	sources   sourceGetter
	artifacts artifactCrawlStore
	objects   *storage.ObjectStore
	bus       queue.Bus
	limiter   *SourceRateLimiter
	client    *http.Client
	log       *common.ContextLogger
}

// NewCrawlHandler builds the J1 handler.
func NewCrawlHandler(sources *db.SourceStore, artifacts *db.ArtifactStore, objects *storage.ObjectStore, bus queue.Bus, limiter *SourceRateLimiter) *CrawlHandler {
	return &CrawlHandler{
		sources:   sources,
		artifacts: artifacts,
		objects:   objects,
		bus:       bus,
		limiter:   limiter,
		client:    &http.Client{Timeout: crawlTimeout},
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "stages.j1"}),
	}
}

// Topic implements Handler.
func (h *CrawlHandler) Topic() string { return events.TopicCrawlRequest }

// Handle implements Handler.
func (h *CrawlHandler) Handle(ctx context.Context, env events.Envelope) error {
	var in events.CrawlRequest
	if err := env.Decode(&in); err != nil {
		return common.ContractError(fmt.Errorf("j1: decode crawl.request: %w", err))
	}
	if in.RunID == 0 || in.TraceID == "" {
		return common.ContractError(fmt.Errorf("j1: missing run_id or trace_id"))
	}

	// crawl.request may be redelivered after a dispatcher restart; a prior pass may
	// already have written this run's artifact, so skip the fetch rather than
	// writing a second one for the same run_id/source_url.
	if existing, err := h.artifacts.FindByRunAndSourceURL(ctx, in.RunID, in.URL); err == nil && existing != nil {
		out := events.CrawlResult{
			RunID:       in.RunID,
			TraceID:     in.TraceID,
			ArtifactID:  existing.ID,
			BlobURI:     existing.BlobURI,
			ContentType: existing.ContentType,
			StatusCode:  http.StatusOK,
			SourceURL:   existing.SourceURL,
			SourceID:    in.SourceID,
		}
		if err := h.bus.Publish(events.TopicCrawlResult, out); err != nil {
			return common.Transient(fmt.Errorf("j1: republish crawl.result for existing artifact: %w", err))
		}
		return nil
	}

	source, err := h.sources.Get(ctx, in.SourceID)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.DataError(fmt.Errorf("j1: load source %d: %w", in.SourceID, err))
	}

	if err := h.limiter.Limiter(source.ID, source.RateLimit).Wait(ctx); err != nil {
		return common.Transient(fmt.Errorf("j1: rate limit wait: %w", err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, crawlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, in.URL, nil)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.SourceError(fmt.Errorf("j1: build request: %w", err))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j1: fetch %s: %w", in.URL, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j1: read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, msg)
		return common.SourceError(fmt.Errorf("j1: %s", msg))
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	fetchedAt := time.Now().UTC()

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	key := storage.RawKey(source.ID, fetchedAt, hash)
	contentType := resp.Header.Get("Content-Type")
	// PutStream's multipart uploader handles raw regulatory filings (often large
	// PDFs or ZIP bundles) without first copying body into another buffer.
	blobURI, err := h.objects.PutStream(ctx, key, bytes.NewReader(body), contentType)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j1: upload raw bytes: %w", err))
	}
	h.log.WithFields(map[string]interface{}{
		"source_id": source.ID,
		"size":      humanize.Bytes(uint64(len(body))),
	}).Info("fetched and stored raw document")

	meta, err := json.Marshal(map[string]interface{}{
		"status_code":  resp.StatusCode,
		"content_type": contentType,
		"headers":      headers,
		"fetched_at":   fetchedAt,
		"source_url":   in.URL,
	})
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j1: marshal raw metadata: %w", err))
	}
	if _, err := h.objects.Put(ctx, storage.RawMetaKey(hash), meta, "application/json"); err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j1: upload raw metadata: %w", err))
	}

	artifactID, err := h.artifacts.Create(ctx, &model.Artifact{
		SourceURL:   in.URL,
		ContentType: contentType,
		BlobURI:     blobURI,
		FetchHash:   hash,
		FetchedAt:   fetchedAt,
		RunID:       in.RunID,
	})
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j1: create artifact: %w", err))
	}

	out := events.CrawlResult{
		RunID:       in.RunID,
		TraceID:     in.TraceID,
		ArtifactID:  artifactID,
		BlobURI:     blobURI,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
		Headers:     headers,
		SourceURL:   in.URL,
		SourceID:    source.ID,
	}
	if err := h.bus.Publish(events.TopicCrawlResult, out); err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j1: publish crawl.result: %w", err))
	}
	return nil
}
