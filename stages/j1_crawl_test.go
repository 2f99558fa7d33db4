package stages

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
	"github.com/evalgo/regwatch/storage"
)

func newTestCrawlHandler(sources sourceGetter, artifacts artifactCrawlStore, bus *fakeBus) (*CrawlHandler, *storage.ObjectStore) {
	client := storage.NewMockS3Client()
	client.Buckets["regwatch"] = true
	objects := storage.NewObjectStore(client, "regwatch")
	return &CrawlHandler{
		sources:   sources,
		artifacts: artifacts,
		objects:   objects,
		bus:       bus,
		limiter:   NewSourceRateLimiter(),
		client:    http.DefaultClient,
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "stages.j1.test"}),
	}, objects
}

func TestCrawlHandler_Handle_FetchesStoresAndPublishes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	sources := &fakeSources{byID: map[int64]*model.Source{1: {ID: 1, BaseURL: srv.URL, RateLimit: 600}}}
	artifacts := &fakeArtifacts{}
	bus := &fakeBus{}
	h, objects := newTestCrawlHandler(sources, artifacts, bus)

	env := mustEnvelope(events.TopicCrawlRequest, events.CrawlRequest{
		RunID: 1, TraceID: "t1", URL: srv.URL, SourceID: 1,
	})

	err := h.Handle(context.Background(), env)
	require.NoError(t, err)
	require.Len(t, artifacts.created, 1)

	payload, ok := bus.find(events.TopicCrawlResult)
	require.True(t, ok)
	result := payload.(events.CrawlResult)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.NotEmpty(t, result.BlobURI)

	key, err := keyFromBlobURI(result.BlobURI)
	require.NoError(t, err)
	stored, err := objects.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Contains(t, string(stored), "hello")
}

func TestCrawlHandler_Handle_ExistingArtifactSkipsFetch(t *testing.T) {
	existing := &model.Artifact{ID: 5, BlobURI: "s3://regwatch/raw/1/2026/01/01/abc.bin", ContentType: "text/html", SourceURL: "https://example.gov/x"}
	sources := &fakeSources{}
	artifacts := &fakeArtifacts{existing: existing}
	bus := &fakeBus{}
	h, _ := newTestCrawlHandler(sources, artifacts, bus)

	env := mustEnvelope(events.TopicCrawlRequest, events.CrawlRequest{
		RunID: 1, TraceID: "t1", URL: existing.SourceURL, SourceID: 1,
	})

	err := h.Handle(context.Background(), env)
	require.NoError(t, err)
	assert.Empty(t, artifacts.created)

	payload, ok := bus.find(events.TopicCrawlResult)
	require.True(t, ok)
	result := payload.(events.CrawlResult)
	assert.Equal(t, existing.ID, result.ArtifactID)
	assert.Equal(t, existing.BlobURI, result.BlobURI)
}

func TestCrawlHandler_Handle_NonSuccessStatusIsSourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sources := &fakeSources{byID: map[int64]*model.Source{1: {ID: 1, BaseURL: srv.URL, RateLimit: 600}}}
	artifacts := &fakeArtifacts{}
	bus := &fakeBus{}
	h, _ := newTestCrawlHandler(sources, artifacts, bus)

	env := mustEnvelope(events.TopicCrawlRequest, events.CrawlRequest{
		RunID: 1, TraceID: "t1", URL: srv.URL, SourceID: 1,
	})

	err := h.Handle(context.Background(), env)
	assert.Error(t, err)
	assert.Equal(t, common.ClassSource, common.ClassOf(err))

	_, published := bus.find(events.TopicCrawlResult)
	assert.False(t, published)
}
