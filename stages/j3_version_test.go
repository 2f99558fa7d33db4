package stages

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/regwatch/model"
	"github.com/evalgo/regwatch/storage"
)

// diffAndUpload only touches the ObjectStore, so it's exercised here directly
// without a database or bus.
func newTestVersionHandler(t *testing.T) (*VersionHandler, *storage.ObjectStore) {
	t.Helper()
	client := storage.NewMockS3Client()
	client.Buckets["regwatch"] = true
	objects := storage.NewObjectStore(client, "regwatch")
	return NewVersionHandler(nil, objects, nil), objects
}

func TestDiffAndUpload_ComputesJSONPatch(t *testing.T) {
	h, objects := newTestVersionHandler(t)
	ctx := context.Background()

	prev := model.ParsedDocument{SourceURL: "https://example.gov/rule", Language: "en", Sections: []model.Section{
		{ID: 1, Heading: "Scope", Text: "old text"},
	}}
	cur := model.ParsedDocument{SourceURL: "https://example.gov/rule", Language: "en", Sections: []model.Section{
		{ID: 1, Heading: "Scope", Text: "new text"},
	}}
	prevJSON, err := json.Marshal(prev)
	require.NoError(t, err)
	curJSON, err := json.Marshal(cur)
	require.NoError(t, err)

	prevURI, err := objects.Put(ctx, storage.ParsedKey(1, 1), prevJSON, "application/json")
	require.NoError(t, err)
	curURI, err := objects.Put(ctx, storage.ParsedKey(1, 2), curJSON, "application/json")
	require.NoError(t, err)

	previous := &model.DocumentVersion{ID: 1, DocumentID: 1, ParsedURI: prevURI}
	current := &model.DocumentVersion{ID: 2, DocumentID: 1, ParsedURI: curURI}

	diffURI, err := h.diffAndUpload(ctx, previous, current)
	require.NoError(t, err)
	assert.Equal(t, storage.DiffKey(1, 2), "diffs/1/2.json")

	diffBytes, err := objects.Get(ctx, "diffs/1/2.json")
	require.NoError(t, err)

	var ops []map[string]interface{}
	require.NoError(t, json.Unmarshal(diffBytes, &ops))
	require.NotEmpty(t, ops)
	assert.Equal(t, "replace", ops[0]["op"])
	assert.Contains(t, ops[0]["path"], "/sections/0/text")
	assert.Equal(t, "new text", ops[0]["value"])
	assert.NotEmpty(t, diffURI)
}

// TestDiffAndUpload_IdenticalContentProducesEmptyOps covers the re-crawl case: a
// new version with identical parsed content diffs to an empty RFC 6902 operations
// array, not an empty merge-patch object.
func TestDiffAndUpload_IdenticalContentProducesEmptyOps(t *testing.T) {
	h, objects := newTestVersionHandler(t)
	ctx := context.Background()

	doc := model.ParsedDocument{SourceURL: "https://example.gov/rule", Language: "en", Sections: []model.Section{
		{ID: 1, Heading: "Scope", Text: "same text"},
	}}
	docJSON, err := json.Marshal(doc)
	require.NoError(t, err)

	prevURI, err := objects.Put(ctx, storage.ParsedKey(1, 1), docJSON, "application/json")
	require.NoError(t, err)
	curURI, err := objects.Put(ctx, storage.ParsedKey(1, 2), docJSON, "application/json")
	require.NoError(t, err)

	previous := &model.DocumentVersion{ID: 1, DocumentID: 1, ParsedURI: prevURI}
	current := &model.DocumentVersion{ID: 2, DocumentID: 1, ParsedURI: curURI}

	diffURI, err := h.diffAndUpload(ctx, previous, current)
	require.NoError(t, err)

	diffBytes, err := objects.Get(ctx, "diffs/1/2.json")
	require.NoError(t, err)

	var ops []map[string]interface{}
	require.NoError(t, json.Unmarshal(diffBytes, &ops))
	assert.Empty(t, ops)
	assert.NotEmpty(t, diffURI)
}
