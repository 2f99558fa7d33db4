package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSections_HeadingsSplitText(t *testing.T) {
	html := `<html><body>
		<h1>Scope</h1>
		<p>This rule applies to all covered entities.</p>
		<h2>Definitions</h2>
		<p>Covered entity means any person subject to this part.</p>
	</body></html>`

	sections := extractSections(html)
	require.Len(t, sections, 2)

	assert.Equal(t, 1, sections[0].Level)
	assert.Equal(t, "Scope", sections[0].Heading)
	assert.Contains(t, sections[0].Text, "covered entities")
	assert.NotEmpty(t, sections[0].SHA256)

	assert.Equal(t, 2, sections[1].Level)
	assert.Equal(t, "Definitions", sections[1].Heading)
	assert.Contains(t, sections[1].Text, "Covered entity means")
}

func TestExtractSections_NoHeadingFallsBackToSingleSection(t *testing.T) {
	html := `<html><body><p>No headings here, just text.</p></body></html>`

	sections := extractSections(html)
	require.Len(t, sections, 1)
	assert.Equal(t, "Content", sections[0].Heading)
	assert.Contains(t, sections[0].Text, "No headings here")
}

func TestExtractSections_TableAttachedToEnclosingSection(t *testing.T) {
	html := `<html><body>
		<h1>Fees</h1>
		<table><tr><th>Tier</th><th>Amount</th></tr><tr><td>1</td><td>$10</td></tr></table>
	</body></html>`

	sections := extractSections(html)
	require.Len(t, sections, 1)
	require.Len(t, sections[0].Tables, 1)
	assert.Equal(t, [][]string{{"Tier", "Amount"}, {"1", "$10"}}, sections[0].Tables[0].Rows)
}

func TestExtractSections_EmptyDocumentYieldsNoSections(t *testing.T) {
	sections := extractSections(`<html><body></body></html>`)
	assert.Empty(t, sections)
}

func TestHeadingLevel(t *testing.T) {
	cases := []struct {
		tag   string
		level int
		ok    bool
	}{
		{"h1", 1, true},
		{"h2", 2, true},
		{"h3", 3, true},
		{"h4", 4, true},
		{"h5", 0, false},
		{"div", 0, false},
	}
	for _, c := range cases {
		level, ok := headingLevel(c.tag)
		assert.Equal(t, c.ok, ok, c.tag)
		assert.Equal(t, c.level, level, c.tag)
	}
}

func TestSha256Hex_Deterministic(t *testing.T) {
	assert.Equal(t, sha256Hex("abc"), sha256Hex("abc"))
	assert.NotEqual(t, sha256Hex("abc"), sha256Hex("abd"))
}

func TestKeyFromBlobURI(t *testing.T) {
	key, err := keyFromBlobURI("s3://regwatch/raw/1/2026/01/01/deadbeef.bin")
	require.NoError(t, err)
	assert.Equal(t, "raw/1/2026/01/01/deadbeef.bin", key)
}

func TestKeyFromBlobURI_MalformedRejected(t *testing.T) {
	_, err := keyFromBlobURI("not-a-uri")
	assert.Error(t, err)

	_, err = keyFromBlobURI("s3://bucket-without-key")
	assert.Error(t, err)
}

func TestDecodeBody_PlainUTF8(t *testing.T) {
	text, err := decodeBody([]byte("<p>hello</p>"), "text/html; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", text)
}

func TestDecodeBody_UnknownContentTypeFallsBackToRawBytes(t *testing.T) {
	text, err := decodeBody([]byte("<p>hello</p>"), "")
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", text)
}
