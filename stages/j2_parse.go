package stages

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/evalgo/regwatch/common"
	"github.com/evalgo/regwatch/db"
	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
	"github.com/evalgo/regwatch/queue"
	"github.com/evalgo/regwatch/storage"
)

// ParseHandler is J2: downloads the raw bytes for a crawl.result, extracts
// heading-delimited sections and tables, canonicalizes and hashes the result, and
// writes a Document/DocumentVersion pair before emitting parse.result.
type ParseHandler struct {
	documents *db.DocumentStore
	objects   *storage.ObjectStore
	bus       queue.Bus
	log       *common.ContextLogger
}

// NewParseHandler builds the J2 handler.
func NewParseHandler(documents *db.DocumentStore, objects *storage.ObjectStore, bus queue.Bus) *ParseHandler {
	return &ParseHandler{
		documents: documents,
		objects:   objects,
		bus:       bus,
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "stages.j2"}),
	}
}

// Topic implements Handler.
func (h *ParseHandler) Topic() string { return events.TopicCrawlResult }

// Handle implements Handler.
func (h *ParseHandler) Handle(ctx context.Context, env events.Envelope) error {
	var in events.CrawlResult
	if err := env.Decode(&in); err != nil {
		return common.ContractError(fmt.Errorf("j2: decode crawl.result: %w", err))
	}
	if in.RunID == 0 || in.TraceID == "" {
		return common.ContractError(fmt.Errorf("j2: missing run_id or trace_id"))
	}

	key, err := keyFromBlobURI(in.BlobURI)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.DataError(err)
	}

	raw, err := h.objects.Get(ctx, key)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j2: download raw bytes: %w", err))
	}

	text, err := decodeBody(raw, in.ContentType)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.SourceError(fmt.Errorf("j2: decode body: %w", err))
	}

	sections := extractSections(text)
	if len(sections) == 0 {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, "no content extracted")
		return common.SourceError(fmt.Errorf("j2: empty extracted content for %s", in.SourceURL))
	}

	parsed := model.ParsedDocument{
		SourceURL: in.SourceURL,
		Language:  "en",
		Sections:  sections,
	}

	contentHash, err := common.ContentHash(parsed)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return fmt.Errorf("j2: compute content hash: %w", err)
	}

	doc, err := h.documents.UpsertDocument(ctx, in.SourceID, in.SourceURL, parsed.Language)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j2: upsert document: %w", err))
	}

	versionID, err := h.documents.CreateVersion(ctx, &model.DocumentVersion{
		DocumentID:  doc.ID,
		ContentHash: contentHash,
		RunID:       in.RunID,
	})
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j2: create document version: %w", err))
	}

	parsedJSON, err := json.Marshal(parsed)
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return fmt.Errorf("j2: marshal parsed document: %w", err)
	}

	parsedKey := storage.ParsedKey(doc.ID, versionID)
	parsedURI, err := h.objects.Put(ctx, parsedKey, parsedJSON, "application/json")
	if err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j2: upload parsed document: %w", err))
	}

	if err := h.documents.SetParsedURI(ctx, versionID, parsedURI); err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(err)
	}

	return h.publishResult(in, doc.ID, versionID, parsedURI, len(sections))
}

func (h *ParseHandler) publishResult(in events.CrawlResult, docID, versionID int64, parsedURI string, sectionCount int) error {
	out := events.ParseResult{
		RunID:        in.RunID,
		TraceID:      in.TraceID,
		DocID:        docID,
		VersionID:    versionID,
		ParsedURI:    parsedURI,
		SectionCount: sectionCount,
		SourceURL:    in.SourceURL,
	}
	if err := h.bus.Publish(events.TopicParseResult, out); err != nil {
		emitRunFailed(h.bus, h.log, in.RunID, in.TraceID, err.Error())
		return common.Transient(fmt.Errorf("j2: publish parse.result: %w", err))
	}
	return nil
}

// keyFromBlobURI strips the s3://bucket/ prefix a BlobURI was built with.
func keyFromBlobURI(blobURI string) (string, error) {
	const prefix = "s3://"
	if !strings.HasPrefix(blobURI, prefix) {
		return "", fmt.Errorf("malformed blob uri %q", blobURI)
	}
	rest := blobURI[len(prefix):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", fmt.Errorf("malformed blob uri %q", blobURI)
	}
	return rest[idx+1:], nil
}

// decodeBody detects the body's text encoding from contentType's charset,
// falling back to statistical detection, then UTF-8, and transcodes to UTF-8 text.
func decodeBody(raw []byte, contentType string) (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return string(raw), nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// extractSections walks the HTML document for h1-h4 headings, splitting body text
// between them into Sections. If no heading is found but text exists, the whole
// document becomes a single section titled "Content". Tables within a section's
// byte range are captured alongside it.
func extractSections(htmlText string) []model.Section {
	doc, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return nil
	}

	// block records one heading or text run encountered in document order; sections
	// are assembled from these afterward rather than during the walk, since a
	// heading's own section only starts once its trailing siblings are visited.
	type block struct {
		isHeading bool
		level     int
		text      string
		table     *model.Table
	}
	var blocks []block

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level, ok := headingLevel(n.Data); ok {
				blocks = append(blocks, block{isHeading: true, level: level, text: textContent(n)})
				return
			}
			if n.Data == "table" {
				t := parseTable(n)
				blocks = append(blocks, block{table: &t})
				return
			}
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				blocks = append(blocks, block{text: trimmed})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var sections []model.Section
	var cur *model.Section
	offset := 0

	flushText := func(text string) {
		if cur == nil {
			return
		}
		if cur.Text != "" {
			cur.Text += " "
		}
		cur.Text += text
	}

	for _, b := range blocks {
		switch {
		case b.isHeading:
			if cur != nil {
				cur.EndByte = offset
				cur.SHA256 = sha256Hex(cur.Text)
				sections = append(sections, *cur)
			}
			cur = &model.Section{ID: len(sections) + 1, Level: b.level, Heading: b.text, StartByte: offset}
		case b.table != nil:
			if cur == nil {
				cur = &model.Section{ID: len(sections) + 1, Level: 1, Heading: "Content", StartByte: offset}
			}
			cur.Tables = append(cur.Tables, *b.table)
		default:
			if cur == nil {
				cur = &model.Section{ID: len(sections) + 1, Level: 1, Heading: "Content", StartByte: offset}
			}
			flushText(b.text)
			offset += len(b.text) + 1
		}
	}
	if cur != nil {
		cur.EndByte = offset
		cur.SHA256 = sha256Hex(cur.Text)
		sections = append(sections, *cur)
	}
	return sections
}

func headingLevel(tag string) (int, bool) {
	switch tag {
	case "h1":
		return 1, true
	case "h2":
		return 2, true
	case "h3":
		return 3, true
	case "h4":
		return 4, true
	default:
		return 0, false
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func parseTable(n *html.Node) model.Table {
	var t model.Table
	var walkRows func(*html.Node)
	walkRows = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var row []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					row = append(row, textContent(c))
				}
			}
			if len(row) > 0 {
				t.Rows = append(t.Rows, row)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkRows(c)
		}
	}
	walkRows(n)
	return t
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
