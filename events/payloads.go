package events

import "github.com/evalgo/regwatch/model"

// SubsSchedule is the subs.schedule payload, produced by the dispatcher draining an
// outbox row written by the scheduler tick.
type SubsSchedule struct {
	RunID          int64  `json:"run_id"`
	TraceID        string `json:"trace_id"`
	SubscriptionID int64  `json:"subscription_id"`
}

// CrawlRequest is the crawl.request payload, produced by the subscription-scheduled
// handler (J0).
type CrawlRequest struct {
	RunID          int64  `json:"run_id"`
	TraceID        string `json:"trace_id"`
	URL            string `json:"url"`
	SourceID       int64  `json:"source_id"`
	CrawlRequestID string `json:"crawl_request_id"`
	SubscriptionID int64  `json:"subscription_id"`
}

// CrawlResult is the crawl.result payload, produced by the crawler (J1).
type CrawlResult struct {
	RunID       int64             `json:"run_id"`
	TraceID     string            `json:"trace_id"`
	ArtifactID  int64             `json:"artifact_id"`
	BlobURI     string            `json:"blob_uri"`
	ContentType string            `json:"content_type"`
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers,omitempty"`
	SourceURL   string            `json:"source_url"`
	SourceID    int64             `json:"source_id"`
}

// ParseResult is the parse.result payload, produced by the parser (J2).
type ParseResult struct {
	RunID        int64  `json:"run_id"`
	TraceID      string `json:"trace_id"`
	DocID        int64  `json:"doc_id"`
	VersionID    int64  `json:"version_id"`
	ParsedURI    string `json:"parsed_uri"`
	SectionCount int    `json:"section_count"`
	SourceURL    string `json:"source_url"`
}

// VersioningResult is the versioning.result payload, produced by the versioner (J3).
type VersioningResult struct {
	RunID     int64  `json:"run_id"`
	TraceID   string `json:"trace_id"`
	DocID     int64  `json:"doc_id"`
	VersionID int64  `json:"version_id"`
	DiffURI   string `json:"diff_uri,omitempty"`
}

// DeliveryRequest is the delivery.request payload, produced by the deliverer (J4)
// ahead of its own result event. It carries the full parsed document so a downstream
// consumer need not re-fetch the object store.
type DeliveryRequest struct {
	RunID          int64                `json:"run_id"`
	TraceID        string               `json:"trace_id"`
	DocID          int64                `json:"doc_id"`
	VersionID      int64                `json:"version_id"`
	ParsedDocument model.ParsedDocument `json:"parsed_document"`
}

// DeliveryResult is the delivery.result payload, produced by the deliverer (J4) and
// consumed by the run-status aggregator as the terminal trigger for a successful run.
type DeliveryResult struct {
	RunID     int64            `json:"run_id"`
	TraceID   string           `json:"trace_id"`
	DocID     int64            `json:"doc_id"`
	VersionID int64            `json:"version_id"`
	Status    string           `json:"status"`
	Result    *DeliveryOutcome `json:"result,omitempty"`
}

// DeliveryOutcome is the successful-delivery detail carried in DeliveryResult.Result.
type DeliveryOutcome struct {
	DeliveryEventID   int64 `json:"delivery_event_id"`
	SectionsDelivered int   `json:"sections_delivered"`
}

// RunStatusEvent is the run.status payload. Event is one of run.started,
// run.completed, run.failed; any stage may publish it.
type RunStatusEvent struct {
	RunID          int64  `json:"run_id"`
	TraceID        string `json:"trace_id"`
	Event          string `json:"event"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ErrorTraceback string `json:"error_traceback,omitempty"`
	Result         string `json:"result,omitempty"`
}

// run.status event names carried in RunStatusEvent.Event.
const (
	RunEventStarted   = "run.started"
	RunEventCompleted = "run.completed"
	RunEventFailed    = "run.failed"
)
