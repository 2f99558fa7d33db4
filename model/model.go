// Package model defines the relational entities of the scheduling and staged-processing
// pipeline: sources, subscriptions, runs, outbox entries, artifacts, documents, document
// versions and delivery events. These mirror the tables a migration tool (out of scope
// here) would create; the db package reads and writes them with plain SQL.
package model

import "time"

// SourceKind identifies how a Source is fetched.
type SourceKind string

const (
	SourceKindHTML SourceKind = "html"
	SourceKindAPI  SourceKind = "api"
	SourceKindPDF  SourceKind = "pdf"
)

// RobotsMode controls whether the crawler honors robots.txt for a Source.
type RobotsMode string

const (
	RobotsModeAllow    RobotsMode = "allow"
	RobotsModeDisallow RobotsMode = "disallow"
	RobotsModeCustom   RobotsMode = "custom"
)

// Source is a crawlable origin owned by an operator.
type Source struct {
	ID          int64
	Name        string
	Kind        SourceKind
	BaseURL     string
	RobotsMode  RobotsMode
	RateLimit   int // requests per minute
	Enabled     bool
	CreatedAt   time.Time
}

// SubscriptionStatus is the lifecycle state of a Subscription's schedule.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionPaused   SubscriptionStatus = "PAUSED"
	SubscriptionDisabled SubscriptionStatus = "DISABLED"
	SubscriptionError    SubscriptionStatus = "ERROR"
)

// Subscription is a recurring-crawl contract against a Source.
type Subscription struct {
	ID           int64
	SourceID     int64
	Jurisdiction string
	Selectors    []byte // opaque JSON rule
	Schedule     string // cron expression
	LastRunAt    *time.Time
	NextRunAt    *time.Time
	Status       SubscriptionStatus
	CreatedAt    time.Time
}

// RunKind identifies which pipeline entry point created a Run.
type RunKind string

const (
	RunKindCrawl     RunKind = "CRAWL"
	RunKindParse     RunKind = "PARSE"
	RunKindNormalize RunKind = "NORMALIZE"
	RunKindSchedule  RunKind = "SCHEDULE"
)

// RunStatus is the terminal/non-terminal state of a Run. Upper-case per the
// Upper-case to match SubscriptionStatus and DeliveryStatus (the source material had both cases).
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Run is one end-to-end pipeline execution.
type Run struct {
	ID             int64
	SubscriptionID *int64 // nullable: runs outlive subscription deletion
	RunKind        RunKind
	StartedAt      time.Time
	EndedAt        *time.Time
	Status         RunStatus
	Error          string
}

// Terminal reports whether the status is one that sets EndedAt.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// OutboxStatus is the publish state of an OutboxEntry.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// OutboxEntry is a pending bus emission tied to the DB transaction that created it.
type OutboxEntry struct {
	ID          int64
	CreatedAt   time.Time
	EventType   string
	Payload     []byte // opaque JSON
	Status      OutboxStatus
	Attempts    int
	PublishedAt *time.Time
}

// Artifact is an immutable raw-fetch record.
type Artifact struct {
	ID          int64
	SourceURL   string
	ContentType string
	BlobURI     string
	FetchHash   string // sha256 of the body, hex
	FetchedAt   time.Time
	RunID       int64
}

// Document is the logical identity of a crawled resource, keyed by SourceURL.
type Document struct {
	ID            int64
	SourceID      int64
	SourceURL     string
	PublishedDate *time.Time
	Language      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DocumentVersion is a parsed snapshot of a Document's content.
type DocumentVersion struct {
	ID          int64
	DocumentID  int64
	ParsedURI   string
	DiffURI     string // empty for the first version
	ContentHash string // sha256 of the canonicalized parsed JSON, hex
	CreatedAt   time.Time
	RunID       int64
}

// DeliveryStatus is the hand-off state of a DeliveryEvent.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryCompleted DeliveryStatus = "COMPLETED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// DeliveryEvent records one downstream hand-off of a DocumentVersion.
type DeliveryEvent struct {
	ID            int64
	DocVersionID  int64
	Status        DeliveryStatus
	ArtifactType  string
	DeliveryURI   string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
