package queue

import (
	"encoding/json"
	"time"

	"gleaner/internal/status"
)

// EntryType records how an item entered the queue.
type EntryType string

const (
	EntryDiscovered EntryType = "discovered"
	EntryManual     EntryType = "manual"
)

// FetchStatus records the outcome of the last raw-content retrieval.
type FetchStatus string

const (
	FetchNone      FetchStatus = ""
	FetchOK        FetchStatus = "ok"
	FetchReused    FetchStatus = "reused"
	FetchOversized FetchStatus = "oversized"
)

// Well-known actors recorded on transitions.
const (
	ActorOrchestrator = "orchestrator"
	ActorSweeper      = "sweeper"
	ActorCLI          = "cli"
	ActorAPI          = "api"
	ActorIntake       = "intake"
)

// Tag is one taxonomy label with the tagger's confidence.
type Tag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Thumbnail references a rendered preview image.
type Thumbnail struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	ContentType string `json:"content_type,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
}

// FilterVerdict is the relevance decision recorded for an item.
type FilterVerdict struct {
	Accepted   bool   `json:"accepted"`
	Score      int    `json:"score"`
	Reason     string `json:"reason"`
	Method     string `json:"method"`
	Overridden bool   `json:"overridden,omitempty"`
}

// Payload is the semi-structured record of step outputs.
type Payload struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Text        string         `json:"text,omitempty"`
	PublishedAt string         `json:"published_at,omitempty"`
	Author      string         `json:"author,omitempty"`
	SiteName    string         `json:"site_name,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	Source      string         `json:"source,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Tags        []Tag          `json:"tags,omitempty"`
	Thumbnail   *Thumbnail     `json:"thumbnail,omitempty"`
	Filter      *FilterVerdict `json:"filter,omitempty"`
}

// Published parses PublishedAt, returning false when it is absent or malformed.
func (p Payload) Published() (time.Time, bool) {
	if p.PublishedAt == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, p.PublishedAt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Item is a queued content item.
type Item struct {
	ID               int64
	URL              string
	NormalizedURL    string
	Status           status.Status
	EntryType        EntryType
	Payload          Payload
	RawPayload       json.RawMessage
	Attempts         int
	RejectionReason  string
	PermanentFailure bool
	ContentHash      string
	StoragePath      string
	FetchStatus      FetchStatus
	RawDeleted       bool
	DiscoveredAt     time.Time
	FetchedAt        *time.Time
	FailedAt         *time.Time
	UpdatedAt        time.Time
	UpdatedBy        string
}

// IsManual reports whether a human submitted the item.
func (i *Item) IsManual() bool {
	return i != nil && i.EntryType == EntryManual
}

// HasReusableContent reports whether a stored raw copy can replace a fresh fetch.
func (i *Item) HasReusableContent() bool {
	if i == nil {
		return false
	}
	return i.ContentHash != "" && i.StoragePath != "" && !i.RawDeleted && i.FetchStatus != FetchOversized
}

// NewItem describes a candidate for Enqueue.
type NewItem struct {
	URL           string
	NormalizedURL string
	EntryType     EntryType
	Payload       Payload
	Actor         string
}

// FieldChanges lists the record updates applied together with a status move.
// Nil pointers leave the column untouched. Payload must marshal to a JSON
// object; it is merged into the stored payload with RFC 7396 semantics.
type FieldChanges struct {
	Payload          any
	Attempts         *int
	RejectionReason  *string
	PermanentFailure *bool
	ContentHash      *string
	StoragePath      *string
	FetchStatus      *FetchStatus
	RawDeleted       *bool
	FetchedAt        *time.Time
	FailedAt         *time.Time
	ClearFailedAt    bool
}

// TransitionOptions configures a Transition call.
type TransitionOptions struct {
	Fields FieldChanges
	Manual bool
	// ExpectStatus turns the transition into a compare-and-swap on the current status.
	ExpectStatus status.Status
}

// HistoryEntry is one audited status change.
type HistoryEntry struct {
	ID        int64
	ItemID    int64
	From      status.Status
	To        status.Status
	Actor     string
	Manual    bool
	CreatedAt time.Time
}

// ListFilter narrows List results.
type ListFilter struct {
	Statuses  []status.Status
	EntryType EntryType
	Search    string
	Limit     int
	Offset    int
}

// Lease is an exclusive claim on an item.
type Lease struct {
	ItemID    int64
	Token     string
	Holder    string
	ExpiresAt time.Time
}

// Ptr returns a pointer to v, for building FieldChanges.
func Ptr[T any](v T) *T {
	return &v
}

// HealthSummary aggregates queue counts per phase.
type HealthSummary struct {
	Total    int
	Queued   int
	Working  int
	Review   int
	Rejected int
	Failed   int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int64
	StatusCodes      int
	IntegrityCheck   bool
	TotalItems       int
	Error            string
}

// StuckReset describes one item moved out of a working status by a sweep.
type StuckReset struct {
	ItemID int64
	From   status.Status
	To     status.Status
}
