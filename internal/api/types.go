package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID               int64           `json:"id"`
	URL              string          `json:"url"`
	NormalizedURL    string          `json:"normalizedUrl"`
	Title            string          `json:"title,omitempty"`
	Status           string          `json:"status"`
	Phase            string          `json:"phase"`
	EntryType        string          `json:"entryType"`
	Attempts         int             `json:"attempts"`
	RejectionReason  string          `json:"rejectionReason,omitempty"`
	PermanentFailure bool            `json:"permanentFailure"`
	ContentHash      string          `json:"contentHash,omitempty"`
	FetchStatus      string          `json:"fetchStatus,omitempty"`
	RawDeleted       bool            `json:"rawDeleted,omitempty"`
	DiscoveredAt     string          `json:"discoveredAt,omitempty"`
	FetchedAt        string          `json:"fetchedAt,omitempty"`
	FailedAt         string          `json:"failedAt,omitempty"`
	UpdatedAt        string          `json:"updatedAt,omitempty"`
	UpdatedBy        string          `json:"updatedBy,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// StepRun describes one step execution inside a run.
type StepRun struct {
	ID            int64           `json:"id"`
	Step          string          `json:"step"`
	Status        string          `json:"status"`
	Error         string          `json:"error,omitempty"`
	InputSnapshot json.RawMessage `json:"inputSnapshot,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	StartedAt     string          `json:"startedAt"`
	FinishedAt    string          `json:"finishedAt,omitempty"`
}

// Run describes one pipeline run for an item.
type Run struct {
	ID         int64     `json:"id"`
	Trigger    string    `json:"trigger"`
	Status     string    `json:"status"`
	Actor      string    `json:"actor"`
	Error      string    `json:"error,omitempty"`
	StartedAt  string    `json:"startedAt"`
	FinishedAt string    `json:"finishedAt,omitempty"`
	Steps      []StepRun `json:"steps"`
}

// HistoryEntry describes one audited status change.
type HistoryEntry struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Actor     string `json:"actor"`
	Manual    bool   `json:"manual"`
	CreatedAt string `json:"createdAt"`
}

// ItemDetail is a queue item with its run and status history.
type ItemDetail struct {
	Item    QueueItem      `json:"item"`
	Runs    []Run          `json:"runs"`
	History []HistoryEntry `json:"history"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastBatch   string         `json:"lastBatch,omitempty"`
	LastReport  *BatchReport   `json:"lastReport,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for enrichment steps.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Outcome reports how one item run ended.
type Outcome struct {
	ItemID   int64  `json:"itemId"`
	RunID    int64  `json:"runId,omitempty"`
	Status   string `json:"status"`
	Result   string `json:"result"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// BatchReport aggregates a batch pass.
type BatchReport struct {
	Swept     int64     `json:"swept"`
	Selected  int       `json:"selected"`
	Completed int       `json:"completed"`
	Rejected  int       `json:"rejected"`
	Failed    int       `json:"failed"`
	Retried   int       `json:"retried"`
	Aborted   int       `json:"aborted"`
	Errors    int       `json:"errors"`
	Items     []Outcome `json:"items"`
}

// EnrichRequest is the optional body of the enrich and single-step routes.
type EnrichRequest struct {
	StartAt        string `json:"start_at"`
	ReturnStatus   string `json:"return_status"`
	SkipThumbnail  bool   `json:"skip_thumbnail"`
	ManualOverride bool   `json:"manual_override"`
}

// AddItemRequest submits a URL for enrichment.
type AddItemRequest struct {
	URL         string `json:"url" binding:"required"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// QueueListResponse wraps a collection of queue items for API responses.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemResponse wraps a single queue item.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}

// ErrorResponse is the error envelope for every failed request.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Outcome *Outcome `json:"outcome,omitempty"`
}
