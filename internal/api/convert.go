package api

import (
	"cmp"
	"encoding/json"
	"slices"
	"time"

	"gleaner/internal/queue"
	"gleaner/internal/stage"
	"gleaner/internal/status"
	"gleaner/internal/tracker"
	"gleaner/internal/workflow"
)

// FromQueueItem converts a queue record to its API representation.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}

	dto := QueueItem{
		ID:               item.ID,
		URL:              item.URL,
		NormalizedURL:    item.NormalizedURL,
		Title:            item.Payload.Title,
		Status:           string(item.Status),
		Phase:            item.Status.Phase().String(),
		EntryType:        string(item.EntryType),
		Attempts:         item.Attempts,
		RejectionReason:  item.RejectionReason,
		PermanentFailure: item.PermanentFailure,
		ContentHash:      item.ContentHash,
		FetchStatus:      string(item.FetchStatus),
		RawDeleted:       item.RawDeleted,
		DiscoveredAt:     FormatTime(item.DiscoveredAt),
		UpdatedAt:        FormatTime(item.UpdatedAt),
		UpdatedBy:        item.UpdatedBy,
	}
	if item.FetchedAt != nil {
		dto.FetchedAt = FormatTime(*item.FetchedAt)
	}
	if item.FailedAt != nil {
		dto.FailedAt = FormatTime(*item.FailedAt)
	}
	if len(item.RawPayload) > 0 {
		dto.Payload = item.RawPayload
	} else if raw, err := json.Marshal(item.Payload); err == nil {
		dto.Payload = raw
	}
	return dto
}

// FromQueueItems converts a slice of queue records into API DTOs.
func FromQueueItems(items []*queue.Item) []QueueItem {
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	return out
}

// FromRun converts a pipeline run and its step runs.
func FromRun(run tracker.Run, steps []tracker.StepRun) Run {
	dto := Run{
		ID:        run.ID,
		Trigger:   string(run.Trigger),
		Status:    string(run.Status),
		Actor:     run.Actor,
		Error:     run.Error,
		StartedAt: FormatTime(run.StartedAt),
		Steps:     make([]StepRun, 0, len(steps)),
	}
	if run.FinishedAt != nil {
		dto.FinishedAt = FormatTime(*run.FinishedAt)
	}
	for _, step := range steps {
		dto.Steps = append(dto.Steps, FromStepRun(step))
	}
	return dto
}

// FromStepRun converts one step run.
func FromStepRun(step tracker.StepRun) StepRun {
	dto := StepRun{
		ID:            step.ID,
		Step:          string(step.Step),
		Status:        string(step.Status),
		Error:         step.Error,
		InputSnapshot: step.InputSnapshot,
		Result:        step.Result,
		StartedAt:     FormatTime(step.StartedAt),
	}
	if step.FinishedAt != nil {
		dto.FinishedAt = FormatTime(*step.FinishedAt)
	}
	return dto
}

// FromHistory converts audited status changes.
func FromHistory(entries []queue.HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, HistoryEntry{
			From:      string(entry.From),
			To:        string(entry.To),
			Actor:     entry.Actor,
			Manual:    entry.Manual,
			CreatedAt: FormatTime(entry.CreatedAt),
		})
	}
	return out
}

// FromOutcome converts an orchestrator outcome, attaching err when present.
func FromOutcome(outcome workflow.Outcome, err error) Outcome {
	dto := Outcome{
		ItemID:   outcome.ItemID,
		RunID:    outcome.RunID,
		Status:   string(outcome.Status),
		Result:   string(outcome.Result),
		Reason:   outcome.Reason,
		Attempts: outcome.Attempts,
	}
	if err != nil {
		dto.Error = err.Error()
	}
	return dto
}

// FromBatchReport converts a batch report.
func FromBatchReport(report workflow.BatchReport) BatchReport {
	dto := BatchReport{
		Swept:     report.Swept,
		Selected:  report.Selected,
		Completed: report.Completed,
		Rejected:  report.Rejected,
		Failed:    report.Failed,
		Retried:   report.Retried,
		Aborted:   report.Aborted,
		Errors:    report.Errors,
		Items:     make([]Outcome, 0, len(report.Items)),
	}
	for _, item := range report.Items {
		out := FromOutcome(item.Outcome, nil)
		out.Error = item.Error
		dto.Items = append(dto.Items, out)
	}
	return dto
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastBatch != nil {
		wf.LastBatch = FormatTime(*summary.LastBatch)
	}
	if summary.LastReport != nil {
		report := FromBatchReport(*summary.LastReport)
		wf.LastReport = &report
	}
	return wf
}

// MergeQueueStats produces a string-keyed representation of queue stats.
// Statuses with no items are reported as zero.
func MergeQueueStats(stats map[status.Status]int) map[string]int {
	out := make(map[string]int, len(status.All()))
	for _, s := range status.All() {
		out[string(s)] = 0
	}
	for s, count := range stats {
		out[string(s)] = count
	}
	return out
}

// StageHealthSlice converts stage health records into a name-ordered slice.
func StageHealthSlice(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	slices.SortFunc(out, func(a, b StageHealth) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
