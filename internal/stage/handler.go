package stage

import (
	"context"

	"gleaner/internal/queue"
	"gleaner/internal/status"
)

// Handler describes the contract the orchestrator needs from each enrichment step.
type Handler interface {
	Run(context.Context, Input) (Result, error)
	HealthCheck(context.Context) Health
}

// Input is the snapshot a step works from.
type Input struct {
	ItemID    int64
	RunID     int64
	StepRunID int64
	Item      queue.Item
	// Manual is set when a human asserted the item's relevance.
	Manual bool
}

// Result is what a step hands back for the orchestrator to persist.
type Result struct {
	// Patch is merged into the item payload.
	Patch map[string]any
	// Fields carries typed column updates such as raw-content references.
	Fields queue.FieldChanges
	// Verdict is set by the relevance filter.
	Verdict *queue.FilterVerdict
	// Record is stored on the step run.
	Record any
}

// Set is the fixed collection of step handlers.
type Set struct {
	Fetch     Handler
	Filter    Handler
	Summarize Handler
	Tag       Handler
	Thumbnail Handler
}

// For returns the handler for step, or nil when none is configured.
func (s Set) For(step status.Step) Handler {
	switch step {
	case status.StepFetch:
		return s.Fetch
	case status.StepFilter:
		return s.Filter
	case status.StepSummarize:
		return s.Summarize
	case status.StepTag:
		return s.Tag
	case status.StepThumbnail:
		return s.Thumbnail
	default:
		return nil
	}
}

// HealthCheck runs every configured handler's health check in step order.
func (s Set) HealthCheck(ctx context.Context) []Health {
	var out []Health
	for _, step := range status.Steps() {
		handler := s.For(step)
		if handler == nil {
			out = append(out, Unhealthy(string(step), "not configured"))
			continue
		}
		out = append(out, handler.HealthCheck(ctx))
	}
	return out
}
