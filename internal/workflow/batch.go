package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/notifications"
	"gleaner/internal/queue"
	"gleaner/internal/status"
	"gleaner/internal/tracker"
)

// BatchOptions configures one batch pass.
type BatchOptions struct {
	// Limit bounds how many ready items are processed; zero uses workflow.batch_limit.
	Limit         int
	Trigger       tracker.Trigger
	Actor         string
	SkipThumbnail bool
}

// ItemResult is one item's entry in a batch report.
type ItemResult struct {
	Outcome
	Error string `json:"error,omitempty"`
}

// BatchReport aggregates a batch pass.
type BatchReport struct {
	Swept     int64        `json:"swept"`
	Selected  int          `json:"selected"`
	Completed int          `json:"completed"`
	Rejected  int          `json:"rejected"`
	Failed    int          `json:"failed"`
	Retried   int          `json:"retried"`
	Aborted   int          `json:"aborted"`
	Errors    int          `json:"errors"`
	Items     []ItemResult `json:"items"`
}

func (r *BatchReport) add(res ItemResult) {
	r.Items = append(r.Items, res)
	switch res.Result {
	case ResultCompleted:
		r.Completed++
	case ResultRejected:
		r.Rejected++
	case ResultFailed:
		r.Failed++
	case ResultRetry:
		r.Retried++
	default:
		r.Aborted++
	}
	if res.Error != "" {
		r.Errors++
	}
}

// Enricher runs one item; *Orchestrator implements it.
type Enricher interface {
	EnrichItem(ctx context.Context, itemID int64, opts Options) (Outcome, error)
}

// Batch sweeps, selects ready items and enriches them one at a time.
type Batch struct {
	store    *queue.Store
	enricher Enricher
	sweeper  *Sweeper
	notifier notifications.Service
	logger   *slog.Logger
	limit    int
}

// NewBatch builds a batch runner.
func NewBatch(cfg *config.Config, store *queue.Store, enricher Enricher, sweeper *Sweeper, logger *slog.Logger) *Batch {
	limit := cfg.Workflow.BatchLimit
	if limit <= 0 {
		limit = config.Default().Workflow.BatchLimit
	}
	return &Batch{
		store:    store,
		enricher: enricher,
		sweeper:  sweeper,
		notifier: notifications.NewService(cfg),
		logger:   logging.NewComponentLogger(logger, "batch"),
		limit:    limit,
	}
}

// Run performs one pass. Only sweep and selection failures return an error;
// per-item failures, panics included, are recorded in the report and the
// pass continues with the next item.
func (b *Batch) Run(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	var report BatchReport
	logger := logging.WithContext(ctx, b.logger)
	started := time.Now()

	swept, err := b.sweeper.ResetStuckWorkingStates(ctx)
	report.Swept = swept
	if err != nil {
		return report, fmt.Errorf("sweep stuck items: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = b.limit
	}
	items, err := b.store.ListReady(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("select ready items: %w", err)
	}
	report.Selected = len(items)
	report.Items = make([]ItemResult, 0, len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		report.add(b.enrichOne(ctx, item, opts))
	}

	if report.Selected > 0 {
		logger.Info("batch finished",
			logging.Event("batch_complete"),
			logging.Int64("swept", report.Swept),
			logging.Int("selected", report.Selected),
			logging.Int("completed", report.Completed),
			logging.Int("rejected", report.Rejected),
			logging.Int("failed", report.Failed),
			logging.Int("retried", report.Retried),
			logging.Int("errors", report.Errors),
		)
		b.notify(ctx, report, time.Since(started))
	}
	return report, nil
}

func (b *Batch) enrichOne(ctx context.Context, item *queue.Item, opts BatchOptions) (res ItemResult) {
	res.Outcome = Outcome{ItemID: item.ID, Status: item.Status, Result: ResultAborted, Attempts: item.Attempts}
	defer func() {
		if r := recover(); r != nil {
			res.Result = ResultAborted
			res.Error = fmt.Sprintf("panic: %v", r)
			logging.ErrorWithContext(logging.WithContext(ctx, b.logger), "item processing panicked", "item_panic",
				logging.ItemID(item.ID),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
				logging.Alert("item_panic"),
			)
		}
	}()

	outcome, err := b.enricher.EnrichItem(ctx, item.ID, Options{
		Trigger:       batchTrigger(item, opts.Trigger),
		Actor:         opts.Actor,
		SkipThumbnail: opts.SkipThumbnail,
	})
	res.Outcome = outcome
	if err != nil {
		res.Error = err.Error()
		if !errors.Is(err, queue.ErrLeaseHeld) {
			logging.WarnWithContext(logging.WithContext(ctx, b.logger), "item run ended with error", "item_error",
				logging.ItemID(item.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "batch continues with the next item"),
			)
		}
	}
	return res
}

// SetNotifier replaces the notification service built from config.
func (b *Batch) SetNotifier(n notifications.Service) {
	if n != nil {
		b.notifier = n
	}
}

// notify publishes escalations for items that need a human plus a batch
// summary. Delivery problems are logged and never fail the batch.
func (b *Batch) notify(ctx context.Context, report BatchReport, elapsed time.Duration) {
	for _, res := range report.Items {
		var event notifications.Event
		switch {
		case res.Result == ResultFailed:
			event = notifications.EventItemFailed
		case res.Result == ResultRejected && res.Status == status.Rejected:
			event = notifications.EventItemRejected
		default:
			continue
		}
		payload := notifications.Payload{
			"itemID":   res.ItemID,
			"attempts": res.Attempts,
			"reason":   res.Reason,
		}
		if item, err := b.store.GetByID(ctx, res.ItemID); err == nil {
			payload["title"] = item.Payload.Title
			payload["url"] = item.URL
		}
		b.publish(ctx, event, payload)
	}
	b.publish(ctx, notifications.EventBatchCompleted, notifications.Payload{
		"completed": report.Completed,
		"rejected":  report.Rejected,
		"failed":    report.Failed,
		"retried":   report.Retried,
		"duration":  elapsed,
	})
}

func (b *Batch) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, b.logger), "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the item state is unaffected"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

// batchTrigger labels a run: fresh items are discoveries, anything resuming
// mid-pipeline is a recovery.
func batchTrigger(item *queue.Item, requested tracker.Trigger) tracker.Trigger {
	if requested != "" {
		return requested
	}
	if item.Status == status.Pending && item.Attempts == 0 {
		return tracker.TriggerDiscovery
	}
	return tracker.TriggerRecovery
}
