package workflow_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gleaner/internal/notifications"
	"gleaner/internal/services"
	"gleaner/internal/stage"
	"gleaner/internal/status"
	"gleaner/internal/testsupport"
	"gleaner/internal/tracker"
	"gleaner/internal/workflow"
)

func TestBatchIsolatesPanickingItem(t *testing.T) {
	h := newHarness(t)
	first := testsupport.Enqueue(t, h.store, "https://example.com/one")
	bad := testsupport.Enqueue(t, h.store, "https://example.com/two")
	last := testsupport.Enqueue(t, h.store, "https://example.com/three")

	fetch := h.steps[status.StepFetch].run
	h.steps[status.StepFetch].set(func(ctx context.Context, in stage.Input) (stage.Result, error) {
		if in.ItemID == bad.ID {
			panic("parser exploded")
		}
		return fetch(ctx, in)
	})

	report, err := h.batch.Run(context.Background(), workflow.BatchOptions{SkipThumbnail: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Selected != 3 || report.Completed != 2 || report.Aborted != 1 || report.Errors != 1 {
		t.Fatalf("report = %+v", report)
	}
	for _, res := range report.Items {
		if res.ItemID == bad.ID && !strings.Contains(res.Error, "parser exploded") {
			t.Fatalf("panic not reported: %+v", res)
		}
	}
	for _, id := range []int64{first.ID, last.ID} {
		if got := h.item(t, id).Status; got != status.PendingReview {
			t.Fatalf("item %d status %s", id, got)
		}
	}

	// The panicking run left the item working; the next pass sweeps it back.
	if got := h.item(t, bad.ID).Status; got != status.Fetching {
		t.Fatalf("panicked item status %s", got)
	}
	h.steps[status.StepFetch].set(fetch)
	report, err = h.batch.Run(context.Background(), workflow.BatchOptions{SkipThumbnail: true})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.Swept != 1 || report.Completed != 1 {
		t.Fatalf("second report = %+v", report)
	}
}

func TestBatchRespectsLimitAndOrder(t *testing.T) {
	h := newHarness(t)
	var ids []int64
	for _, url := range []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"} {
		ids = append(ids, testsupport.Enqueue(t, h.store, url).ID)
	}

	report, err := h.batch.Run(context.Background(), workflow.BatchOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Selected != 2 || len(report.Items) != 2 {
		t.Fatalf("report = %+v", report)
	}
	if report.Items[0].ItemID != ids[0] || report.Items[1].ItemID != ids[1] {
		t.Fatalf("items processed out of order: %+v", report.Items)
	}
	if got := h.item(t, ids[2]).Status; got != status.Pending {
		t.Fatalf("item beyond limit moved to %s", got)
	}
}

func TestBatchSkipsLeasedItemsAndCountsOutcomes(t *testing.T) {
	h := newHarness(t)
	h.steps[status.StepFilter].set(func(ctx context.Context, in stage.Input) (stage.Result, error) {
		if strings.HasSuffix(in.Item.URL, "/noise") {
			return verdict(false, 1, "noise")(ctx, in)
		}
		return verdict(true, 9, "signal")(ctx, in)
	})
	testsupport.Enqueue(t, h.store, "https://example.com/signal")
	testsupport.Enqueue(t, h.store, "https://example.com/noise")
	leased := testsupport.Enqueue(t, h.store, "https://example.com/leased")
	if _, err := h.leases.Claim(context.Background(), leased.ID, "elsewhere", time.Minute); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	report, err := h.batch.Run(context.Background(), workflow.BatchOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Selected != 2 || report.Completed != 1 || report.Rejected != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestBatchLabelsRecoveryRuns(t *testing.T) {
	h := newHarness(t)
	item := testsupport.Enqueue(t, h.store, "https://example.com/recover")
	testsupport.MoveTo(t, h.store, item.ID, status.ToTag)

	if _, err := h.batch.Run(context.Background(), workflow.BatchOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	runs := h.runsFor(t, item.ID)
	if len(runs) != 1 || runs[0].Trigger != tracker.TriggerRecovery {
		t.Fatalf("runs = %+v", runs)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	loads  []notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.loads = append(r.loads, payload)
	return nil
}

func TestBatchNotifiesFailuresAndSummary(t *testing.T) {
	h := newHarness(t)
	notifier := &recordingNotifier{}
	h.batch.SetNotifier(notifier)

	testsupport.Enqueue(t, h.store, "https://example.com/good")
	bad := testsupport.Enqueue(t, h.store, "https://example.com/bad")
	fetch := h.steps[status.StepFetch].run
	h.steps[status.StepFetch].set(func(ctx context.Context, in stage.Input) (stage.Result, error) {
		if in.ItemID == bad.ID {
			return stage.Result{}, services.Wrap(services.ErrValidation, "fetch", "parse", "not html", nil)
		}
		return fetch(ctx, in)
	})

	report, err := h.batch.Run(context.Background(), workflow.BatchOptions{SkipThumbnail: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Completed != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 2 {
		t.Fatalf("expected failure and summary events, got %v", notifier.events)
	}
	if notifier.events[0] != notifications.EventItemFailed || notifier.loads[0]["itemID"] != bad.ID {
		t.Fatalf("unexpected failure event %v %v", notifier.events[0], notifier.loads[0])
	}
	if notifier.loads[0]["url"] != "https://example.com/bad" {
		t.Fatalf("expected url in payload, got %v", notifier.loads[0])
	}
	if notifier.events[1] != notifications.EventBatchCompleted || notifier.loads[1]["completed"] != 1 {
		t.Fatalf("unexpected summary %v %v", notifier.events[1], notifier.loads[1])
	}
}

func TestBatchSkipsNotificationsWhenIdle(t *testing.T) {
	h := newHarness(t)
	notifier := &recordingNotifier{}
	h.batch.SetNotifier(notifier)

	if _, err := h.batch.Run(context.Background(), workflow.BatchOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("expected no notifications, got %v", notifier.events)
	}
}
