package workflow_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/rawstore"
	"gleaner/internal/services"
	"gleaner/internal/stage"
	"gleaner/internal/status"
	"gleaner/internal/steps/fetch"
	"gleaner/internal/testsupport"
	"gleaner/internal/tracker"
	"gleaner/internal/workflow"
)

func TestFreshItemRunsFullPipeline(t *testing.T) {
	h := newHarness(t)
	item := testsupport.Enqueue(t, h.store, "https://example.com/raft")

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	if out.Result != workflow.ResultCompleted || out.Status != status.PendingReview {
		t.Fatalf("outcome = %+v", out)
	}

	for _, step := range status.Steps() {
		if got := h.steps[step].callCount(); got != 1 {
			t.Fatalf("%s called %d times", step, got)
		}
	}

	runs := h.runsFor(t, item.ID)
	if len(runs) != 1 || runs[0].Status != tracker.StatusCompleted || runs[0].Trigger != tracker.TriggerDiscovery {
		t.Fatalf("runs = %+v", runs)
	}
	stepRuns := h.stepRunsFor(t, item.ID)
	if len(stepRuns) != 3 {
		t.Fatalf("expected 3 step runs, got %d", len(stepRuns))
	}
	for i, want := range []status.Step{status.StepSummarize, status.StepTag, status.StepThumbnail} {
		if stepRuns[i].Step != want || stepRuns[i].Status != tracker.StatusCompleted {
			t.Fatalf("step run %d = %+v", i, stepRuns[i])
		}
	}

	stored := h.item(t, item.ID)
	if stored.Payload.Title != "Understanding Raft" || stored.Payload.Summary != "Raft in brief." {
		t.Fatalf("payload not merged: %+v", stored.Payload)
	}
	if len(stored.Payload.Tags) != 1 || stored.Payload.Tags[0].Name != "consensus" {
		t.Fatalf("tags = %+v", stored.Payload.Tags)
	}
	if stored.Payload.Filter == nil || !stored.Payload.Filter.Accepted {
		t.Fatalf("verdict not recorded: %+v", stored.Payload.Filter)
	}

	want := []status.Status{
		status.Pending,
		status.Fetching, status.ToFilter,
		status.Filtering, status.ToSummarize,
		status.Summarizing, status.ToTag,
		status.Tagging, status.ToThumbnail,
		status.Thumbnailing, status.PendingReview,
	}
	got := h.visited(t, item.ID)
	if strings.Join(statusNames(got), ",") != strings.Join(statusNames(want), ",") {
		t.Fatalf("history = %v", got)
	}
}

func TestFilterRejectionMarksDiscoveredItemIrrelevant(t *testing.T) {
	h := newHarness(t)
	h.steps[status.StepFilter].set(verdict(false, 2, "off topic"))
	item := testsupport.Enqueue(t, h.store, "https://example.com/cooking")

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	if out.Result != workflow.ResultRejected || out.Status != status.Irrelevant || out.Reason != "off topic" {
		t.Fatalf("outcome = %+v", out)
	}

	stored := h.item(t, item.ID)
	if stored.RejectionReason != "off topic" {
		t.Fatalf("rejection reason = %q", stored.RejectionReason)
	}
	if stored.Payload.Filter == nil || stored.Payload.Filter.Score != 2 {
		t.Fatalf("verdict = %+v", stored.Payload.Filter)
	}
	for _, step := range []status.Step{status.StepSummarize, status.StepTag, status.StepThumbnail} {
		if h.steps[step].callCount() != 0 {
			t.Fatalf("%s ran after rejection", step)
		}
	}
	if n := len(h.stepRunsFor(t, item.ID)); n != 0 {
		t.Fatalf("expected no step runs, got %d", n)
	}
	runs := h.runsFor(t, item.ID)
	if len(runs) != 1 || runs[0].Status != tracker.StatusCompleted {
		t.Fatalf("rejection should complete the run: %+v", runs)
	}
}

func TestManualItemContinuesPastNegativeVerdict(t *testing.T) {
	h := newHarness(t)
	h.steps[status.StepFilter].set(verdict(false, 3, "looks like marketing"))
	item := testsupport.EnqueueItem(t, h.store, queue.NewItem{
		URL:       "https://example.com/manual",
		EntryType: queue.EntryManual,
	})

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{SkipThumbnail: true})
	if err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	if out.Result != workflow.ResultCompleted || out.Status != status.PendingReview {
		t.Fatalf("outcome = %+v", out)
	}
	if !contains(h.visited(t, item.ID), status.ToSummarize) {
		t.Fatal("manual item did not proceed to to_summarize")
	}
	if !h.steps[status.StepFilter].lastCall().Manual {
		t.Fatal("filter was not told the item is manual")
	}
	stored := h.item(t, item.ID)
	v := stored.Payload.Filter
	if v == nil || v.Accepted || !v.Overridden || v.Reason != "looks like marketing" {
		t.Fatalf("verdict = %+v", v)
	}
	if stored.RejectionReason != "" {
		t.Fatalf("rejection reason set on accepted item: %q", stored.RejectionReason)
	}
}

func TestManualOverrideAppliesToDiscoveredItem(t *testing.T) {
	h := newHarness(t)
	h.steps[status.StepFilter].set(verdict(false, 1, "stale"))
	item := testsupport.Enqueue(t, h.store, "https://example.com/override")

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{
		Resume:        workflow.ResumeContext{ManualOverride: true},
		SkipThumbnail: true,
	})
	if err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	if out.Status != status.PendingReview {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestFatalThumbnailErrorRejectsAndPropagates(t *testing.T) {
	h := newHarness(t)
	schemeErr := services.Wrap(services.ErrFatal, "thumbnail", "check scheme", "ftp", errors.New("invalid URL scheme"))
	h.steps[status.StepThumbnail].set(failWith(schemeErr))
	item := testsupport.Enqueue(t, h.store, "https://example.com/fatal")

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if out.Result != workflow.ResultRejected || out.Status != status.Rejected {
		t.Fatalf("outcome = %+v", out)
	}
	stored := h.item(t, item.ID)
	if !strings.Contains(stored.RejectionReason, "invalid URL scheme") {
		t.Fatalf("rejection reason = %q", stored.RejectionReason)
	}

	stepRuns := h.stepRunsFor(t, item.ID)
	last := stepRuns[len(stepRuns)-1]
	if last.Step != status.StepThumbnail || last.Status != tracker.StatusFailed {
		t.Fatalf("thumbnail step run = %+v", last)
	}
	runs := h.runsFor(t, item.ID)
	if runs[0].Status != tracker.StatusFailed {
		t.Fatalf("run status = %s", runs[0].Status)
	}
}

func TestTransientThumbnailFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.steps[status.StepThumbnail].set(failWith(services.Wrap(services.ErrTimeout, "thumbnail", "render", "slow", context.DeadlineExceeded)))
	item := testsupport.Enqueue(t, h.store, "https://example.com/slow-render")

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	if out.Result != workflow.ResultCompleted || out.Status != status.PendingReview {
		t.Fatalf("outcome = %+v", out)
	}
	stepRuns := h.stepRunsFor(t, item.ID)
	if last := stepRuns[len(stepRuns)-1]; last.Status != tracker.StatusFailed {
		t.Fatalf("thumbnail step run = %+v", last)
	}
	if runs := h.runsFor(t, item.ID); runs[0].Status != tracker.StatusCompleted {
		t.Fatalf("run status = %s", runs[0].Status)
	}
	if h.item(t, item.ID).Payload.Thumbnail != nil {
		t.Fatal("thumbnail recorded despite failure")
	}
}

func TestTransientFailuresRetryThenFail(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(3))
	h.steps[status.StepSummarize].set(failWith(services.Wrap(services.ErrExternalTool, "summarize", "generate", "ollama unavailable", nil)))
	item := testsupport.Enqueue(t, h.store, "https://example.com/flaky")
	testsupport.MoveTo(t, h.store, item.ID, status.ToSummarize)

	for k := 1; k < 3; k++ {
		out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
		if err != nil {
			t.Fatalf("attempt %d: %v", k, err)
		}
		if out.Result != workflow.ResultRetry {
			t.Fatalf("attempt %d: outcome = %+v", k, out)
		}
		stored := h.item(t, item.ID)
		if stored.Attempts != k || stored.Status != status.ToSummarize {
			t.Fatalf("attempt %d: attempts=%d status=%s", k, stored.Attempts, stored.Status)
		}
		if stored.FailedAt != nil || stored.PermanentFailure {
			t.Fatalf("attempt %d: item marked failed early", k)
		}
	}

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if out.Result != workflow.ResultFailed || out.Status != status.Failed {
		t.Fatalf("outcome = %+v", out)
	}
	stored := h.item(t, item.ID)
	if !strings.Contains(stored.RejectionReason, "summarize failed after 3 attempts") {
		t.Fatalf("rejection reason = %q", stored.RejectionReason)
	}
	if stored.FailedAt == nil || !stored.PermanentFailure || stored.Attempts != 3 {
		t.Fatalf("failure not recorded: %+v", stored)
	}
	for _, run := range h.runsFor(t, item.ID) {
		if run.Status != tracker.StatusFailed {
			t.Fatalf("run %d status = %s", run.ID, run.Status)
		}
	}
	if h.steps[status.StepFetch].callCount() != 0 {
		t.Fatal("retry re-ran fetch")
	}
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	h := newHarness(t)
	h.steps[status.StepTag].set(failWith(services.Wrap(services.ErrValidation, "tag", "validate output", "model returned no usable tags", nil)))
	item := testsupport.Enqueue(t, h.store, "https://example.com/untaggable")

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	if out.Result != workflow.ResultFailed || out.Status != status.Failed || out.Attempts != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if !strings.HasPrefix(h.item(t, item.ID).RejectionReason, "tag failed:") {
		t.Fatalf("rejection reason = %q", h.item(t, item.ID).RejectionReason)
	}
}

func TestMissingDocumentSpendsAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h := newHarness(t)
	raw, err := rawstore.New(h.cfg.Paths.RawDir)
	if err != nil {
		t.Fatalf("rawstore.New: %v", err)
	}
	fetcher := fetch.New(h.cfg, raw, logging.NewNop())
	h.steps[status.StepFetch].set(fetcher.Run)
	item := testsupport.Enqueue(t, h.store, srv.URL+"/gone")

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	if out.Result != workflow.ResultRetry || out.Status != status.Pending || out.Attempts != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if got := h.item(t, item.ID); got.PermanentFailure || got.Status != status.Pending {
		t.Fatalf("item = %+v", got)
	}
}

func TestUnavailableModelSpendsAttempt(t *testing.T) {
	h := newHarness(t)
	h.steps[status.StepSummarize].set(failWith(services.Wrap(services.ErrConfiguration, "llm", "generate", "model not available", nil)))
	item := testsupport.Enqueue(t, h.store, "https://example.com/no-model")

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	if out.Result != workflow.ResultRetry || out.Status != status.ToSummarize || out.Attempts != 1 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestSuccessResetsAttempts(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.steps[status.StepTag].set(func(context.Context, stage.Input) (stage.Result, error) {
		calls++
		if calls == 1 {
			return stage.Result{}, errors.New("connection reset")
		}
		return stage.Result{Patch: map[string]any{"tags": []queue.Tag{{Name: "go", Confidence: 1}}}}, nil
	})
	item := testsupport.Enqueue(t, h.store, "https://example.com/recovers")
	testsupport.MoveTo(t, h.store, item.ID, status.ToTag)

	if out, _ := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{}); out.Result != workflow.ResultRetry {
		t.Fatalf("first run = %+v", out)
	}
	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if err != nil || out.Result != workflow.ResultCompleted {
		t.Fatalf("second run = %+v, %v", out, err)
	}
	if stored := h.item(t, item.ID); stored.Attempts != 0 {
		t.Fatalf("attempts = %d", stored.Attempts)
	}
}

func TestResumePointSkipsEarlierSteps(t *testing.T) {
	cases := []struct {
		start   status.Status
		skipped []status.Step
		ran     []status.Step
	}{
		{
			start:   status.ToTag,
			skipped: []status.Step{status.StepFetch, status.StepFilter, status.StepSummarize},
			ran:     []status.Step{status.StepTag, status.StepThumbnail},
		},
		{
			start:   status.ToThumbnail,
			skipped: []status.Step{status.StepFetch, status.StepFilter, status.StepSummarize, status.StepTag},
			ran:     []status.Step{status.StepThumbnail},
		},
	}
	for _, tc := range cases {
		t.Run(string(tc.start), func(t *testing.T) {
			h := newHarness(t)
			item := testsupport.Enqueue(t, h.store, "https://example.com/resume")
			testsupport.MoveTo(t, h.store, item.ID, tc.start)

			out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
			if err != nil || out.Status != status.PendingReview {
				t.Fatalf("EnrichItem = %+v, %v", out, err)
			}

			visited := h.visited(t, item.ID)
			stepRuns := h.stepRunsFor(t, item.ID)
			for _, step := range tc.skipped {
				if h.steps[step].callCount() != 0 {
					t.Fatalf("%s was invoked", step)
				}
				if contains(visited, status.WorkingFor(step)) {
					t.Fatalf("item entered %s", status.WorkingFor(step))
				}
				for _, sr := range stepRuns {
					if sr.Step == step {
						t.Fatalf("step run created for %s", step)
					}
				}
			}
			for _, step := range tc.ran {
				if h.steps[step].callCount() != 1 {
					t.Fatalf("%s called %d times", step, h.steps[step].callCount())
				}
			}
			if len(stepRuns) != len(tc.ran) {
				t.Fatalf("step runs = %+v", stepRuns)
			}
		})
	}
}

func TestCrashedWorkingItemResumesSameStep(t *testing.T) {
	h := newHarness(t)
	item := testsupport.Enqueue(t, h.store, "https://example.com/crashed")
	testsupport.MoveTo(t, h.store, item.ID, status.Tagging)

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if err != nil || out.Status != status.PendingReview {
		t.Fatalf("EnrichItem = %+v, %v", out, err)
	}
	if h.steps[status.StepSummarize].callCount() != 0 || h.steps[status.StepTag].callCount() != 1 {
		t.Fatal("crash recovery did not resume at tag")
	}
}

func TestSingleStepReturnsToReview(t *testing.T) {
	h := newHarness(t)
	item := testsupport.Enqueue(t, h.store, "https://example.com/retag")
	testsupport.MoveTo(t, h.store, item.ID, status.PendingReview)

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{
		Actor:  queue.ActorAPI,
		Resume: workflow.ResumeContext{StartAt: status.StepTag, SingleStep: true},
	})
	if err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	if out.Status != status.PendingReview || out.Result != workflow.ResultCompleted {
		t.Fatalf("outcome = %+v", out)
	}
	for _, step := range status.Steps() {
		want := 0
		if step == status.StepTag {
			want = 1
		}
		if got := h.steps[step].callCount(); got != want {
			t.Fatalf("%s called %d times, want %d", step, got, want)
		}
	}
	runs := h.runsFor(t, item.ID)
	if runs[0].Trigger != tracker.TriggerSingleStep || runs[0].Actor != queue.ActorAPI {
		t.Fatalf("run = %+v", runs[0])
	}

	history, err := h.store.History(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var manualMove bool
	for _, entry := range history {
		if entry.From == status.PendingReview && entry.To == status.ToTag {
			manualMove = entry.Manual
		}
	}
	if !manualMove {
		t.Fatal("move to the start step was not audited as manual")
	}
}

func TestReturnStatusOverridesReview(t *testing.T) {
	h := newHarness(t)
	item := testsupport.Enqueue(t, h.store, "https://example.com/route")
	testsupport.MoveTo(t, h.store, item.ID, status.ToSummarize)

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{
		Resume: workflow.ResumeContext{
			StartAt:      status.StepSummarize,
			SingleStep:   true,
			ReturnStatus: status.ToThumbnail,
		},
	})
	if err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	if out.Status != status.ToThumbnail {
		t.Fatalf("status = %s", out.Status)
	}
	if h.steps[status.StepTag].callCount() != 0 {
		t.Fatal("single step ran past summarize")
	}
}

func TestInvalidReturnStatusRejected(t *testing.T) {
	h := newHarness(t)
	item := testsupport.Enqueue(t, h.store, "https://example.com/bad-route")
	_, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{
		Resume: workflow.ResumeContext{ReturnStatus: status.Tagging},
	})
	if !errors.Is(err, workflow.ErrInvalidReturnStatus) {
		t.Fatalf("expected invalid return status, got %v", err)
	}
}

func TestSkipThumbnail(t *testing.T) {
	h := newHarness(t)
	item := testsupport.Enqueue(t, h.store, "https://example.com/no-thumb")

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{SkipThumbnail: true})
	if err != nil || out.Status != status.PendingReview {
		t.Fatalf("EnrichItem = %+v, %v", out, err)
	}
	if h.steps[status.StepThumbnail].callCount() != 0 {
		t.Fatal("thumbnail ran")
	}
	if n := len(h.stepRunsFor(t, item.ID)); n != 2 {
		t.Fatalf("expected 2 step runs, got %d", n)
	}

	parked := testsupport.Enqueue(t, h.store, "https://example.com/parked")
	testsupport.MoveTo(t, h.store, parked.ID, status.ToThumbnail)
	out, err = h.orch.EnrichItem(context.Background(), parked.ID, workflow.Options{SkipThumbnail: true})
	if err != nil || out.Status != status.PendingReview {
		t.Fatalf("parked item = %+v, %v", out, err)
	}
}

func TestTerminalItemWithoutStartStepIsNotResumable(t *testing.T) {
	h := newHarness(t)
	item := testsupport.Enqueue(t, h.store, "https://example.com/done")
	testsupport.MoveTo(t, h.store, item.ID, status.Irrelevant)

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if !errors.Is(err, workflow.ErrNotResumable) || out.Result != workflow.ResultAborted {
		t.Fatalf("EnrichItem = %+v, %v", out, err)
	}
	if runs := h.runsFor(t, item.ID); len(runs) != 0 {
		t.Fatalf("run opened for a non-resumable item: %+v", runs)
	}
}

func TestReenrichFailedItemClearsFailure(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(1))
	h.steps[status.StepTag].set(failWith(errors.New("boom")))
	item := testsupport.Enqueue(t, h.store, "https://example.com/again")
	testsupport.MoveTo(t, h.store, item.ID, status.ToTag)
	if out, _ := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{}); out.Status != status.Failed {
		t.Fatalf("expected failure, got %+v", out)
	}

	h.steps[status.StepTag].set(nil)
	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{
		Resume: workflow.ResumeContext{StartAt: status.StepTag},
	})
	if err != nil || out.Status != status.PendingReview {
		t.Fatalf("EnrichItem = %+v, %v", out, err)
	}
	stored := h.item(t, item.ID)
	if stored.PermanentFailure || stored.FailedAt != nil || stored.RejectionReason != "" {
		t.Fatalf("failure fields not cleared: %+v", stored)
	}
}

func TestLeasedItemIsSkipped(t *testing.T) {
	h := newHarness(t)
	item := testsupport.Enqueue(t, h.store, "https://example.com/busy")
	if _, err := h.leases.Claim(context.Background(), item.ID, "other-worker", time.Minute); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	out, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{})
	if !errors.Is(err, queue.ErrLeaseHeld) || out.Result != workflow.ResultAborted {
		t.Fatalf("EnrichItem = %+v, %v", out, err)
	}
	if h.steps[status.StepFetch].callCount() != 0 {
		t.Fatal("leased item was processed")
	}
	if stored := h.item(t, item.ID); stored.Status != status.Pending {
		t.Fatalf("status = %s", stored.Status)
	}
}

func TestLeaseReleasedAfterRun(t *testing.T) {
	h := newHarness(t)
	item := testsupport.Enqueue(t, h.store, "https://example.com/release")
	if _, err := h.orch.EnrichItem(context.Background(), item.ID, workflow.Options{}); err != nil {
		t.Fatalf("EnrichItem: %v", err)
	}
	held, err := h.leases.Held(context.Background(), item.ID)
	if err != nil || held {
		t.Fatalf("Held = %v, %v", held, err)
	}
}

func TestCancelledRunParksItemWithoutSpendingAttempt(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.steps[status.StepSummarize].set(func(ctx context.Context, _ stage.Input) (stage.Result, error) {
		close(started)
		<-ctx.Done()
		return stage.Result{}, ctx.Err()
	})
	item := testsupport.Enqueue(t, h.store, "https://example.com/shutdown")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	out, err := h.orch.EnrichItem(ctx, item.ID, workflow.Options{})
	if !errors.Is(err, context.Canceled) || out.Result != workflow.ResultAborted {
		t.Fatalf("EnrichItem = %+v, %v", out, err)
	}
	stored := h.item(t, item.ID)
	if stored.Status != status.ToSummarize || stored.Attempts != 0 {
		t.Fatalf("status=%s attempts=%d", stored.Status, stored.Attempts)
	}
	if runs := h.runsFor(t, item.ID); runs[0].Status != tracker.StatusFailed {
		t.Fatalf("run status = %s", runs[0].Status)
	}
}

func statusNames(values []status.Status) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
