package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gleaner/internal/queue"
	"gleaner/internal/status"
	"gleaner/internal/testsupport"
)

func TestOpenAppliesMigrationsAndLoadsRegistry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if !store.Registry().Loaded() {
		t.Fatal("expected registry to be loaded")
	}
	if got := store.Registry().CodeOf(status.ToTag); got != 145 {
		t.Fatalf("expected to_tag code 145, got %d", got)
	}
	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version < 3 {
		t.Fatalf("expected schema version >= 3, got %d", version)
	}

	item := testsupport.Enqueue(t, store, "https://example.com/a")
	if item.ID == 0 {
		t.Fatal("expected item ID to be assigned")
	}
	if item.Status != status.Pending || item.EntryType != queue.EntryDiscovered {
		t.Fatalf("unexpected new item: %+v", item)
	}
}

func TestOpenFailsWithEmptyStatusTable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if _, err := store.DB().Exec(`DELETE FROM status_codes`); err != nil {
		t.Fatalf("clear status codes: %v", err)
	}
	store.Close()

	_, err := queue.OpenPath(context.Background(), cfg.DatabasePath())
	if !errors.Is(err, status.ErrRegistryEmpty) {
		t.Fatalf("expected ErrRegistryEmpty, got %v", err)
	}
}

func TestEnqueueRejectsDuplicatesAndPublished(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.Enqueue(t, store, "https://example.com/dup")
	_, err := store.Enqueue(ctx, queue.NewItem{URL: "https://example.com/dup/", NormalizedURL: "https://example.com/dup"})
	if !errors.Is(err, queue.ErrDuplicateURL) {
		t.Fatalf("expected ErrDuplicateURL, got %v", err)
	}

	if err := store.MarkPublished(ctx, "https://example.com/old", 0); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	_, err = store.Enqueue(ctx, queue.NewItem{URL: "https://example.com/old", NormalizedURL: "https://example.com/old"})
	if !errors.Is(err, queue.ErrAlreadyPublished) {
		t.Fatalf("expected ErrAlreadyPublished, got %v", err)
	}
}

func TestGetByIDMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if _, err := store.GetByID(context.Background(), 42); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionMergesPayloadAndRecordsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.EnqueueItem(t, store, queue.NewItem{
		URL:     "https://example.com/merge",
		Payload: queue.Payload{Title: "Original", Source: "feed"},
	})
	if _, err := store.Transition(ctx, item.ID, status.Fetching, queue.ActorOrchestrator, queue.TransitionOptions{}); err != nil {
		t.Fatalf("to fetching: %v", err)
	}
	fetchedAt := time.Now().UTC().Truncate(time.Microsecond)
	updated, err := store.Transition(ctx, item.ID, status.ToFilter, queue.ActorOrchestrator, queue.TransitionOptions{
		Fields: queue.FieldChanges{
			Payload:     map[string]any{"title": "Fetched", "text": "body"},
			ContentHash: queue.Ptr("abc123"),
			StoragePath: queue.Ptr("ab/abc123"),
			FetchStatus: queue.Ptr(queue.FetchOK),
			FetchedAt:   &fetchedAt,
		},
	})
	if err != nil {
		t.Fatalf("to to_filter: %v", err)
	}
	if updated.Status != status.ToFilter {
		t.Fatalf("expected to_filter, got %s", updated.Status)
	}
	if updated.Payload.Title != "Fetched" || updated.Payload.Text != "body" || updated.Payload.Source != "feed" {
		t.Fatalf("payload not merged: %+v", updated.Payload)
	}
	if updated.ContentHash != "abc123" || updated.FetchStatus != queue.FetchOK {
		t.Fatalf("typed columns not applied: %+v", updated)
	}
	if updated.FetchedAt == nil || !updated.FetchedAt.Equal(fetchedAt) {
		t.Fatalf("expected fetched_at %v, got %v", fetchedAt, updated.FetchedAt)
	}
	if updated.UpdatedBy != queue.ActorOrchestrator {
		t.Fatalf("expected updated_by orchestrator, got %q", updated.UpdatedBy)
	}

	history, err := store.History(ctx, item.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(history))
	}
	last := history[2]
	if last.From != status.Fetching || last.To != status.ToFilter || last.Actor != queue.ActorOrchestrator || last.Manual {
		t.Fatalf("unexpected history entry: %+v", last)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.Enqueue(t, store, "https://example.com/illegal")
	_, err := store.Transition(ctx, item.ID, status.Tagging, queue.ActorOrchestrator, queue.TransitionOptions{
		Fields: queue.FieldChanges{Attempts: queue.Ptr(2)},
	})
	if !errors.Is(err, queue.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	reloaded, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != status.Pending || reloaded.Attempts != 0 {
		t.Fatalf("rejected transition must not apply fields: %+v", reloaded)
	}
}

func TestTransitionRollsBackOnBadPayload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.Enqueue(t, store, "https://example.com/bad")
	_, err := store.Transition(ctx, item.ID, status.ToFilter, queue.ActorOrchestrator, queue.TransitionOptions{
		Fields: queue.FieldChanges{Payload: []string{"not", "an", "object"}},
	})
	if err == nil {
		t.Fatal("expected payload error")
	}
	reloaded, _ := store.GetByID(ctx, item.ID)
	if reloaded.Status != status.Pending {
		t.Fatalf("status must be unchanged, got %s", reloaded.Status)
	}
}

func TestTransitionExpectStatusConflict(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.Enqueue(t, store, "https://example.com/cas")
	_, err := store.Transition(ctx, item.ID, status.Fetching, queue.ActorSweeper, queue.TransitionOptions{ExpectStatus: status.ToTag})
	if !errors.Is(err, queue.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

func TestListReadyOrdersOldestFirstAndSkipsLeased(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.Enqueue(t, store, "https://example.com/1")
	second := testsupport.Enqueue(t, store, "https://example.com/2")
	third := testsupport.Enqueue(t, store, "https://example.com/3")
	testsupport.MoveTo(t, store, second.ID, status.ToTag)
	testsupport.MoveTo(t, store, third.ID, status.PendingReview)

	ready, err := store.ListReady(ctx, 10)
	if err != nil {
		t.Fatalf("ListReady: %v", err)
	}
	if len(ready) != 2 || ready[0].ID != first.ID || ready[1].ID != second.ID {
		t.Fatalf("unexpected ready set: %+v", ready)
	}

	if _, err := store.ClaimLease(ctx, first.ID, "worker-a", time.Minute); err != nil {
		t.Fatalf("ClaimLease: %v", err)
	}
	ready, err = store.ListReady(ctx, 10)
	if err != nil {
		t.Fatalf("ListReady: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != second.ID {
		t.Fatalf("leased item should be skipped: %+v", ready)
	}

	limited, err := store.ListReady(ctx, 1)
	if err != nil {
		t.Fatalf("ListReady: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestListFilters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, queue.NewItem{URL: "https://example.com/go", Payload: queue.Payload{Title: "Go generics"}})
	manual := testsupport.EnqueueItem(t, store, queue.NewItem{URL: "https://example.com/rust", EntryType: queue.EntryManual})
	testsupport.MoveTo(t, store, manual.ID, status.Failed)

	failed, err := store.List(ctx, queue.ListFilter{Statuses: []status.Status{status.Failed}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != manual.ID || !failed[0].IsManual() {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	search, err := store.List(ctx, queue.ListFilter{Search: "generics"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(search) != 1 || search[0].Payload.Title != "Go generics" {
		t.Fatalf("unexpected search result: %+v", search)
	}
}

func TestResetStuckWorkingHonorsLeases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	cases := []struct {
		url      string
		working  status.Status
		expected status.Status
	}{
		{"https://example.com/f", status.Fetching, status.Pending},
		{"https://example.com/s", status.Summarizing, status.ToSummarize},
		{"https://example.com/t", status.Tagging, status.ToTag},
		{"https://example.com/th", status.Thumbnailing, status.ToThumbnail},
	}
	ids := make([]int64, len(cases))
	for i, tc := range cases {
		item := testsupport.Enqueue(t, store, tc.url)
		testsupport.MoveTo(t, store, item.ID, tc.working)
		ids[i] = item.ID
	}
	leased := testsupport.Enqueue(t, store, "https://example.com/leased")
	testsupport.MoveTo(t, store, leased.ID, status.Filtering)
	if _, err := store.ClaimLease(ctx, leased.ID, "worker", time.Minute); err != nil {
		t.Fatalf("ClaimLease: %v", err)
	}

	resets, err := store.ResetStuckWorking(ctx, time.Now())
	if err != nil {
		t.Fatalf("ResetStuckWorking: %v", err)
	}
	if len(resets) != len(cases) {
		t.Fatalf("expected %d resets, got %d", len(cases), len(resets))
	}
	for i, tc := range cases {
		item, err := store.GetByID(ctx, ids[i])
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if item.Status != tc.expected {
			t.Fatalf("%s: expected %s, got %s", tc.working, tc.expected, item.Status)
		}
	}
	live, _ := store.GetByID(ctx, leased.ID)
	if live.Status != status.Filtering {
		t.Fatalf("leased item must stay working, got %s", live.Status)
	}

	again, err := store.ResetStuckWorking(ctx, time.Now())
	if err != nil {
		t.Fatalf("second ResetStuckWorking: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected idempotent sweep, got %d resets", len(again))
	}

	history, _ := store.History(ctx, ids[0])
	if history[len(history)-1].Actor != queue.ActorSweeper {
		t.Fatalf("expected sweeper actor, got %+v", history[len(history)-1])
	}
}

func TestLeaseLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.Enqueue(t, store, "https://example.com/lease")
	lease, err := store.ClaimLease(ctx, item.ID, "a", time.Minute)
	if err != nil {
		t.Fatalf("ClaimLease: %v", err)
	}
	if _, err := store.ClaimLease(ctx, item.ID, "b", time.Minute); !errors.Is(err, queue.ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	renewed, err := store.RenewLease(ctx, lease, 2*time.Minute)
	if err != nil {
		t.Fatalf("RenewLease: %v", err)
	}
	if !renewed.ExpiresAt.After(lease.ExpiresAt) {
		t.Fatal("expected renewal to extend expiry")
	}
	if err := store.ReleaseLease(ctx, renewed); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	held, err := store.LeaseHeld(ctx, item.ID, time.Now())
	if err != nil || held {
		t.Fatalf("expected released lease, held=%v err=%v", held, err)
	}
	if _, err := store.RenewLease(ctx, renewed, time.Minute); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if _, err := store.ClaimLease(ctx, 9999, "a", time.Minute); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing item, got %v", err)
	}
}

func TestExpiredLeaseCanBeTakenOver(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.Enqueue(t, store, "https://example.com/expired")
	stale, err := store.ClaimLease(ctx, item.ID, "a", time.Millisecond)
	if err != nil {
		t.Fatalf("ClaimLease: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	fresh, err := store.ClaimLease(ctx, item.ID, "b", time.Minute)
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if fresh.Token == stale.Token {
		t.Fatal("expected a new token")
	}
	if err := store.ReleaseLease(ctx, stale); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("stale release should report ErrLeaseLost, got %v", err)
	}
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	item := testsupport.Enqueue(t, store, "https://example.com/race")

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ClaimLease(ctx, item.ID, "w", time.Minute); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one lease winner, got %d", wins)
	}
}

func TestRetryFailedResetsCounters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.Enqueue(t, store, "https://example.com/retry")
	now := time.Now()
	if _, err := store.Transition(ctx, item.ID, status.Failed, queue.ActorOrchestrator, queue.TransitionOptions{
		Fields: queue.FieldChanges{
			Attempts:         queue.Ptr(3),
			PermanentFailure: queue.Ptr(true),
			RejectionReason:  queue.Ptr("fetch failed after 3 attempts: boom"),
			FailedAt:         &now,
		},
	}); err != nil {
		t.Fatalf("to failed: %v", err)
	}

	retried, err := store.RetryFailed(ctx, item.ID, queue.ActorCLI)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if retried.Status != status.Pending || retried.Attempts != 0 || retried.PermanentFailure || retried.FailedAt != nil || retried.RejectionReason != "" {
		t.Fatalf("unexpected retried item: %+v", retried)
	}
	history, _ := store.History(ctx, item.ID)
	if last := history[len(history)-1]; !last.Manual || last.Actor != queue.ActorCLI {
		t.Fatalf("expected manual cli history, got %+v", last)
	}

	if _, err := store.RetryFailed(ctx, item.ID, queue.ActorCLI); !errors.Is(err, queue.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict for non-failed item, got %v", err)
	}
}

func TestMarkRawDeletedKeepsStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.Enqueue(t, store, "https://example.com/raw")
	testsupport.MoveTo(t, store, item.ID, status.ToTag)
	updated, err := store.MarkRawDeleted(ctx, item.ID, queue.ActorCLI)
	if err != nil {
		t.Fatalf("MarkRawDeleted: %v", err)
	}
	if !updated.RawDeleted || updated.Status != status.ToTag {
		t.Fatalf("unexpected item: %+v", updated)
	}
	if updated.HasReusableContent() {
		t.Fatal("deleted raw content must not be reusable")
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.Enqueue(t, store, "https://example.com/p1")
	a := testsupport.Enqueue(t, store, "https://example.com/p2")
	b := testsupport.Enqueue(t, store, "https://example.com/p3")
	testsupport.MoveTo(t, store, a.ID, status.Irrelevant)
	testsupport.MoveTo(t, store, b.ID, status.Summarizing)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[status.Pending] != 1 || stats[status.Irrelevant] != 1 || stats[status.Summarizing] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 3 || health.Queued != 1 || health.Working != 1 || health.Rejected != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}

	db, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !db.DatabaseReadable || !db.IntegrityCheck || db.TotalItems != 3 || db.StatusCodes != len(status.All()) {
		t.Fatalf("unexpected database health: %+v", db)
	}
}
