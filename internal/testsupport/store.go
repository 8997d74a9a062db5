package testsupport

import (
	"context"
	"testing"

	"gleaner/internal/config"
	"gleaner/internal/queue"
	"gleaner/internal/status"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Enqueue adds a discovered item whose normalized URL equals url.
func Enqueue(t testing.TB, store *queue.Store, url string) *queue.Item {
	t.Helper()
	return EnqueueItem(t, store, queue.NewItem{URL: url, NormalizedURL: url})
}

// EnqueueItem adds an item built by the caller.
func EnqueueItem(t testing.TB, store *queue.Store, in queue.NewItem) *queue.Item {
	t.Helper()

	if in.NormalizedURL == "" {
		in.NormalizedURL = in.URL
	}
	item, err := store.Enqueue(context.Background(), in)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return item
}

// MoveTo walks an item to target through legal transitions, the way a crashed
// or partially completed run would have left it.
func MoveTo(t testing.TB, store *queue.Store, id int64, target status.Status) *queue.Item {
	t.Helper()

	ctx := context.Background()
	item, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("store.GetByID: %v", err)
	}
	path := []status.Status{target}
	switch {
	case target.IsWorking():
		path = []status.Status{status.ReadyAfterWorking(target), target}
	case target.IsTerminal() && target != status.Failed:
		path = []status.Status{status.ToThumbnail, status.Thumbnailing, target}
	}
	for _, next := range path {
		if item.Status == next {
			continue
		}
		item, err = store.Transition(ctx, id, next, "test", queue.TransitionOptions{})
		if err != nil {
			t.Fatalf("transition %d -> %s: %v", id, next, err)
		}
	}
	return item
}
