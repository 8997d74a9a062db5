package api

import (
	"context"

	"gleaner/internal/queue"
	"gleaner/internal/status"
	"gleaner/internal/tracker"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	List(ctx context.Context, filter queue.ListFilter) ([]*queue.Item, error)
	Stats(ctx context.Context) (map[status.Status]int, error)
	GetByID(ctx context.Context, id int64) (*queue.Item, error)
	History(ctx context.Context, itemID int64) ([]queue.HistoryEntry, error)
}

// RunReader abstracts the tracker queries behind item detail views.
type RunReader interface {
	RunsForItem(ctx context.Context, itemID int64) ([]tracker.Run, error)
	StepsForRun(ctx context.Context, runID int64) ([]tracker.StepRun, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
	runs  RunReader
}

// NewQueueService constructs a QueueService around the provided readers.
// runs may be nil, in which case item details carry no runs.
func NewQueueService(store QueueReader, runs RunReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store, runs: runs}
}

// List returns queue items matching filter, newest first.
func (s *QueueService) List(ctx context.Context, filter queue.ListFilter) ([]QueueItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	items, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromQueueItems(items), nil
}

// Stats returns queue summary counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single queue item. Unknown ids yield queue.ErrNotFound.
func (s *QueueService) Describe(ctx context.Context, id int64) (*QueueItem, error) {
	if s == nil || s.store == nil {
		return nil, queue.ErrNotFound
	}
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromQueueItem(item)
	return &dto, nil
}

// Detail fetches an item with its runs, step runs, and status history.
func (s *QueueService) Detail(ctx context.Context, id int64) (*ItemDetail, error) {
	if s == nil || s.store == nil {
		return nil, queue.ErrNotFound
	}
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.store.History(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &ItemDetail{
		Item:    FromQueueItem(item),
		Runs:    []Run{},
		History: FromHistory(history),
	}
	if s.runs == nil {
		return detail, nil
	}
	runs, err := s.runs.RunsForItem(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		steps, err := s.runs.StepsForRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		detail.Runs = append(detail.Runs, FromRun(run, steps))
	}
	return detail, nil
}
