package api

import (
	"context"
	"errors"

	"gleaner/internal/queue"
	"gleaner/internal/status"
)

// QueueMutator captures the store operations behind retry and raw-content
// maintenance.
type QueueMutator interface {
	GetByID(ctx context.Context, id int64) (*queue.Item, error)
	RetryFailed(ctx context.Context, id int64, actor string) (*queue.Item, error)
	MarkRawDeleted(ctx context.Context, id int64, actor string) (*queue.Item, error)
}

type RetryItemOutcome string

const (
	RetryItemUpdated   RetryItemOutcome = "retried"
	RetryItemNotFound  RetryItemOutcome = "not_found"
	RetryItemNotFailed RetryItemOutcome = "not_failed"
)

type RetryItemResult struct {
	ID        int64            `json:"id"`
	Outcome   RetryItemOutcome `json:"outcome"`
	NewStatus string           `json:"newStatus,omitempty"`
}

type RetryItemsResult struct {
	UpdatedCount int64             `json:"updatedCount"`
	Items        []RetryItemResult `json:"items"`
}

// RetryFailedItemsByID validates IDs and retries only failed items. A
// retried item returns to pending with its attempt budget restored.
func RetryFailedItemsByID(ctx context.Context, store QueueMutator, actor string, ids []int64) (RetryItemsResult, error) {
	result := RetryItemsResult{Items: make([]RetryItemResult, 0, len(ids))}
	for _, id := range ids {
		item, err := store.GetByID(ctx, id)
		if errors.Is(err, queue.ErrNotFound) {
			result.Items = append(result.Items, RetryItemResult{ID: id, Outcome: RetryItemNotFound})
			continue
		}
		if err != nil {
			return RetryItemsResult{}, err
		}
		if item.Status != status.Failed {
			result.Items = append(result.Items, RetryItemResult{ID: id, Outcome: RetryItemNotFailed})
			continue
		}
		updated, err := store.RetryFailed(ctx, id, actor)
		if errors.Is(err, queue.ErrStatusConflict) {
			result.Items = append(result.Items, RetryItemResult{ID: id, Outcome: RetryItemNotFailed})
			continue
		}
		if err != nil {
			return RetryItemsResult{}, err
		}
		result.UpdatedCount++
		result.Items = append(result.Items, RetryItemResult{ID: id, Outcome: RetryItemUpdated, NewStatus: string(updated.Status)})
	}
	return result, nil
}

type ForgetRawOutcome string

const (
	ForgetRawUpdated  ForgetRawOutcome = "forgotten"
	ForgetRawNotFound ForgetRawOutcome = "not_found"
	ForgetRawNoCopy   ForgetRawOutcome = "no_raw_copy"
)

type ForgetRawResult struct {
	ID          int64            `json:"id"`
	Outcome     ForgetRawOutcome `json:"outcome"`
	PriorStatus string           `json:"priorStatus,omitempty"`
}

type ForgetRawItemsResult struct {
	UpdatedCount int64             `json:"updatedCount"`
	Items        []ForgetRawResult `json:"items"`
}

// ForgetRawByID marks stored raw copies as deleted so the next enrichment
// fetches fresh content. Item statuses are unchanged.
func ForgetRawByID(ctx context.Context, store QueueMutator, actor string, ids []int64) (ForgetRawItemsResult, error) {
	result := ForgetRawItemsResult{Items: make([]ForgetRawResult, 0, len(ids))}
	for _, id := range ids {
		item, err := store.GetByID(ctx, id)
		if errors.Is(err, queue.ErrNotFound) {
			result.Items = append(result.Items, ForgetRawResult{ID: id, Outcome: ForgetRawNotFound})
			continue
		}
		if err != nil {
			return ForgetRawItemsResult{}, err
		}
		prior := string(item.Status)
		if item.StoragePath == "" || item.RawDeleted {
			result.Items = append(result.Items, ForgetRawResult{ID: id, Outcome: ForgetRawNoCopy, PriorStatus: prior})
			continue
		}
		if _, err := store.MarkRawDeleted(ctx, id, actor); err != nil {
			return ForgetRawItemsResult{}, err
		}
		result.UpdatedCount++
		result.Items = append(result.Items, ForgetRawResult{ID: id, Outcome: ForgetRawUpdated, PriorStatus: prior})
	}
	return result, nil
}
