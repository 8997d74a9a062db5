package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"gleaner/internal/status"
)

// Transition moves an item to a new status and applies field changes in the
// same transaction. It is the only exported method that writes status_code.
// Every call, including same-status updates, appends a status_history row.
func (s *Store) Transition(ctx context.Context, id int64, to status.Status, actor string, opts TransitionOptions) (*Item, error) {
	ctx = ensureContext(ctx)
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, errors.New("transition: actor is required")
	}
	if _, ok := status.Parse(string(to)); !ok {
		return nil, fmt.Errorf("transition: %w: unknown target status %q", ErrIllegalTransition, to)
	}
	toCode := s.registry.CodeOf(to)

	var patch string
	if opts.Fields.Payload != nil {
		encoded, err := marshalPayload(opts.Fields.Payload)
		if err != nil {
			return nil, fmt.Errorf("transition: %w", err)
		}
		patch = encoded
	}

	var updated *Item
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var fromCode int
		if err := tx.QueryRowContext(ctx, `SELECT status_code FROM queue_items WHERE id = ?`, id).Scan(&fromCode); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("item %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("read status: %w", err)
		}
		from, err := s.registry.StatusOf(fromCode)
		if err != nil {
			return err
		}
		if opts.ExpectStatus != "" && opts.ExpectStatus != from {
			return fmt.Errorf("item %d: expected %s, found %s: %w", id, opts.ExpectStatus, from, ErrStatusConflict)
		}
		if err := status.CheckTransition(from, to); err != nil {
			return fmt.Errorf("item %d: %w: %v", id, ErrIllegalTransition, err)
		}

		timestamp := formatTime(time.Now())
		builder := sq.Update("queue_items").
			Set("status_code", toCode).
			Set("updated_at", timestamp).
			Set("updated_by", actor).
			Where(sq.Eq{"id": id, "status_code": fromCode})
		if patch != "" {
			builder = builder.Set("payload", sq.Expr("json_patch(COALESCE(payload, '{}'), ?)", patch))
		}
		builder = applyFieldChanges(builder, opts.Fields)

		query, args, err := builder.ToSql()
		if err != nil {
			return fmt.Errorf("build transition: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("apply transition: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("item %d: %w", id, ErrStatusConflict)
		}

		if err := insertHistory(ctx, tx, id, &fromCode, toCode, actor, opts.Manual, timestamp); err != nil {
			return err
		}

		selectQuery, selectArgs, err := sq.Select(itemColumns("")...).From("queue_items").Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return fmt.Errorf("build reload: %w", err)
		}
		updated, err = s.scanItem(tx.QueryRowContext(ctx, selectQuery, selectArgs...))
		if err != nil {
			return fmt.Errorf("reload item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func applyFieldChanges(builder sq.UpdateBuilder, fields FieldChanges) sq.UpdateBuilder {
	if fields.Attempts != nil {
		builder = builder.Set("attempts", *fields.Attempts)
	}
	if fields.RejectionReason != nil {
		builder = builder.Set("rejection_reason", nullableString(*fields.RejectionReason))
	}
	if fields.PermanentFailure != nil {
		builder = builder.Set("permanent_failure", boolToInt(*fields.PermanentFailure))
	}
	if fields.ContentHash != nil {
		builder = builder.Set("content_hash", nullableString(*fields.ContentHash))
	}
	if fields.StoragePath != nil {
		builder = builder.Set("storage_path", nullableString(*fields.StoragePath))
	}
	if fields.FetchStatus != nil {
		builder = builder.Set("fetch_status", nullableString(string(*fields.FetchStatus)))
	}
	if fields.RawDeleted != nil {
		builder = builder.Set("raw_deleted", boolToInt(*fields.RawDeleted))
	}
	if fields.FetchedAt != nil {
		builder = builder.Set("fetched_at", nullableTime(fields.FetchedAt))
	}
	switch {
	case fields.ClearFailedAt:
		builder = builder.Set("failed_at", nil)
	case fields.FailedAt != nil:
		builder = builder.Set("failed_at", nullableTime(fields.FailedAt))
	}
	return builder
}
