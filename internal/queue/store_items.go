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

// Enqueue inserts a candidate in the pending status. The normalized URL must
// be unique across queued and published items.
func (s *Store) Enqueue(ctx context.Context, in NewItem) (*Item, error) {
	ctx = ensureContext(ctx)
	url := strings.TrimSpace(in.URL)
	normalized := strings.TrimSpace(in.NormalizedURL)
	if url == "" || normalized == "" {
		return nil, errors.New("enqueue: url and normalized url are required")
	}
	entryType := in.EntryType
	if entryType == "" {
		entryType = EntryDiscovered
	}
	actor := in.Actor
	if actor == "" {
		actor = ActorIntake
	}
	payload, err := marshalPayload(in.Payload)
	if err != nil {
		return nil, err
	}

	pendingCode := s.registry.CodeOf(status.Pending)
	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var published int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM published_items WHERE normalized_url = ?`, normalized,
		).Scan(&published); err != nil {
			return fmt.Errorf("check published: %w", err)
		}
		if published > 0 {
			return ErrAlreadyPublished
		}

		timestamp := formatTime(time.Now())
		res, err := tx.ExecContext(ctx,
			`INSERT INTO queue_items (
                url, normalized_url, status_code, entry_type, payload,
                discovered_at, updated_at, updated_by
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			url, normalized, pendingCode, string(entryType), payload,
			timestamp, timestamp, actor,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateURL
			}
			return fmt.Errorf("insert item: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return insertHistory(ctx, tx, id, nil, pendingCode, actor, entryType == EntryManual, timestamp)
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a queue item by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	ctx = ensureContext(ctx)
	query, args, err := sq.Select(itemColumns("")...).From("queue_items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}
	item, err := s.scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// FindByNormalizedURL returns the queued item with the given dedup key.
func (s *Store) FindByNormalizedURL(ctx context.Context, normalized string) (*Item, error) {
	ctx = ensureContext(ctx)
	query, args, err := sq.Select(itemColumns("")...).From("queue_items").Where(sq.Eq{"normalized_url": normalized}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lookup query: %w", err)
	}
	item, err := s.scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find by normalized url: %w", err)
	}
	return item, nil
}

// List returns items matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Item, error) {
	ctx = ensureContext(ctx)
	builder := sq.Select(itemColumns("")...).From("queue_items").OrderBy("discovered_at DESC", "id DESC")
	if len(filter.Statuses) > 0 {
		builder = builder.Where(sq.Eq{"status_code": s.registry.CodesOf(filter.Statuses...)})
	}
	if filter.EntryType != "" {
		builder = builder.Where(sq.Eq{"entry_type": string(filter.EntryType)})
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		pattern := "%" + term + "%"
		builder = builder.Where(sq.Or{
			sq.Like{"url": pattern},
			sq.Like{"json_extract(payload, '$.title')": pattern},
		})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}
	return s.queryItems(ctx, builder)
}

// ListReady returns items whose status is a resume point and whose lease is
// free, oldest discovered first.
func (s *Store) ListReady(ctx context.Context, limit int) ([]*Item, error) {
	ctx = ensureContext(ctx)
	builder := sq.Select(itemColumns("q")...).
		From("queue_items q").
		LeftJoin("item_leases l ON l.item_id = q.id").
		Where(sq.Eq{"q.status_code": s.registry.CodesOf(status.Selectable()...)}).
		Where(sq.Or{sq.Eq{"l.item_id": nil}, sq.Lt{"l.expires_at": formatTime(time.Now())}}).
		OrderBy("q.discovered_at", "q.id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return s.queryItems(ctx, builder)
}

// ListWorking returns items currently holding a working status.
func (s *Store) ListWorking(ctx context.Context) ([]*Item, error) {
	ctx = ensureContext(ctx)
	builder := sq.Select(itemColumns("")...).
		From("queue_items").
		Where(sq.Eq{"status_code": s.registry.CodesOf(status.Working()...)}).
		OrderBy("id")
	return s.queryItems(ctx, builder)
}

func (s *Store) queryItems(ctx context.Context, builder sq.SelectBuilder) ([]*Item, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := s.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkPublished records a normalized URL as already published so later
// candidates with the same key are rejected on enqueue.
func (s *Store) MarkPublished(ctx context.Context, normalized string, itemID int64) error {
	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return errors.New("mark published: normalized url is required")
	}
	var ref any
	if itemID > 0 {
		ref = itemID
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO published_items (normalized_url, item_id, published_at) VALUES (?, ?, ?)
         ON CONFLICT(normalized_url) DO NOTHING`,
		normalized, ref, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// IsPublished reports whether the normalized URL was published before.
func (s *Store) IsPublished(ctx context.Context, normalized string) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM published_items WHERE normalized_url = ?`, normalized,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check published: %w", err)
	}
	return count > 0, nil
}

// History returns the audit trail of an item, oldest first.
func (s *Store) History(ctx context.Context, itemID int64) ([]HistoryEntry, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, from_code, to_code, actor, is_manual, created_at
         FROM status_history WHERE item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			entry   HistoryEntry
			from    sql.NullInt64
			to      int
			manual  int
			created string
		)
		if err := rows.Scan(&entry.ID, &entry.ItemID, &from, &to, &entry.Actor, &manual, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if from.Valid {
			if entry.From, err = s.registry.StatusOf(int(from.Int64)); err != nil {
				return nil, err
			}
		}
		if entry.To, err = s.registry.StatusOf(to); err != nil {
			return nil, err
		}
		entry.Manual = manual != 0
		if ts, err := parseTimeString(created); err == nil {
			entry.CreatedAt = ts
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func insertHistory(ctx context.Context, tx *sql.Tx, itemID int64, fromCode *int, toCode int, actor string, manual bool, timestamp string) error {
	var from any
	if fromCode != nil {
		from = *fromCode
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO status_history (item_id, from_code, to_code, actor, is_manual, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		itemID, from, toCode, actor, boolToInt(manual), timestamp,
	); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}
