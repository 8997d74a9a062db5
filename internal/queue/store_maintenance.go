package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"gleaner/internal/status"
)

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[status.Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status_code, COUNT(1) FROM queue_items GROUP BY status_code`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[status.Status]int)
	for rows.Next() {
		var code, count int
		if err := rows.Scan(&code, &count); err != nil {
			return nil, err
		}
		st, err := s.registry.StatusOf(code)
		if err != nil {
			return nil, err
		}
		stats[st] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for st, count := range stats {
		health.Total += count
		switch st.Phase() {
		case status.PhaseDiscovery, status.PhaseReady:
			health.Queued += count
		case status.PhaseWorking:
			health.Working += count
		case status.PhaseReview:
			health.Review += count
		case status.PhaseRejected:
			health.Rejected += count
		case status.PhaseFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	ctx = ensureContext(ctx)
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if version, err := s.SchemaVersion(connCtx); err == nil {
		health.SchemaVersion = version
	} else {
		health.Error = err.Error()
	}
	health.StatusCodes = len(s.registry.Entries())

	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM queue_items").Scan(&health.TotalItems); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count queue items: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}

// LeaseChecker reports whether an item currently has a live lease.
type LeaseChecker func(ctx context.Context, itemID int64) (bool, error)

// ResetStuckWorking moves every working item without a live SQLite lease
// back to the ready status of the same step.
func (s *Store) ResetStuckWorking(ctx context.Context, now time.Time) ([]StuckReset, error) {
	return s.ResetStuckWorkingWith(ctx, func(ctx context.Context, itemID int64) (bool, error) {
		return s.LeaseHeld(ctx, itemID, now)
	})
}

// ResetStuckWorkingWith resets working items for which held reports no live
// lease. Each reset is a compare-and-swap on the working status, so an item
// that a worker moved in the meantime is left alone.
func (s *Store) ResetStuckWorkingWith(ctx context.Context, held LeaseChecker) ([]StuckReset, error) {
	items, err := s.ListWorking(ctx)
	if err != nil {
		return nil, err
	}
	var resets []StuckReset
	for _, item := range items {
		if held != nil {
			busy, err := held(ctx, item.ID)
			if err != nil {
				return resets, fmt.Errorf("check lease for item %d: %w", item.ID, err)
			}
			if busy {
				continue
			}
		}
		target := status.ReadyAfterWorking(item.Status)
		_, err := s.Transition(ctx, item.ID, target, ActorSweeper, TransitionOptions{ExpectStatus: item.Status})
		if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return resets, fmt.Errorf("reset item %d: %w", item.ID, err)
		}
		resets = append(resets, StuckReset{ItemID: item.ID, From: item.Status, To: target})
	}
	return resets, nil
}

// RetryFailed moves a failed item back to pending with its attempt counter
// and permanent flag cleared.
func (s *Store) RetryFailed(ctx context.Context, id int64, actor string) (*Item, error) {
	return s.Transition(ctx, id, status.Pending, actor, TransitionOptions{
		Manual:       true,
		ExpectStatus: status.Failed,
		Fields: FieldChanges{
			Attempts:         Ptr(0),
			PermanentFailure: Ptr(false),
			RejectionReason:  Ptr(""),
			ClearFailedAt:    true,
		},
	})
}

// MarkRawDeleted flags the stored raw copy as gone so the next enrichment
// fetches fresh content. The status is unchanged.
func (s *Store) MarkRawDeleted(ctx context.Context, id int64, actor string) (*Item, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Transition(ctx, id, item.Status, actor, TransitionOptions{
		Manual:       true,
		ExpectStatus: item.Status,
		Fields:       FieldChanges{RawDeleted: Ptr(true)},
	})
}

// ClaimLease takes the exclusive lease on an item for ttl. An unexpired lease
// held by anyone else yields ErrLeaseHeld.
func (s *Store) ClaimLease(ctx context.Context, itemID int64, holder string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		return Lease{}, errors.New("claim lease: ttl must be positive")
	}
	now := time.Now()
	lease := Lease{
		ItemID:    itemID,
		Token:     uuid.NewString(),
		Holder:    holder,
		ExpiresAt: now.Add(ttl).UTC(),
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO item_leases (item_id, token, holder, expires_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(item_id) DO UPDATE SET
             token = excluded.token,
             holder = excluded.holder,
             expires_at = excluded.expires_at
         WHERE item_leases.expires_at < ?`,
		itemID, lease.Token, nullableString(holder), formatTime(lease.ExpiresAt), formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return Lease{}, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
		}
		return Lease{}, fmt.Errorf("claim lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Lease{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return Lease{}, fmt.Errorf("item %d: %w", itemID, ErrLeaseHeld)
	}
	return lease, nil
}

// RenewLease extends a lease the caller still owns.
func (s *Store) RenewLease(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error) {
	expires := time.Now().Add(ttl).UTC()
	res, err := s.execWithRetry(ctx,
		`UPDATE item_leases SET expires_at = ? WHERE item_id = ? AND token = ?`,
		formatTime(expires), lease.ItemID, lease.Token,
	)
	if err != nil {
		return lease, fmt.Errorf("renew lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return lease, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return lease, fmt.Errorf("item %d: %w", lease.ItemID, ErrLeaseLost)
	}
	lease.ExpiresAt = expires
	return lease, nil
}

// ReleaseLease drops a lease the caller still owns.
func (s *Store) ReleaseLease(ctx context.Context, lease Lease) error {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM item_leases WHERE item_id = ? AND token = ?`,
		lease.ItemID, lease.Token,
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %d: %w", lease.ItemID, ErrLeaseLost)
	}
	return nil
}

// LeaseHeld reports whether the item has an unexpired lease at now.
func (s *Store) LeaseHeld(ctx context.Context, itemID int64, now time.Time) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM item_leases WHERE item_id = ? AND expires_at >= ?`,
		itemID, formatTime(now),
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check lease: %w", err)
	}
	return count > 0, nil
}
