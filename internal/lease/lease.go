// Package lease provides exclusive per-item claims for the orchestrator.
//
// Two backends exist: SQLite, stored next to the queue, for a single host,
// and Redis for several orchestrator processes sharing one queue database
// over a network filesystem or replica.
package lease

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gleaner/internal/config"
	"gleaner/internal/queue"
)

// Backend claims, renews and releases item leases. Claim fails with
// queue.ErrLeaseHeld while another holder owns a live lease; Renew and
// Release fail with queue.ErrLeaseLost when the caller no longer owns it.
type Backend interface {
	Claim(ctx context.Context, itemID int64, holder string, ttl time.Duration) (queue.Lease, error)
	Renew(ctx context.Context, lease queue.Lease, ttl time.Duration) (queue.Lease, error)
	Release(ctx context.Context, lease queue.Lease) error
	Held(ctx context.Context, itemID int64) (bool, error)
	Close() error
}

// SQLite stores leases in the queue database.
type SQLite struct {
	store *queue.Store
	now   func() time.Time
}

// NewSQLite wraps the queue store's lease table.
func NewSQLite(store *queue.Store) *SQLite {
	return &SQLite{store: store, now: time.Now}
}

func (s *SQLite) Claim(ctx context.Context, itemID int64, holder string, ttl time.Duration) (queue.Lease, error) {
	return s.store.ClaimLease(ctx, itemID, holder, ttl)
}

func (s *SQLite) Renew(ctx context.Context, lease queue.Lease, ttl time.Duration) (queue.Lease, error) {
	return s.store.RenewLease(ctx, lease, ttl)
}

func (s *SQLite) Release(ctx context.Context, lease queue.Lease) error {
	return s.store.ReleaseLease(ctx, lease)
}

func (s *SQLite) Held(ctx context.Context, itemID int64) (bool, error) {
	return s.store.LeaseHeld(ctx, itemID, s.now())
}

// Close is a no-op; the store owns the connection.
func (s *SQLite) Close() error { return nil }

// New selects the backend named by workflow.lease_backend.
func New(ctx context.Context, cfg *config.Config, store *queue.Store) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Workflow.LeaseBackend)) {
	case "", "sqlite":
		return NewSQLite(store), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown lease backend %q", cfg.Workflow.LeaseBackend)
	}
}
