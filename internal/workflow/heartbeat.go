package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gleaner/internal/lease"
	"gleaner/internal/logging"
	"gleaner/internal/queue"
)

// HeartbeatMonitor keeps item leases alive while a run is in progress.
type HeartbeatMonitor struct {
	backend  lease.Backend
	logger   *slog.Logger
	interval time.Duration
	ttl      time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(backend lease.Backend, logger *slog.Logger, interval, ttl time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		backend:  backend,
		logger:   logging.NewComponentLogger(logger, "workflow-heartbeat"),
		interval: interval,
		ttl:      ttl,
	}
}

// heldLease is the lease a run currently owns. Renewals replace it.
type heldLease struct {
	mu    sync.Mutex
	lease queue.Lease
}

func (h *heldLease) get() queue.Lease {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lease
}

func (h *heldLease) set(l queue.Lease) {
	h.mu.Lock()
	h.lease = l
	h.mu.Unlock()
}

// StartLoop renews held until ctx is cancelled. When the lease is lost to
// another holder, onLost is called once and the loop exits.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, held *heldLease, onLost func()) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := h.backend.Renew(ctx, held.get(), h.ttl)
			switch {
			case err == nil:
				held.set(renewed)
			case errors.Is(err, context.Canceled):
				logger.Debug("run finished, lease renewal cancelled")
				return
			case errors.Is(err, queue.ErrLeaseLost):
				logging.WarnWithContext(logger, "item lease lost; abandoning run", "lease_lost",
					logging.Error(err),
					logging.String(logging.FieldImpact, "the current step is cancelled and the item is left for its new holder"),
					logging.String(logging.FieldErrorHint, "raise workflow.lease_ttl if steps outlive it"),
				)
				if onLost != nil {
					onLost()
				}
				return
			default:
				logging.WarnWithContext(logger, "lease renewal failed", "lease_renew_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "lease may expire before the run ends"),
					logging.String(logging.FieldErrorHint, "check lease backend connectivity"),
				)
			}
		}
	}
}
