package workflow

import (
	"context"
	"log/slog"

	"gleaner/internal/lease"
	"gleaner/internal/logging"
	"gleaner/internal/queue"
)

// Sweeper repairs items a crashed run left in a working status.
type Sweeper struct {
	store  *queue.Store
	leases lease.Backend
	logger *slog.Logger
}

// NewSweeper creates a sweeper. Items whose lease is still live are left
// alone; their holder may be running them right now.
func NewSweeper(store *queue.Store, leases lease.Backend, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		leases: leases,
		logger: logging.NewComponentLogger(logger, "sweeper"),
	}
}

// ResetStuckWorkingStates moves every unleased working item back to the
// ready status of the same step and returns how many moved. Running it with
// nothing stuck is a no-op.
func (s *Sweeper) ResetStuckWorkingStates(ctx context.Context) (int64, error) {
	var held queue.LeaseChecker
	if s.leases != nil {
		held = s.leases.Held
	}
	resets, err := s.store.ResetStuckWorkingWith(ctx, held)
	logger := logging.WithContext(ctx, s.logger)
	for _, reset := range resets {
		attrs := logging.TransitionAttrs(string(reset.From), string(reset.To), queue.ActorSweeper)
		attrs = append(attrs,
			logging.ItemID(reset.ItemID),
			logging.Event("sweep_reset"),
		)
		logger.Info("reset stuck item", logging.Args(attrs...)...)
	}
	if err != nil {
		return int64(len(resets)), err
	}
	if len(resets) > 0 {
		logger.Info("sweep finished", logging.Int("reset", len(resets)))
	}
	return int64(len(resets)), nil
}
