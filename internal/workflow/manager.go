package workflow

import (
	"log/slog"
	"sync"
	"time"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/stage"
)

// Manager runs batches on a polling loop for the daemon.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	batch        *Batch
	steps        stage.Set
	logger       *slog.Logger
	pollInterval time.Duration
	retryBackoff time.Duration

	mu         sync.RWMutex
	running    bool
	cancel     func()
	wg         sync.WaitGroup
	lastErr    error
	lastReport *BatchReport
	lastBatch  time.Time
}

// NewManager constructs a workflow manager around a batch runner. steps is
// only consulted for health reporting.
func NewManager(cfg *config.Config, store *queue.Store, batch *Batch, steps stage.Set, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		store:        store,
		batch:        batch,
		steps:        steps,
		logger:       logging.NewComponentLogger(logger, "workflow-manager"),
		pollInterval: cfg.PollInterval(),
		retryBackoff: cfg.ErrorRetryInterval(),
	}
}
