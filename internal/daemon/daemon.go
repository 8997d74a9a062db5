package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"gleaner/internal/api"
	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/workflow"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another gleaner daemon instance is already running")

// Daemon coordinates the workflow loop and API server and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow *workflow.Manager
	server   *api.HTTPServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	done    <-chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                   `json:"running"`
	Workflow     workflow.StatusSummary `json:"workflow"`
	QueueDBPath  string                 `json:"queue_db_path"`
	LockFilePath string                 `json:"lock_file_path"`
}

// New constructs a daemon. server may be nil when no API bind address is
// configured.
func New(cfg *config.Config, logger *slog.Logger, wf *workflow.Manager, server *api.HTTPServer) (*Daemon, error) {
	if cfg == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, logger, and workflow manager")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		workflow: wf,
		server:   server,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the workflow loop and API
// server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	if err := d.workflow.Start(groupCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	group.Go(func() error {
		<-groupCtx.Done()
		d.workflow.Stop()
		return nil
	})
	if d.server != nil {
		group.Go(func() error {
			return d.server.Run(groupCtx)
		})
	}

	d.cancel = cancel
	d.group = group
	d.done = groupCtx.Done()
	d.running.Store(true)
	d.logger.Info("gleaner daemon started",
		logging.Event("daemon_start"),
		logging.String("lock", d.lockPath),
		logging.Bool("api_enabled", d.server != nil),
	)
	return nil
}

// Stop stops background processing, waits for the current item to be
// parked, and releases the daemon lock. It returns the first error either
// component reported.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return nil
	}

	d.cancel()
	err := d.group.Wait()
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(unlockErr),
			logging.String(logging.FieldImpact, "a stale lock file remains; the next start still succeeds"),
		)
	}
	d.cancel = nil
	d.group = nil
	d.running.Store(false)
	d.logger.Info("gleaner daemon stopped", logging.Event("daemon_stop"))
	return err
}

// Run starts the daemon and blocks until ctx is cancelled or a component
// fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	<-done
	return d.Stop()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}
}
