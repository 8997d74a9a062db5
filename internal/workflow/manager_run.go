package workflow

import (
	"context"
	"errors"
	"time"

	"gleaner/internal/logging"
	"gleaner/internal/queue"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.batch == nil {
		m.mu.Unlock()
		return errors.New("workflow batch runner not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for the current item to
// be parked.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Wait blocks until the processing loop exits.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()
	logger := logging.WithContext(ctx, m.logger)
	logger.Info("workflow manager started",
		logging.Duration("poll_interval", m.pollInterval),
		logging.Int("batch_limit", m.batch.limit),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("workflow manager stopped")
			return
		default:
		}

		report, err := m.batch.Run(ctx, BatchOptions{Actor: queue.ActorOrchestrator})
		m.recordBatch(report, err)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			m.handleBatchError(ctx, err)
			continue
		}
		// A full batch suggests more ready work; go again unless every item
		// was held elsewhere.
		if report.Selected < m.batch.limit || report.Aborted == report.Selected {
			m.waitForItemOrShutdown(ctx)
		}
	}
}

func (m *Manager) handleBatchError(ctx context.Context, err error) {
	logging.ErrorWithContext(logging.WithContext(ctx, m.logger), "batch failed", "batch_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.retryBackoff):
	}
}

func (m *Manager) waitForItemOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.pollInterval):
	}
}
