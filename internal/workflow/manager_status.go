package workflow

import (
	"context"
	"time"

	"gleaner/internal/logging"
	"gleaner/internal/stage"
	"gleaner/internal/status"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                  `json:"running"`
	LastError   string                `json:"last_error,omitempty"`
	LastBatch   *time.Time            `json:"last_batch,omitempty"`
	LastReport  *BatchReport          `json:"last_report,omitempty"`
	QueueStats  map[status.Status]int `json:"queue_stats"`
	StageHealth []stage.Health        `json:"stage_health"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastReport != nil {
		report := *m.lastReport
		summary.LastReport = &report
	}
	if !m.lastBatch.IsZero() {
		at := m.lastBatch
		summary.LastBatch = &at
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	summary.StageHealth = m.steps.HealthCheck(ctx)
	return summary
}

func (m *Manager) recordBatch(report BatchReport, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBatch = time.Now()
	if err != nil {
		m.lastErr = err
		return
	}
	if report.Selected == 0 {
		return
	}
	m.lastReport = &report
	for _, item := range report.Items {
		if item.Error != "" {
			m.lastErr = errorText(item.Error)
		}
	}
}

type errorText string

func (e errorText) Error() string { return string(e) }
