package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const archivedLogPattern = "gleaner-*.log"

// RotateLogFile moves the previous run's LogFileName aside as
// gleaner-<timestamp>.log so every daemon start begins a fresh file. A missing
// log is not an error.
func RotateLogFile(dir string, now time.Time) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", nil
	}
	current := filepath.Join(dir, LogFileName)
	info, err := os.Stat(current)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() == 0 {
		return "", nil
	}
	archived := filepath.Join(dir, "gleaner-"+now.UTC().Format("20060102-150405")+".log")
	if err := os.Rename(current, archived); err != nil {
		return "", fmt.Errorf("rotate log file: %w", err)
	}
	return archived, nil
}

// PruneArchivedLogs removes rotated logs in dir older than retentionDays and
// returns how many were removed. A retentionDays value of 0 disables pruning.
func PruneArchivedLogs(logger *slog.Logger, dir string, retentionDays int, now time.Time) int {
	if retentionDays <= 0 || strings.TrimSpace(dir) == "" {
		return 0
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if matched, _ := filepath.Match(archivedLogPattern, entry.Name()); !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check file permissions and log_dir ownership"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed++
		if logger != nil {
			logger.Info("log pruned", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
	return removed
}
