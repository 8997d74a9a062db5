package logs

import (
	"encoding/json"
	"strings"
)

// Filter selects JSON log lines. The zero Filter matches every line.
type Filter struct {
	ItemID    int64
	Component string
	MinLevel  string
	EventType string
}

func (f Filter) empty() bool {
	return f.ItemID == 0 && f.Component == "" && f.MinLevel == "" && f.EventType == ""
}

type logLine struct {
	Level     string `json:"level"`
	Component string `json:"component"`
	EventType string `json:"event_type"`
	ItemID    int64  `json:"item_id"`
}

// Match reports whether line passes the filter.
func (f Filter) Match(line string) bool {
	if f.empty() {
		return true
	}
	var entry logLine
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return false
	}
	if f.ItemID != 0 && entry.ItemID != f.ItemID {
		return false
	}
	if f.Component != "" && !strings.EqualFold(entry.Component, f.Component) {
		return false
	}
	if f.EventType != "" && entry.EventType != f.EventType {
		return false
	}
	if f.MinLevel != "" && levelRank(entry.Level) < levelRank(f.MinLevel) {
		return false
	}
	return true
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}
