package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gleaner/internal/api"
)

func buildQueueStatusRows(stats map[string]int, includeEmpty bool) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key, count := range stats {
		if count == 0 && !includeEmpty {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), strconv.Itoa(stats[key])})
	}
	return rows
}

func buildQueueListRows(items []api.QueueItem, maxAttempts int) [][]string {
	if len(items) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			api.ItemTitle(item),
			formatStatusLabel(item.Status),
			api.AttemptsLabel(item.Attempts, maxAttempts),
			formatDisplayTime(item.DiscoveredAt),
		})
	}
	return rows
}

func buildRunRows(runs []api.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		steps := make([]string, 0, len(run.Steps))
		for _, step := range run.Steps {
			steps = append(steps, fmt.Sprintf("%s:%s", step.Step, step.Status))
		}
		rows = append(rows, []string{
			strconv.FormatInt(run.ID, 10),
			run.Trigger,
			run.Status,
			formatDisplayTime(run.StartedAt),
			strings.Join(steps, " "),
			run.Error,
		})
	}
	return rows
}

func buildHistoryRows(history []api.HistoryEntry) [][]string {
	rows := make([][]string, 0, len(history))
	for _, entry := range history {
		from := entry.From
		if from == "" {
			from = "-"
		}
		manual := ""
		if entry.Manual {
			manual = "yes"
		}
		rows = append(rows, []string{
			formatDisplayTime(entry.CreatedAt),
			from,
			entry.To,
			entry.Actor,
			manual,
		})
	}
	return rows
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	parts := strings.Split(status, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	return value
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
