package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// timeLayout is fixed width so lexical order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

var itemColumnNames = []string{
	"id", "url", "normalized_url", "status_code", "entry_type", "payload", "attempts",
	"rejection_reason", "permanent_failure", "content_hash", "storage_path", "fetch_status",
	"raw_deleted", "discovered_at", "fetched_at", "failed_at", "updated_at", "updated_by",
}

// itemColumns returns the scan column list, optionally qualified by a table alias.
func itemColumns(alias string) []string {
	if alias == "" {
		return itemColumnNames
	}
	out := make([]string, len(itemColumnNames))
	for i, col := range itemColumnNames {
		out[i] = alias + "." + col
	}
	return out
}

func (s *Store) scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id               int64
		url              string
		normalizedURL    string
		statusCode       int
		entryType        sql.NullString
		payload          sql.NullString
		attempts         sql.NullInt64
		rejectionReason  sql.NullString
		permanentFailure sql.NullInt64
		contentHash      sql.NullString
		storagePath      sql.NullString
		fetchStatus      sql.NullString
		rawDeleted       sql.NullInt64
		discoveredRaw    sql.NullString
		fetchedRaw       sql.NullString
		failedRaw        sql.NullString
		updatedRaw       sql.NullString
		updatedBy        sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&url,
		&normalizedURL,
		&statusCode,
		&entryType,
		&payload,
		&attempts,
		&rejectionReason,
		&permanentFailure,
		&contentHash,
		&storagePath,
		&fetchStatus,
		&rawDeleted,
		&discoveredRaw,
		&fetchedRaw,
		&failedRaw,
		&updatedRaw,
		&updatedBy,
	); err != nil {
		return nil, err
	}

	st, err := s.registry.StatusOf(statusCode)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}

	item := &Item{
		ID:               id,
		URL:              url,
		NormalizedURL:    normalizedURL,
		Status:           st,
		EntryType:        EntryType(entryType.String),
		Attempts:         int(attempts.Int64),
		RejectionReason:  rejectionReason.String,
		PermanentFailure: permanentFailure.Int64 != 0,
		ContentHash:      contentHash.String,
		StoragePath:      storagePath.String,
		FetchStatus:      FetchStatus(fetchStatus.String),
		RawDeleted:       rawDeleted.Int64 != 0,
		UpdatedBy:        updatedBy.String,
	}
	if item.EntryType == "" {
		item.EntryType = EntryDiscovered
	}
	raw := payload.String
	if raw == "" {
		raw = "{}"
	}
	item.RawPayload = json.RawMessage(raw)
	if err := json.Unmarshal(item.RawPayload, &item.Payload); err != nil {
		return nil, fmt.Errorf("item %d: decode payload: %w", id, err)
	}

	if discovered, err := parseTimeString(discoveredRaw.String); err == nil {
		item.DiscoveredAt = discovered
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	item.FetchedAt = parseNullableTime(fetchedRaw)
	item.FailedAt = parseNullableTime(failedRaw)
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

// FormatTimestamp renders t in the layout used by every queue database table.
func FormatTimestamp(t time.Time) string {
	return formatTime(t)
}

// ParseTimestamp parses a value written by FormatTimestamp.
func ParseTimestamp(value string) (time.Time, error) {
	return parseTimeString(value)
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func marshalPayload(value any) (string, error) {
	if value == nil {
		return "{}", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if len(data) == 0 || data[0] != '{' {
		return "", fmt.Errorf("payload must be a JSON object, got %.32s", data)
	}
	return string(data), nil
}
