package logging

import "time"

const (
	consoleTimestampLayout = "2006-01-02 15:04:05"
	journalTimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// formatTimestamp renders console timestamps in local time.
func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(time.Local).Format(consoleTimestampLayout)
}

// formatJournalTimestamp renders gleaner.log timestamps in UTC with
// millisecond precision so lines from one batch sort correctly.
func formatJournalTimestamp(ts time.Time) string {
	return ts.UTC().Format(journalTimestampLayout)
}
