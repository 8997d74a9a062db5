// Package logs tails the daemon's JSON log file with bounded memory and
// optional structured filtering.
//
// A negative offset means "the last N matching lines"; the returned offset
// lets follow-mode callers resume where the previous read stopped. Filters
// match on the item_id, component, and level keys written by the logging
// package, so only JSON lines pass a non-empty filter.
package logs
