// Package queue persists enrichment items in SQLite and exposes the only
// sanctioned way of moving them through the workflow.
//
// The Store manages database connections, goose migrations, the status code
// registry, URL de-duplication on enqueue, stats queries, per-item leases and
// stuck-item listings. Transition is the Transition Manager: every status
// change, together with its payload merge and typed column updates, is applied
// in one transaction and recorded in status_history with the acting component.
//
// Status codes are persisted as integers configured in the status_codes table.
// Code outside this package works with status.Status values and never sees the
// numbers.
package queue
