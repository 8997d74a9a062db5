// Package api defines the HTTP trigger surface and the wire-format types it
// shares with the CLI. It translates queue and tracker records into
// transport-friendly DTOs so consumers never depend on internal types.
//
// # Key Types
//
// QueueItem: transport representation of a queue entry with its payload,
// retry bookkeeping, and rejection reason.
//
// ItemDetail: a queue item together with its pipeline runs and step runs.
//
// WorkflowStatus: daemon running state, queue stats, stage health, and the
// last batch report.
//
// # Server
//
// NewServer builds a gin engine exposing item enrichment, single-step runs,
// batch passes, and read-only queue views. When a token is configured every
// /api route requires "Authorization: Bearer <token>". Errors use a single
// envelope: {"error": "..."}.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Status names are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds. Payloads and step
// snapshots are passed through as json.RawMessage to avoid double-encoding.
package api
