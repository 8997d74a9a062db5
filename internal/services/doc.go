// Package services defines shared utilities consumed by the orchestrator and
// the enrichment steps.
//
// Key responsibilities:
//   - Context helpers that stamp queue item IDs, step names, pipeline run IDs,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Classify, which tells
//     the orchestrator whether a failure is worth another attempt.
//
// Use these helpers when wiring new step logic so error handling and
// observability stay uniform across the pipeline.
package services
