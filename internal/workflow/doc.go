// Package workflow moves queue items through the enrichment steps.
//
// The Orchestrator runs one item at a time under an exclusive lease: it
// resolves the resume point from the item's status (or the caller's
// ResumeContext), walks fetch, filter, summarize, tag and thumbnail through
// their working and ready statuses, records pipeline and step runs, and
// applies the retry and escalation policy when a step fails. The Sweeper
// resets items a crashed run left in a working status, Batch runs a sweep
// followed by a bounded pass over ready items, and Manager repeats batches on
// a polling loop inside the daemon.
//
// Status moves always go through queue.Store.Transition so every change is
// audited; nothing in this package writes status codes directly.
package workflow
