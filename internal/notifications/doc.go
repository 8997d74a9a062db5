// Package notifications publishes ntfy push notifications for items that
// need a human: permanent failures, fatal rejections, and batch summaries.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers publish unconditionally. Delivery failures are returned to the
// caller, which logs them; a notification never changes an item's status.
package notifications
