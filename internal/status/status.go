package status

import "strings"

// Status is the symbolic workflow position of a queue item.
type Status string

const (
	Pending Status = "pending"

	Fetching     Status = "fetching"
	Filtering    Status = "filtering"
	Summarizing  Status = "summarizing"
	Tagging      Status = "tagging"
	Thumbnailing Status = "thumbnailing"

	ToFilter    Status = "to_filter"
	ToSummarize Status = "to_summarize"
	ToTag       Status = "to_tag"
	ToThumbnail Status = "to_thumbnail"

	PendingReview Status = "pending_review"
	Irrelevant    Status = "irrelevant"
	Rejected      Status = "rejected"
	Failed        Status = "failed"
)

// Phase partitions statuses by what they mean for the orchestrator.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseDiscovery
	PhaseWorking
	PhaseReady
	PhaseReview
	PhaseRejected
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseDiscovery:
		return "discovery"
	case PhaseWorking:
		return "working"
	case PhaseReady:
		return "ready"
	case PhaseReview:
		return "review"
	case PhaseRejected:
		return "rejected"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParsePhase converts the persisted phase label back into a Phase.
func ParsePhase(value string) Phase {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "discovery":
		return PhaseDiscovery
	case "working":
		return PhaseWorking
	case "ready":
		return PhaseReady
	case "review":
		return PhaseReview
	case "rejected":
		return PhaseRejected
	case "failed":
		return PhaseFailed
	default:
		return PhaseUnknown
	}
}

var allStatuses = []Status{
	Pending,
	Fetching,
	ToFilter,
	Filtering,
	ToSummarize,
	Summarizing,
	ToTag,
	Tagging,
	ToThumbnail,
	Thumbnailing,
	PendingReview,
	Irrelevant,
	Rejected,
	Failed,
}

// All returns every known status in workflow order.
func All() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// Parse converts a string into a known Status.
func Parse(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// Phase reports which phase the status belongs to.
func (s Status) Phase() Phase {
	switch s {
	case Pending:
		return PhaseDiscovery
	case Fetching, Filtering, Summarizing, Tagging, Thumbnailing:
		return PhaseWorking
	case ToFilter, ToSummarize, ToTag, ToThumbnail:
		return PhaseReady
	case PendingReview:
		return PhaseReview
	case Irrelevant, Rejected:
		return PhaseRejected
	case Failed:
		return PhaseFailed
	default:
		return PhaseUnknown
	}
}

// IsWorking reports whether a step is executing while the item holds s.
func (s Status) IsWorking() bool { return s.Phase() == PhaseWorking }

// IsTerminal reports whether s ends the workflow.
func (s Status) IsTerminal() bool {
	switch s.Phase() {
	case PhaseReview, PhaseRejected, PhaseFailed:
		return true
	default:
		return false
	}
}

// IsSelectable reports whether a batch sweep may pick up an item in s.
func (s Status) IsSelectable() bool {
	switch s.Phase() {
	case PhaseDiscovery, PhaseReady:
		return true
	default:
		return false
	}
}

// Selectable returns the statuses a batch sweep picks up.
func Selectable() []Status {
	out := make([]Status, 0, 5)
	for _, s := range allStatuses {
		if s.IsSelectable() {
			out = append(out, s)
		}
	}
	return out
}

// Working returns every working status.
func Working() []Status {
	out := make([]Status, 0, 5)
	for _, s := range allStatuses {
		if s.IsWorking() {
			out = append(out, s)
		}
	}
	return out
}
