package status

import (
	"fmt"
	"strings"
)

// Step names one enrichment step. The order is fixed.
type Step string

const (
	StepNone      Step = ""
	StepFetch     Step = "fetch"
	StepFilter    Step = "filter"
	StepSummarize Step = "summarize"
	StepTag       Step = "tag"
	StepThumbnail Step = "thumbnail"
)

var stepOrder = []Step{StepFetch, StepFilter, StepSummarize, StepTag, StepThumbnail}

// Steps returns the fixed step sequence.
func Steps() []Step {
	cp := make([]Step, len(stepOrder))
	copy(cp, stepOrder)
	return cp
}

// ParseStep converts user input into a Step.
func ParseStep(value string) (Step, error) {
	normalized := Step(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range stepOrder {
		if s == normalized {
			return s, nil
		}
	}
	return StepNone, fmt.Errorf("unknown step %q", value)
}

// Next returns the step following s, or StepNone after the last one.
func (s Step) Next() Step {
	for i, candidate := range stepOrder {
		if candidate == s && i+1 < len(stepOrder) {
			return stepOrder[i+1]
		}
	}
	return StepNone
}

// Index returns the position of s in the sequence, or -1.
func (s Step) Index() int {
	for i, candidate := range stepOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// WorkingFor returns the working status held while step runs.
func WorkingFor(step Step) Status {
	switch step {
	case StepFetch:
		return Fetching
	case StepFilter:
		return Filtering
	case StepSummarize:
		return Summarizing
	case StepTag:
		return Tagging
	case StepThumbnail:
		return Thumbnailing
	default:
		return ""
	}
}

// ReadyFor returns the resume status from which step starts.
func ReadyFor(step Step) Status {
	switch step {
	case StepFetch:
		return Pending
	case StepFilter:
		return ToFilter
	case StepSummarize:
		return ToSummarize
	case StepTag:
		return ToTag
	case StepThumbnail:
		return ToThumbnail
	default:
		return ""
	}
}

// ReadyAfterWorking maps a working status back to the resume status of the
// same step. Non-working statuses map to themselves.
func ReadyAfterWorking(s Status) Status {
	switch s {
	case Fetching:
		return Pending
	case Filtering:
		return ToFilter
	case Summarizing:
		return ToSummarize
	case Tagging:
		return ToTag
	case Thumbnailing:
		return ToThumbnail
	default:
		return s
	}
}

// ResumePointFor returns the step an item in s should run next. Working and
// terminal statuses have no resume point.
func ResumePointFor(s Status) (Step, bool) {
	switch s {
	case Pending:
		return StepFetch, true
	case ToFilter:
		return StepFilter, true
	case ToSummarize:
		return StepSummarize, true
	case ToTag:
		return StepTag, true
	case ToThumbnail:
		return StepThumbnail, true
	default:
		return StepNone, false
	}
}
