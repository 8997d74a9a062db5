package api

import (
	"fmt"
	"strings"

	"gleaner/internal/status"
)

// ParseStatusFilter turns status or phase names into a status list. Values
// may be repeated or comma separated; a phase name such as "ready" expands
// to every status in that phase.
func ParseStatusFilter(values []string) ([]status.Status, error) {
	var out []status.Status
	seen := make(map[status.Status]bool)
	add := func(s status.Status) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if s, ok := status.Parse(part); ok {
				add(s)
				continue
			}
			phase := status.ParsePhase(part)
			if phase == status.PhaseUnknown {
				return nil, fmt.Errorf("unknown status or phase %q", part)
			}
			for _, s := range status.All() {
				if s.Phase() == phase {
					add(s)
				}
			}
		}
	}
	return out, nil
}
