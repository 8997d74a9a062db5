package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var htmlStripper = bluemonday.StrictPolicy()

// StripHTML removes all markup, decodes entities and collapses whitespace
// into single spaces.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	return CollapseSpace(html.UnescapeString(htmlStripper.Sanitize(s)))
}

// CollapseSpace joins whitespace runs into single spaces and trims the ends.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CleanLines collapses whitespace within each line and drops blank lines so
// paragraph breaks survive as single newlines.
func CleanLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = CollapseSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// FirstNonEmpty returns the first value that is not blank, trimmed.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
