package stage

import (
	"strings"
	"unicode/utf8"

	"gleaner/internal/services"
)

// RequireText returns a validation error when value is blank. Steps use it for
// outputs the workflow cannot continue without.
func RequireText(stage, field, value string) error {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return services.Wrap(
		services.ErrValidation, stage, "validate output",
		field+" is empty", nil)
}

// Truncate shortens text to at most limit runes, cutting at a word boundary
// when one is near.
func Truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:limit])
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
