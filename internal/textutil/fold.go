package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Fold returns s in NFKC form and lower case, for substring matching that
// ignores case and compatibility variants such as full-width letters.
func Fold(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// ContainsFold reports whether phrase occurs in s after folding both.
// A blank phrase never matches.
func ContainsFold(s, phrase string) bool {
	phrase = Fold(strings.TrimSpace(phrase))
	return phrase != "" && strings.Contains(Fold(s), phrase)
}

// Slug lowercases s and joins runs of characters other than letters, digits,
// '+' and '.' into single dashes. A leading '#' is dropped.
func Slug(s string) string {
	s = strings.TrimPrefix(Fold(strings.TrimSpace(s)), "#")
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '.':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.Trim(b.String(), "-.")
}
