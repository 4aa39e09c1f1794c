package catalog

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	bracketed   = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]|\{[^}]*\}`)
	priceSuffix = regexp.MustCompile(`[\s-]*\$\s*[\d,]+(\.\d{1,2})?\s*$`)
)

// CanonicalKey reduces a test name to the form used for catalog matching:
// lowercase, bracketed qualifiers and a trailing price removed, separators
// turned into spaces, punctuation dropped and whitespace collapsed.
// CanonicalKey(CanonicalKey(s)) == CanonicalKey(s) for every s.
func CanonicalKey(s string) string {
	s = strings.ToLower(s)
	s = bracketed.ReplaceAllString(s, " ")
	s = priceSuffix.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '-' || r == '_' || r == '/' || unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
