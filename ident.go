package agentworld

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// identStripper removes combining marks after NFKD decomposition, so
// "Café Crew" folds to "cafe-crew" rather than dropping the accented rune.
var identStripper = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// KebabCase derives a stable kebab-cased identifier from a display name.
// Unicode letters are folded to their ASCII base where possible; every run
// of non-alphanumeric characters collapses to a single hyphen.
func KebabCase(name string) string {
	folded, _, err := transform.String(identStripper, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ValidIdent reports whether s is a well-formed kebab-case identifier:
// non-empty, starts with a letter, and contains only lowercase letters,
// digits, and single hyphens.
func ValidIdent(s string) bool {
	if s == "" {
		return false
	}
	if s[0] < 'a' || s[0] > 'z' {
		return false
	}
	prevHyphen := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevHyphen = false
		case c == '-':
			if prevHyphen || i == len(s)-1 {
				return false
			}
			prevHyphen = true
		default:
			return false
		}
	}
	return true
}
