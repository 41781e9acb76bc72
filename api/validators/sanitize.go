package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims s, collapses internal whitespace runs (newlines
// included) to one space, drops control characters and truncates to maxLen
// runes. Truncation counts runes so Vietnamese text is never cut mid-letter.
func SanitizeString(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = n > 0
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if pendingSpace {
			if maxLen > 0 && n+1 >= maxLen {
				break
			}
			b.WriteByte(' ')
			n++
			pendingSpace = false
		}
		if maxLen > 0 && n >= maxLen {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
