package strings

import "strings"

// MinTruncateLen leaves room for one character plus "...".
const MinTruncateLen = 4

// Truncate collapses all whitespace runs of s into single spaces and cuts
// the result to maxLen runes, ending it with "..." when anything was cut.
// maxLen values below MinTruncateLen are raised to it.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
