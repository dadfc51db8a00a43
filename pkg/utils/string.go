package utils

import "unicode/utf8"

// Truncate cuts s to at most maxLen runes and appends "..." when it cuts.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
