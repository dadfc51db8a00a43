package graph

import (
	"strings"
	"unicode"
)

// Canonicalize returns the dedup key for an entity name.
func Canonicalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeRelation turns a relation label into lowercase snake_case:
// "Works At" and "works-at" both become "works_at".
func NormalizeRelation(label string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// NormalizeType lowercases an entity type, defaulting to DefaultEntityType.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return DefaultEntityType
	}
	return t
}

// MentionText renders a fact as the sentence stored on its mentions.
func MentionText(subject, relation, object string) string {
	return subject + " " + strings.ReplaceAll(relation, "_", " ") + " " + object
}

// Truncate clips s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
