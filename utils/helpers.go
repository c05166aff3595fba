package utils

import "strings"

// Keyword maps a set of substrings to the label they imply.
type Keyword struct {
	Label    string
	Contains []string
}

// MatchKeyword returns the label of the first entry whose substrings occur in s
// (case-insensitive), or fallback.
func MatchKeyword(s string, table []Keyword, fallback string) string {
	lower := strings.ToLower(s)
	for _, k := range table {
		for _, sub := range k.Contains {
			if strings.Contains(lower, sub) {
				return k.Label
			}
		}
	}
	return fallback
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
