// Package match scores how well free-text product names correspond to each other.
package match

import (
	"strings"
	"unicode"
)

// Fields splits s into lower-cased alphanumeric words in order.
func Fields(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Words splits s into its distinct lower-cased alphanumeric words.
func Words(s string) map[string]struct{} {
	fields := Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// KeywordOverlap returns the fraction of the query's words that also appear in
// the candidate. An empty query scores 0.
func KeywordOverlap(query, candidate string) float64 {
	q := Words(query)
	if len(q) == 0 {
		return 0
	}
	c := Words(candidate)
	matched := 0
	for w := range q {
		if _, ok := c[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(q))
}

// MainKeyword returns the first word of the product name, or the trimmed name
// itself when it has no word characters.
func MainKeyword(product string) string {
	fields := Fields(product)
	if len(fields) == 0 {
		return strings.TrimSpace(product)
	}
	return fields[0]
}

// ContainsFold reports whether substr appears in s, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
