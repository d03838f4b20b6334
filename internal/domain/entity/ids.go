package entity

import (
	"strings"
	"unicode"
)

// NormalizeID canonicalises a user or record identifier for comparison.
// Spreadsheet-style leading apostrophes and all whitespace are removed.
func NormalizeID(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimLeft(v, "'")
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, v)
}

// SameID reports whether two identifiers refer to the same principal
func SameID(a, b string) bool {
	na := NormalizeID(a)
	return na != "" && na == NormalizeID(b)
}

// SplitList splits a comma separated cell into trimmed, non-empty values
func SplitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
