package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var categoryFolder = cases.Fold()

// NormalizeCategory produces the comparison key of a catalog category name.
// "Home & Garden", "home  and garden" and "ＨＯＭＥ & Garden" share one key.
func NormalizeCategory(name string) string {
	folded := categoryFolder.String(norm.NFKC.String(name))
	folded = strings.ReplaceAll(folded, "&", " and ")
	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// CategoryContains reports whether candidate is a word-aligned part of query, so a specific
// query such as "automotive tools" can use an "automotive" rule but not the other way round.
// It returns the candidate length on a match so callers can prefer the most specific rule.
func CategoryContains(query, candidate string) (int, bool) {
	if query == "" || candidate == "" {
		return 0, false
	}
	if containsWords(query, candidate) {
		return len(candidate), true
	}
	return 0, false
}

func containsWords(haystack, needle string) bool {
	padded := " " + haystack + " "
	return strings.Contains(padded, " "+needle+" ")
}
