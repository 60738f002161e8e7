package memory

import (
	"regexp"
	"strings"
)

// maxKeywords caps how many tokens are indexed per memory.
const maxKeywords = 10

// minKeywordLen excludes short tokens that index poorly.
const minKeywordLen = 4

// nonWord splits content on runs of non-word characters.
var nonWord = regexp.MustCompile(`\W+`)

var stopWords = map[string]struct{}{
	"the": {}, "is": {}, "at": {}, "which": {}, "on": {}, "a": {}, "an": {},
	"and": {}, "or": {}, "but": {}, "in": {}, "with": {}, "to": {}, "for": {},
	"of": {}, "as": {}, "by": {}, "that": {}, "this": {}, "it": {}, "from": {},
	"be": {}, "are": {}, "was": {}, "were": {}, "been": {},
}

// Keywords extracts the indexable tokens from content: lowercased, split on
// non-word runs, longer than three characters, stop words dropped, capped at
// the first ten surviving tokens. Duplicates are removed while preserving
// first-seen order.
func Keywords(content string) []string {
	fields := nonWord.Split(strings.ToLower(content), -1)
	seen := make(map[string]struct{}, maxKeywords)
	words := make([]string, 0, maxKeywords)
	for _, w := range fields {
		if len(w) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
		if len(words) == maxKeywords {
			break
		}
	}
	return words
}

// wordSet builds the whitespace-split token set used by Jaccard.
func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard computes |A ∩ B| / |A ∪ B| over whitespace-split word sets. Two
// empty strings are considered identical.
func Jaccard(a, b string) float64 {
	sa, sb := wordSet(a), wordSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	intersection := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
