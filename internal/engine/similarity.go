package engine

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// tokenize splits free text into a set of lowercase alphanumeric tokens.
// Single-character tokens carry no signal in bank references and are dropped.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var b strings.Builder

	flush := func() {
		if b.Len() > 1 {
			tokens[b.String()] = struct{}{}
		}
		b.Reset()
	}

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// tokenJaccard computes the Jaccard similarity of the token sets of two
// strings: |intersection| / |union|, in [0, 1].
func tokenJaccard(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	intersection := 0
	for token := range tokensA {
		if _, ok := tokensB[token]; ok {
			intersection++
		}
	}

	union := len(tokensA) + len(tokensB) - intersection
	return float64(intersection) / float64(union)
}

// nameSimilarity computes normalized Levenshtein similarity between two
// strings: 1 at identical, 0 at completely different.
func nameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	distance := levenshtein.ComputeDistance(a, b)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	return 1 - float64(distance)/float64(longest)
}
