// Package match decides whether a player's guess counts as the title of
// the current song. Matching is layered: exact and substring checks run
// first, then a word-overlap heuristic, then an edit-distance fallback
// that forgives small typos.
package match

import (
	"regexp"
	"strings"
)

const (
	// wordOverlapThreshold is the fraction of the title's distinct words
	// that must appear in the guess.
	wordOverlapThreshold = 0.6
	// similarityThreshold is the minimum normalized Levenshtein
	// similarity accepted on the fallback path.
	similarityThreshold = 0.7
)

var (
	parentheticalRe = regexp.MustCompile(`\(.*?\)`)
	featTailRe      = regexp.MustCompile(`\bfeat\.?\b.*$`)
	nonWordRe       = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// Normalize lowercases s, drops parenthesized segments such as "(Remix)",
// drops a "feat." marker and everything after it, maps remaining
// punctuation to spaces, and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = parentheticalRe.ReplaceAllString(s, "")
	s = featTailRe.ReplaceAllString(s, "")
	s = nonWordRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Matches reports whether guess should be accepted as actual.
func Matches(guess, actual string) bool {
	if guess == "" || actual == "" {
		return false
	}

	g := Normalize(guess)
	a := Normalize(actual)
	if g == "" || a == "" {
		return false
	}

	if g == a {
		return true
	}
	if strings.Contains(g, a) || strings.Contains(a, g) {
		return true
	}
	if wordOverlap(g, a) >= wordOverlapThreshold {
		return true
	}
	return similarity(g, a) >= similarityThreshold
}

// wordOverlap returns the fraction of actual's distinct words that also
// appear in guess.
func wordOverlap(guess, actual string) float64 {
	guessWords := make(map[string]struct{})
	for _, w := range strings.Fields(guess) {
		guessWords[w] = struct{}{}
	}

	actualWords := make(map[string]struct{})
	for _, w := range strings.Fields(actual) {
		actualWords[w] = struct{}{}
	}
	if len(actualWords) == 0 {
		return 0
	}

	common := 0
	for w := range actualWords {
		if _, ok := guessWords[w]; ok {
			common++
		}
	}
	return float64(common) / float64(len(actualWords))
}

// similarity returns 1 - editDistance/maxLen over the two strings,
// computed on runes so multi-byte titles are not penalized.
func similarity(s1, s2 string) float64 {
	r1 := []rune(s1)
	r2 := []rune(s2)
	if len(r1) == 0 || len(r2) == 0 {
		return 0
	}

	maxLen := len(r1)
	if len(r2) > maxLen {
		maxLen = len(r2)
	}
	return 1 - float64(levenshtein(r1, r2))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row rolling table.
func levenshtein(r1, r2 []rune) int {
	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := 0; j <= len(r2); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost

			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}
