package features

import (
	"sort"
	"strings"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

// lexicon matches single- and multi-word phrases against a token stream.
// Longer phrases are tried first and matched tokens are consumed, so
// "you know" counts once and its "know" is never matched again.
type lexicon struct {
	phrases [][]string
}

func newLexicon(entries []string) *lexicon {
	seen := make(map[string]bool, len(entries))
	var phrases [][]string
	for _, e := range entries {
		toks := domain.Tokenize(e)
		if len(toks) == 0 {
			continue
		}
		key := strings.Join(toks, " ")
		if seen[key] {
			continue
		}
		seen[key] = true
		phrases = append(phrases, toks)
	}
	sort.SliceStable(phrases, func(i, j int) bool { return len(phrases[i]) > len(phrases[j]) })
	return &lexicon{phrases: phrases}
}

// count returns the number of non-overlapping phrase matches in words.
func (l *lexicon) count(words []string) int {
	n := 0
	for i := 0; i < len(words); {
		matched := 0
		for _, p := range l.phrases {
			if hasPrefixTokens(words[i:], p) {
				matched = len(p)
				break
			}
		}
		if matched > 0 {
			n++
			i += matched
			continue
		}
		i++
	}
	return n
}

func hasPrefixTokens(words, phrase []string) bool {
	if len(phrase) > len(words) {
		return false
	}
	for i, t := range phrase {
		if words[i] != t {
			return false
		}
	}
	return true
}
