package resolver

import (
	"strings"

	"github.com/xaenox/opinion-topics/internal/keywords"
)

const (
	nameTokenWeight = 10
	keywordWeight   = 8

	firstPassThreshold  = 5
	secondPassThreshold = 3
)

// Candidate is anything an opinion can be matched against: an existing topic
// or a proposal made earlier in the same batch.
type Candidate struct {
	Name     string
	Category string
	Keywords []string
}

// Score rates how well text fits c: nameTokenWeight per name word found in
// text, keywordWeight per keyword found, plus the largest bonus of a concept
// both sides mention.
func Score(text string, c Candidate) int {
	words := keywords.WordSet(text)
	score := 0

	for _, tok := range keywords.Extract(c.Name, 0) {
		if _, ok := words[tok]; ok {
			score += nameTokenWeight
		}
	}

	seen := make(map[string]struct{}, len(c.Keywords))
	for _, kw := range c.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		if containsPhrase(words, kw) {
			score += keywordWeight
		}
	}

	return score + conceptBonus(words, c)
}

// containsPhrase reports whether every token of phrase is a word of text.
func containsPhrase(words map[string]struct{}, phrase string) bool {
	toks := keywords.Tokenize(phrase)
	if len(toks) == 0 {
		return false
	}
	for _, tok := range toks {
		if _, ok := words[tok]; !ok {
			return false
		}
	}
	return true
}

func conceptBonus(words map[string]struct{}, c Candidate) int {
	label := keywords.WordSet(c.Name + " " + c.Category + " " + strings.Join(c.Keywords, " "))
	best := 0
	for _, concept := range keywords.Concepts {
		if concept.Bonus > best && concept.Mentions(label) && concept.Mentions(words) {
			best = concept.Bonus
		}
	}
	return best
}

// bestMatch returns the index of the highest scoring candidate, -1 when
// there are none. Ties keep the earlier candidate.
func bestMatch(text string, candidates []Candidate) (int, int) {
	best, bestScore := -1, 0
	for i, c := range candidates {
		s := Score(text, c)
		if best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}
