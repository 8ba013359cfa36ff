// Package keywords tokenizes free text for topic keywords and similarity
// scoring.
package keywords

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "all": {},
	"any": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {}, "out": {},
	"has": {}, "have": {}, "this": {}, "that": {}, "with": {}, "from": {}, "they": {}, "will": {},
	"would": {}, "there": {}, "their": {}, "what": {}, "about": {}, "which": {}, "when": {},
	"into": {}, "than": {}, "then": {}, "them": {}, "these": {}, "some": {}, "very": {}, "too": {},
	"also": {}, "just": {}, "more": {}, "most": {}, "such": {}, "only": {}, "its": {},
	"is": {}, "it": {}, "to": {}, "of": {}, "in": {}, "on": {}, "a": {}, "an": {}, "be": {},
	"or": {}, "as": {}, "at": {}, "by": {}, "we": {}, "i": {}, "my": {}, "so": {}, "do": {},
	"topic": {}, "topics": {}, "opinion": {}, "opinions": {},
}

// Tokenize lower-cases text and splits it into word tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Extract returns up to max distinct, non-stopword tokens in first-seen
// order. max <= 0 means no limit.
func Extract(text string, max int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range Tokenize(text) {
		if !significant(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// WordSet is the set of tokens in text.
func WordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

func significant(tok string) bool {
	if _, stop := stopwords[tok]; stop {
		return false
	}
	n := utf8.RuneCountInString(tok)
	if n >= 3 {
		return true
	}
	// short tokens in scripts without spaces (e.g. CJK) still carry meaning
	r, _ := utf8.DecodeRuneInString(tok)
	return n >= 2 && r > unicode.MaxASCII
}
