package resolver

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minValidRunes = 2
	maxValidRunes = 1000
	maxCharRun    = 10
)

// Valid is the minimal quality bar an opinion needs to be attached to a
// real topic. Content that fails it is quarantined.
func Valid(content string) bool {
	s := strings.TrimSpace(content)
	n := utf8.RuneCountInString(s)
	if n < minValidRunes || n > maxValidRunes {
		return false
	}

	distinct := make(map[rune]struct{})
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= maxCharRun {
			return false
		}
		if !unicode.IsSpace(r) {
			distinct[r] = struct{}{}
		}
	}
	return len(distinct) >= 2
}
