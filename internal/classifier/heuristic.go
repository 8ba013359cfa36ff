package classifier

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xaenox/opinion-topics/internal/keywords"
	"github.com/xaenox/opinion-topics/internal/models"
)

const (
	headlineWords    = 5
	maxNameRunes     = 80
	maxSummaryRunes  = 200
	heuristicKeyword = 5
)

// HeuristicProposal derives a topic for a single opinion from its own text:
// a concept label from keyword matching plus the opinion's opening words.
func HeuristicProposal(o *models.Opinion, confidence float64) *models.TopicProposal {
	label := keywords.Categorize(o.Content)

	name := label
	if head := headline(o.Content); head != "" {
		name = label + ": " + head
	}

	if confidence > models.FallbackConfidence {
		confidence = models.FallbackConfidence
	}

	return &models.TopicProposal{
		Name:       truncate(name, maxNameRunes),
		Category:   strings.ToLower(label),
		Summary:    truncate(strings.Join(strings.Fields(o.Content), " "), maxSummaryRunes),
		Keywords:   keywords.Extract(o.Content, heuristicKeyword),
		OpinionIDs: []string{o.ID},
		Confidence: confidence,
	}
}

// Fallback gives every opinion of the batch its own heuristic topic.
func Fallback(batch []*models.Opinion, rationale string) []models.Assignment {
	out := make([]models.Assignment, 0, len(batch))
	for _, o := range batch {
		out = append(out, synthesized(o, rationale, true))
	}
	return out
}

func synthesized(o *models.Opinion, rationale string, withProposal bool) models.Assignment {
	a := models.Assignment{
		OpinionID:   o.ID,
		Kind:        models.AssignUnresolved,
		Confidence:  models.FallbackConfidence,
		Rationale:   rationale,
		Synthesized: true,
	}
	if withProposal {
		a.NewTopic = HeuristicProposal(o, models.FallbackConfidence)
	}
	return a
}

func headline(content string) string {
	words := strings.Fields(content)
	if len(words) > headlineWords {
		words = words[:headlineWords]
	}
	head := strings.Join(words, " ")
	return strings.TrimRightFunc(head, func(r rune) bool {
		return unicode.IsPunct(r)
	})
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max]))
}
