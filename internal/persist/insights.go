package persist

import (
	"sort"

	"github.com/xaenox/opinion-topics/internal/models"
)

// Insights ranks topics with at least one opinion by size. Share is the
// topic's fraction of all assigned opinions.
func Insights(topics []*models.Topic) []models.Insight {
	total := 0
	for _, t := range topics {
		total += t.Count
	}

	out := make([]models.Insight, 0, len(topics))
	if total == 0 {
		return out
	}
	for _, t := range topics {
		if t.Count == 0 {
			continue
		}
		out = append(out, models.Insight{
			TopicID:      t.ID,
			TopicName:    t.Name,
			OpinionCount: t.Count,
			Share:        float64(t.Count) / float64(total),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OpinionCount != out[j].OpinionCount {
			return out[i].OpinionCount > out[j].OpinionCount
		}
		return out[i].TopicName < out[j].TopicName
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
