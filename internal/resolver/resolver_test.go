package resolver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/opinion-topics/internal/classifier"
	"github.com/xaenox/opinion-topics/internal/models"
)

func op(id, content string) *models.Opinion {
	return &models.Opinion{ID: id, ProjectID: "p1", Content: content}
}

func newTopic(name string, conf float64) *models.TopicProposal {
	return &models.TopicProposal{Name: name, Confidence: conf}
}

func proposalByName(t *testing.T, res *Result, name string) *models.TopicProposal {
	t.Helper()
	for _, p := range res.NewTopicProposals {
		if p.Name == name {
			return p
		}
	}
	require.Failf(t, "proposal not found", "name %q", name)
	return nil
}

func TestScore(t *testing.T) {
	t.Parallel()

	billing := Candidate{Name: "billing", Keywords: []string{"fee", "cost"}}
	assert.GreaterOrEqual(t, Score("the fee is too high", billing), 10)

	tests := []struct {
		name string
		text string
		c    Candidate
		want int
	}{
		{"name overlap", "billing is wrong", Candidate{Name: "Billing"}, 10 + 5},
		{"keyword", "my fee doubled", Candidate{Name: "Money", Keywords: []string{"fee"}}, 8 + 5},
		{"multi-word keyword", "dark mode please", Candidate{Name: "Themes", Keywords: []string{"dark mode"}}, 8},
		{"no shared concept", "so slow today", Candidate{Name: "Onboarding"}, 0},
		{"concept both sides", "so slow today", Candidate{Name: "Speed issues", Keywords: []string{"lag"}}, 5},
		{"nothing", "nice colors", Candidate{Name: "Billing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Score(tt.text, tt.c))
		})
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		content string
		want    bool
	}{
		{"ok", true},
		{"a", false},
		{"   x   ", false},
		{"aaaaaaaaaa", false},
		{"great!!!!!!!!!!", false},
		{"!!", false},
		{"a a a a", false},
		{strings.Repeat("ab", 501), false},
		{"the fee is too high", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Valid(tt.content), tt.content)
	}
}

func TestResolve_ExplicitReferences(t *testing.T) {
	t.Parallel()

	existing := []*models.Topic{
		{ID: "t-billing", Name: "Billing"},
		{ID: "t-speed", Name: "Speed"},
	}
	opinions := []*models.Opinion{op("o1", "fees"), op("o2", "slow"), op("o3", "slow again"), op("o4", "dark mode")}
	assignments := []models.Assignment{
		{OpinionID: "o1", Kind: models.AssignExisting, TopicRef: models.IntReference(1), Confidence: 0.9},
		{OpinionID: "o2", Kind: models.AssignExisting, TopicRef: models.NewReference("t-speed"), Confidence: 0.8},
		{OpinionID: "o3", Kind: models.AssignNew, NewTopic: newTopic("  speed ", 0.7), Confidence: 0.7},
		{OpinionID: "o4", Kind: models.AssignNew, NewTopic: newTopic("Dark mode", 0.6), Confidence: 0.6},
	}

	res := New(zaptest.NewLogger(t)).Resolve(assignments, opinions, existing)

	require.Len(t, res.ExistingAssignments, 3)
	assert.Equal(t, "t-billing", res.ExistingAssignments[0].TopicID)
	assert.Equal(t, "t-speed", res.ExistingAssignments[1].TopicID)
	assert.Equal(t, "t-speed", res.ExistingAssignments[2].TopicID, "name collision becomes a link")
	require.Len(t, res.NewTopicProposals, 1)
	assert.Equal(t, []string{"o4"}, res.NewTopicProposals[0].OpinionIDs)
	assert.Equal(t, 4, res.Placed())
	assert.InDelta(t, 0.9, res.Confidence["o1"], 1e-9)
}

func TestResolve_DedupMergesProposals(t *testing.T) {
	t.Parallel()

	opinions := []*models.Opinion{op("o1", "a"), op("o2", "b"), op("o3", "c")}
	assignments := []models.Assignment{
		{OpinionID: "o1", Kind: models.AssignNew, NewTopic: &models.TopicProposal{Name: "Dark Mode", Keywords: []string{"dark"}}, Confidence: 0.6},
		{OpinionID: "o2", Kind: models.AssignNew, NewTopic: &models.TopicProposal{Name: "dark  mode", Summary: "Wants a dark theme", Keywords: []string{"theme"}}, Confidence: 0.9},
		{OpinionID: "o3", Kind: models.AssignNew, NewTopic: newTopic("Exports", 0.8), Confidence: 0.8},
	}

	res := New(zaptest.NewLogger(t)).Resolve(assignments, opinions, nil)

	require.Len(t, res.NewTopicProposals, 2)
	dark := res.NewTopicProposals[0]
	assert.Equal(t, "Dark Mode", dark.Name)
	assert.Equal(t, []string{"o1", "o2"}, dark.OpinionIDs)
	assert.Equal(t, "Wants a dark theme", dark.Summary)
	assert.Equal(t, []string{"dark", "theme"}, dark.Keywords)
	assert.InDelta(t, 0.9, dark.Confidence, 1e-9)
	assert.Equal(t, []string{"exports"}, res.NewTopicProposals[1].Keywords)
}

func TestResolve_CompletionFailureMatchesExistingTopic(t *testing.T) {
	t.Parallel()

	existing := []*models.Topic{{ID: "t-billing", Name: "billing", Keywords: []string{"fee", "cost"}}}
	opinions := []*models.Opinion{op("o1", "the fee is too high")}
	assignments := []models.Assignment{{
		OpinionID:   "o1",
		Kind:        models.AssignUnresolved,
		Confidence:  models.FallbackConfidence,
		Rationale:   models.RationaleCompletionFailed,
		Synthesized: true,
	}}

	res := New(zaptest.NewLogger(t)).Resolve(assignments, opinions, existing)

	require.Len(t, res.ExistingAssignments, 1)
	got := res.ExistingAssignments[0]
	assert.Equal(t, "t-billing", got.TopicID)
	assert.Equal(t, models.RationaleSimilarity, got.Rationale)
	assert.LessOrEqual(t, got.Confidence, models.FallbackConfidence)
	assert.Empty(t, res.NewTopicProposals)
}

func TestResolve_ParseFailureKeepsOneTopicPerOpinion(t *testing.T) {
	t.Parallel()

	opinions := []*models.Opinion{op("o1", "the fee is too high"), op("o2", "app crashes"), op("o3", "love it")}
	res := New(zaptest.NewLogger(t)).Resolve(classifier.Fallback(opinions, models.RationaleParseFailed), opinions, nil)

	require.Len(t, res.NewTopicProposals, 3)
	for i, p := range res.NewTopicProposals {
		assert.Equal(t, []string{opinions[i].ID}, p.OpinionIDs)
		assert.LessOrEqual(t, p.Confidence, models.FallbackConfidence)
	}
}

func TestResolve_OmittedOpinionJoinsMatchingProposal(t *testing.T) {
	t.Parallel()

	opinions := []*models.Opinion{op("o1", "checkout is slow"), op("o2", "search is slow too")}
	assignments := []models.Assignment{
		{OpinionID: "o1", Kind: models.AssignNew, NewTopic: &models.TopicProposal{Name: "Slow pages", Keywords: []string{"slow"}}, Confidence: 0.9},
		{OpinionID: "o2", Kind: models.AssignUnresolved, Synthesized: true, Rationale: models.RationaleOmitted,
			NewTopic: classifier.HeuristicProposal(opinions[1], models.FallbackConfidence), Confidence: models.FallbackConfidence},
	}

	res := New(zaptest.NewLogger(t)).Resolve(assignments, opinions, nil)

	require.Len(t, res.NewTopicProposals, 1)
	assert.Equal(t, []string{"o1", "o2"}, res.NewTopicProposals[0].OpinionIDs)
}

func TestResolve_Leftovers(t *testing.T) {
	t.Parallel()

	existing := []*models.Topic{{ID: "t-first", Name: "Onboarding"}, {ID: "t-second", Name: "Exports"}}
	opinions := []*models.Opinion{op("o1", "zzzzzzzzzzzz"), op("o2", "nice colors"), op("o3", "a")}
	assignments := []models.Assignment{
		{OpinionID: "o1", Kind: models.AssignUnresolved},
		{OpinionID: "o2", Kind: models.AssignExisting, TopicRef: models.IntReference(42)},
		// o3 has no assignment at all
	}

	res := New(zaptest.NewLogger(t)).Resolve(assignments, opinions, existing)

	require.Len(t, res.ExistingAssignments, 1)
	assert.Equal(t, ExistingAssignment{OpinionID: "o2", TopicID: "t-first", Confidence: forcedConfidence, Rationale: models.RationaleForced}, res.ExistingAssignments[0])

	misc := proposalByName(t, res, MiscTopicName)
	assert.Equal(t, []string{"o1", "o3"}, misc.OpinionIDs)
	assert.Equal(t, 3, res.Placed())
}

func TestResolve_InvalidJoinsExistingMiscTopic(t *testing.T) {
	t.Parallel()

	existing := []*models.Topic{{ID: "t-misc", Name: "miscellaneous / invalid"}}
	opinions := []*models.Opinion{op("o1", "??")}

	res := New(zaptest.NewLogger(t)).Resolve([]models.Assignment{{OpinionID: "o1"}}, opinions, existing)

	require.Len(t, res.ExistingAssignments, 1)
	assert.Equal(t, "t-misc", res.ExistingAssignments[0].TopicID)
	assert.Empty(t, res.NewTopicProposals)
}

func TestResolve_ValidOpinionNeverJoinsMiscTopic(t *testing.T) {
	t.Parallel()

	misc := &models.Topic{
		ID: "t-misc", Name: MiscTopicName, Category: "invalid",
		Keywords: []string{"miscellaneous", "invalid", "short", "long", "repetitive", "classify"},
	}

	t.Run("forced onto the first regular topic", func(t *testing.T) {
		existing := []*models.Topic{misc, {ID: "t-billing", Name: "Billing"}}
		opinions := []*models.Opinion{op("o1", "the signup form is way too long"), op("o2", "aaaaaaaaaaaaaa")}
		assignments := []models.Assignment{
			{OpinionID: "o1", Kind: models.AssignUnresolved, Synthesized: true},
			{OpinionID: "o2", Kind: models.AssignUnresolved, Synthesized: true},
		}

		res := New(zaptest.NewLogger(t)).Resolve(assignments, opinions, existing)

		got := map[string]string{}
		for _, a := range res.ExistingAssignments {
			got[a.OpinionID] = a.TopicID
		}
		assert.Equal(t, map[string]string{"o1": "t-billing", "o2": "t-misc"}, got)
	})

	t.Run("gets its own topic when only the misc topic exists", func(t *testing.T) {
		opinions := []*models.Opinion{op("o1", "the signup form is way too long")}

		res := New(zaptest.NewLogger(t)).Resolve([]models.Assignment{{OpinionID: "o1", Kind: models.AssignUnresolved}}, opinions, []*models.Topic{misc})

		assert.Empty(t, res.ExistingAssignments)
		require.Len(t, res.NewTopicProposals, 1)
		assert.Equal(t, []string{"o1"}, res.NewTopicProposals[0].OpinionIDs)
		assert.NotEqual(t, MiscTopicName, res.NewTopicProposals[0].Name)
	})
}
