package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/opinion-topics/internal/models"
)

type scriptedCompleter struct {
	response string
	err      error
	block    bool
	prompts  []string
}

func (s *scriptedCompleter) Submit(ctx context.Context, text string) (string, error) {
	s.prompts = append(s.prompts, text)
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.response, s.err
}

func opinions(contents ...string) []*models.Opinion {
	out := make([]*models.Opinion, len(contents))
	for i, c := range contents {
		out[i] = &models.Opinion{
			ID:          "op-" + string(rune('a'+i)),
			ProjectID:   "p1",
			Content:     c,
			SubmittedAt: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		}
	}
	return out
}

func newProtocol(t *testing.T, c Completer) *Protocol {
	return NewProtocol(c, time.Second, zaptest.NewLogger(t))
}

func TestProtocol_TopicsResponse(t *testing.T) {
	t.Parallel()

	c := &scriptedCompleter{response: `{"topics":[
		{"name":"Pricing","summary":"Too expensive","opinions":[1],"confidence":0.9},
		{"name":"Speed","summary":"Slow app","opinions":[2,3],"confidence":0.8}
	]}`}
	batch := opinions("too expensive", "app is slow", "loading takes forever")

	got := newProtocol(t, c).Classify(context.Background(), batch, nil)

	require.Len(t, c.prompts, 1)
	require.Len(t, got, 3)
	assert.Equal(t, models.AssignNew, got[0].Kind)
	assert.Equal(t, "Pricing", got[0].NewTopic.Name)
	assert.Equal(t, "Speed", got[1].NewTopic.Name)
	assert.Equal(t, "Speed", got[2].NewTopic.Name)
	assert.InDelta(t, 0.8, got[2].Confidence, 1e-9)
	for _, a := range got {
		assert.False(t, a.Synthesized)
	}
}

func TestProtocol_AssignmentsResponseWithExistingTopic(t *testing.T) {
	t.Parallel()

	c := &scriptedCompleter{response: "```json\n" + `{"assignments":[
		{"opinion":1,"topic":1,"confidence":0.95,"reason":"about fees"},
		{"opinion":"2","new_topic":{"name":"Dark mode","summary":"Wants dark mode"},"confidence":0.6}
	]}` + "\n```"}
	batch := opinions("fees are high", "please add dark mode")
	existing := []*models.Topic{{ID: "t-billing", Name: "Billing", Count: 4}}

	got := newProtocol(t, c).Classify(context.Background(), batch, existing)

	require.Len(t, got, 2)
	assert.Equal(t, models.AssignExisting, got[0].Kind)
	assert.Equal(t, "1", got[0].TopicRef.String())
	assert.Equal(t, "about fees", got[0].Rationale)
	assert.Equal(t, models.AssignNew, got[1].Kind)
	assert.Equal(t, "Dark mode", got[1].NewTopic.Name)

	assert.Contains(t, c.prompts[0], "1. Billing (4 opinions)")
	assert.Contains(t, c.prompts[0], "2. please add dark mode")
}

func TestProtocol_UnparseableResponse(t *testing.T) {
	t.Parallel()

	c := &scriptedCompleter{response: "Sorry, I cannot help with that."}
	batch := opinions("the fee is too high", "app crashes on login", "love the colors")

	got := newProtocol(t, c).Classify(context.Background(), batch, nil)

	require.Len(t, got, 3)
	names := map[string]bool{}
	for i, a := range got {
		assert.Equal(t, batch[i].ID, a.OpinionID)
		assert.True(t, a.Synthesized)
		assert.Equal(t, models.RationaleParseFailed, a.Rationale)
		assert.LessOrEqual(t, a.Confidence, models.FallbackConfidence)
		require.NotNil(t, a.NewTopic)
		names[a.NewTopic.Name] = true
	}
	assert.Len(t, names, 3)
	assert.Equal(t, "Pricing: the fee is too high", got[0].NewTopic.Name)
}

func TestProtocol_OmittedOpinionIsSynthesized(t *testing.T) {
	t.Parallel()

	c := &scriptedCompleter{response: `{"assignments":[{"opinion":1,"new_topic":{"name":"Speed"},"confidence":0.9}]}`}
	batch := opinions("slow", "refund please")

	got := newProtocol(t, c).Classify(context.Background(), batch, nil)

	require.Len(t, got, 2)
	assert.False(t, got[0].Synthesized)
	assert.True(t, got[1].Synthesized)
	assert.Equal(t, models.RationaleOmitted, got[1].Rationale)
	require.NotNil(t, got[1].NewTopic)
	assert.Equal(t, []string{batch[1].ID}, got[1].NewTopic.OpinionIDs)
}

func TestProtocol_DuplicateReferencesFallThroughToNextInterpretation(t *testing.T) {
	t.Parallel()

	// 0 only fits the 0-based reading; once it takes op-a, 1 and 2 must skip
	// their 1-based readings as well
	c := &scriptedCompleter{response: `{"topics":[{"name":"A","opinions":[0,1,2]}]}`}
	batch := opinions("x1", "x2", "x3")

	got := newProtocol(t, c).Classify(context.Background(), batch, nil)

	require.Len(t, got, 3)
	for _, a := range got {
		assert.False(t, a.Synthesized, a.OpinionID)
		assert.Equal(t, "A", a.NewTopic.Name)
	}
}

func TestProtocol_CompletionFailure(t *testing.T) {
	t.Parallel()

	batch := opinions("the fee is too high")

	t.Run("with existing topics", func(t *testing.T) {
		c := &scriptedCompleter{err: errors.New("connection reset")}
		got := newProtocol(t, c).Classify(context.Background(), batch, []*models.Topic{{ID: "t1", Name: "billing"}})

		require.Len(t, got, 1)
		assert.Equal(t, models.AssignUnresolved, got[0].Kind)
		assert.Nil(t, got[0].NewTopic)
		assert.Equal(t, models.RationaleCompletionFailed, got[0].Rationale)
	})

	t.Run("without topics", func(t *testing.T) {
		c := &scriptedCompleter{err: errors.New("connection reset")}
		got := newProtocol(t, c).Classify(context.Background(), batch, nil)

		require.Len(t, got, 1)
		require.NotNil(t, got[0].NewTopic)
		assert.Equal(t, models.RationaleCompletionFailed, got[0].Rationale)
	})

	t.Run("timeout", func(t *testing.T) {
		c := &scriptedCompleter{block: true}
		p := NewProtocol(c, 20*time.Millisecond, zaptest.NewLogger(t))
		got := p.Classify(context.Background(), batch, nil)

		require.Len(t, got, 1)
		assert.True(t, got[0].Synthesized)
	})

	t.Run("caller cancelled", func(t *testing.T) {
		c := &scriptedCompleter{block: true}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		got := newProtocol(t, c).Classify(ctx, batch, []*models.Topic{{ID: "t1", Name: "billing"}})

		assert.Empty(t, got)
	})
}

func TestBuildPromptEmbedsSchema(t *testing.T) {
	t.Parallel()

	prompt := BuildPrompt(opinions("multi\nline   text"), nil)

	assert.Contains(t, prompt, "There are no existing topics yet")
	assert.Contains(t, prompt, "1. multi line text")
	assert.True(t, strings.Contains(prompt, `"assignments"`) && strings.Contains(prompt, `"new_topic"`))
}

func TestHeuristicProposal(t *testing.T) {
	t.Parallel()

	o := &models.Opinion{ID: "o1", Content: "Checkout is really slow on mobile, please fix!"}
	p := HeuristicProposal(o, 0.9)

	assert.Equal(t, "Performance: Checkout is really slow on", p.Name)
	assert.Equal(t, "performance", p.Category)
	assert.Equal(t, models.FallbackConfidence, p.Confidence)
	assert.Equal(t, []string{"o1"}, p.OpinionIDs)
	assert.Contains(t, p.Keywords, "checkout")
}

func TestConfidenceNormalization(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, defaultModelConfidence, confidence(0), 1e-9)
	assert.InDelta(t, 0.85, confidence(85), 1e-9)
	assert.InDelta(t, 1.0, confidence(250), 1e-9)
	assert.InDelta(t, 0.4, confidence(0.4), 1e-9)
}
