// Package classifier talks to the completion service and turns its answers
// into one assignment per opinion.
package classifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/models"
)

const (
	defaultModelConfidence = 0.7
	maxLoggedResponse      = 500
)

type Classifier interface {
	Classify(ctx context.Context, batch []*models.Opinion, existing []*models.Topic) []models.Assignment
}

// Protocol sends exactly one request per batch. It never fails: transport
// errors and unusable answers degrade into synthesized assignments.
type Protocol struct {
	completer Completer
	timeout   time.Duration
	logger    *zap.Logger
}

func NewProtocol(completer Completer, timeout time.Duration, logger *zap.Logger) *Protocol {
	return &Protocol{
		completer: completer,
		timeout:   timeout,
		logger:    logger,
	}
}

func (p *Protocol) Classify(ctx context.Context, batch []*models.Opinion, existing []*models.Topic) []models.Assignment {
	if len(batch) == 0 {
		return nil
	}

	raw, err := p.submit(ctx, BuildPrompt(batch, existing))
	if err != nil && ctx.Err() != nil {
		// the caller gave up; no decision is better than a fallback one
		p.logger.Info("Classification abandoned", zap.Error(ctx.Err()), zap.Int("batch_size", len(batch)))
		return nil
	}
	if err != nil {
		p.logger.Warn("Completion failed, using fallback classification",
			zap.Error(err),
			zap.Int("batch_size", len(batch)),
			zap.Int("existing_topics", len(existing)))
		return completionFailed(batch, existing)
	}

	switch res := Parse(raw).(type) {
	case Structured:
		p.logger.Debug("Parsed completion", zap.String("stage", res.Stage))
		return p.assignments(res.Response, batch, existing)
	case Unstructured:
		p.logger.Warn("Failed to parse completion",
			zap.Error(res.Err),
			zap.String("response", compactJSON(res.Raw, maxLoggedResponse)))
	}
	return Fallback(batch, models.RationaleParseFailed)
}

func (p *Protocol) submit(ctx context.Context, prompt string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.completer.Submit(ctx, prompt)
}

// completionFailed leaves the decision to similarity matching when there are
// topics to match against, and falls back to per-opinion topics otherwise.
func completionFailed(batch []*models.Opinion, existing []*models.Topic) []models.Assignment {
	if len(existing) == 0 {
		return Fallback(batch, models.RationaleCompletionFailed)
	}
	out := make([]models.Assignment, 0, len(batch))
	for _, o := range batch {
		out = append(out, synthesized(o, models.RationaleCompletionFailed, false))
	}
	return out
}

// assignments maps a structured response onto the batch. Opinion references
// are resolved against the batch listing; each opinion is taken at most once
// and anything the response leaves out gets a synthesized assignment.
func (p *Protocol) assignments(resp Response, batch []*models.Opinion, existing []*models.Topic) []models.Assignment {
	ids := make([]string, len(batch))
	for i, o := range batch {
		ids[i] = o.ID
	}

	taken := make(map[string]models.Assignment, len(batch))
	accept := func(id string) bool {
		_, done := taken[id]
		return !done
	}
	dropped := 0

	for _, item := range resp.Assignments {
		id, ok := item.Opinion.Resolve(ids, accept)
		if !ok {
			dropped++
			continue
		}
		a := models.Assignment{
			OpinionID:  id,
			Confidence: confidence(item.Confidence),
			Rationale:  item.Reason,
		}
		switch {
		case item.NewTopic != nil && oneLine(item.NewTopic.Name) != "":
			a.Kind = models.AssignNew
			a.NewTopic = &models.TopicProposal{
				Name:       oneLine(item.NewTopic.Name),
				Category:   item.NewTopic.Category,
				Summary:    item.NewTopic.Summary,
				Keywords:   item.NewTopic.Keywords,
				Confidence: a.Confidence,
			}
		case !item.Topic.IsZero():
			a.Kind = models.AssignExisting
			a.TopicRef = item.Topic
		default:
			a.Kind = models.AssignUnresolved
		}
		taken[id] = a
	}

	for _, topic := range resp.Topics {
		name := oneLine(topic.Name)
		for _, ref := range topic.Opinions {
			id, ok := ref.Resolve(ids, accept)
			if !ok {
				dropped++
				continue
			}
			a := models.Assignment{
				OpinionID:  id,
				Confidence: confidence(topic.Confidence),
				Rationale:  topic.Reason,
			}
			switch {
			case !topic.ExistingTopic.IsZero():
				a.Kind = models.AssignExisting
				a.TopicRef = topic.ExistingTopic
			case name != "":
				a.Kind = models.AssignNew
				a.NewTopic = &models.TopicProposal{
					Name:       name,
					Category:   topic.Category,
					Summary:    topic.Summary,
					Keywords:   topic.Keywords,
					Confidence: a.Confidence,
				}
			default:
				a.Kind = models.AssignUnresolved
			}
			taken[id] = a
		}
	}

	out := make([]models.Assignment, 0, len(batch))
	omitted := 0
	for _, o := range batch {
		if a, ok := taken[o.ID]; ok {
			out = append(out, a)
			continue
		}
		omitted++
		out = append(out, synthesized(o, models.RationaleOmitted, true))
	}

	if dropped > 0 || omitted > 0 {
		p.logger.Warn("Completion did not cover the batch cleanly",
			zap.Int("batch_size", len(batch)),
			zap.Int("unresolvable_refs", dropped),
			zap.Int("omitted", omitted),
			zap.Int("existing_topics", len(existing)))
	}
	return out
}

func confidence(c float64) float64 {
	switch {
	case c <= 0:
		return defaultModelConfidence
	case c > 1 && c <= 100:
		return c / 100
	case c > 1:
		return 1
	default:
		return c
	}
}
