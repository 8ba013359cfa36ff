// Package resolver turns per-opinion assignments into links to existing
// topics and a deduplicated set of new-topic proposals.
package resolver

import (
	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/classifier"
	"github.com/xaenox/opinion-topics/internal/keywords"
	"github.com/xaenox/opinion-topics/internal/models"
)

const (
	MiscTopicName     = "Miscellaneous / Invalid"
	miscTopicCategory = "invalid"
	miscTopicSummary  = "Opinions too short, too long or too repetitive to classify"

	forcedConfidence  = 0.3
	invalidConfidence = 0.1

	maxProposalKeywords = 8
)

type ExistingAssignment struct {
	OpinionID  string
	TopicID    string
	Confidence float64
	Rationale  string
}

type Result struct {
	ExistingAssignments []ExistingAssignment
	NewTopicProposals   []*models.TopicProposal
	// Confidence holds the classification confidence of every placed opinion.
	Confidence map[string]float64
}

// Placed is the number of opinions the result attaches somewhere.
func (r *Result) Placed() int {
	return len(r.Confidence)
}

type Resolver struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve places every opinion that has an assignment. Explicit references
// are tried first; anything left goes through two similarity passes against
// the existing topics and the model's own proposals, and whatever is still
// unplaced is quarantined (invalid content), given its fallback proposal, or
// forced onto the best match.
func (r *Resolver) Resolve(assignments []models.Assignment, opinions []*models.Opinion, existing []*models.Topic) *Result {
	s := newResolution(existing)

	byID := make(map[string]*models.Opinion, len(opinions))
	for _, o := range opinions {
		byID[o.ID] = o
	}

	var pending []models.Assignment
	seen := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		if _, ok := byID[a.OpinionID]; !ok || seen[a.OpinionID] {
			continue
		}
		seen[a.OpinionID] = true

		switch a.Kind {
		case models.AssignExisting:
			if id, ok := a.TopicRef.Resolve(s.topicIDs, nil); ok {
				s.attach(a.OpinionID, id, a.Confidence, a.Rationale)
				continue
			}
		case models.AssignNew:
			if a.NewTopic != nil && models.NormalizeName(a.NewTopic.Name) != "" {
				s.propose(a.NewTopic, a.OpinionID, a.Confidence, a.Rationale)
				continue
			}
		}
		pending = append(pending, a)
	}
	for _, o := range opinions {
		if !seen[o.ID] {
			seen[o.ID] = true
			pending = append(pending, models.Assignment{
				OpinionID:   o.ID,
				Kind:        models.AssignUnresolved,
				Rationale:   models.RationaleOmitted,
				Synthesized: true,
			})
		}
	}

	similarity := len(pending)
	candidates, targets := s.candidates()
	matches := make(map[string]match, len(pending))
	for _, a := range pending {
		idx, score := bestMatch(byID[a.OpinionID].Content, candidates)
		matches[a.OpinionID] = match{idx: idx, score: score}
	}
	for _, threshold := range []int{firstPassThreshold, secondPassThreshold} {
		var rest []models.Assignment
		for _, a := range pending {
			m := matches[a.OpinionID]
			if m.idx >= 0 && m.score >= threshold {
				s.place(targets[m.idx], a.OpinionID, similarityConfidence(m.score), models.RationaleSimilarity)
				continue
			}
			rest = append(rest, a)
		}
		pending = rest
	}
	similarity -= len(pending)

	for _, a := range pending {
		o := byID[a.OpinionID]
		switch {
		case !Valid(o.Content):
			s.quarantine(o.ID)
		case a.NewTopic != nil:
			s.propose(a.NewTopic, o.ID, min(a.Confidence, models.FallbackConfidence), a.Rationale)
		default:
			s.force(o, matches[o.ID], targets)
		}
	}

	s.finish()
	r.logger.Debug("Resolved assignments",
		zap.Int("existing", len(s.result.ExistingAssignments)),
		zap.Int("proposals", len(s.result.NewTopicProposals)),
		zap.Int("similarity", similarity),
		zap.Int("fallback", len(pending)))

	return s.result
}

type match struct {
	idx   int
	score int
}

// target is either an existing topic id or a proposal key.
type target struct {
	topicID     string
	proposalKey string
}

type resolution struct {
	existing []*models.Topic
	// targetable is existing minus the quarantine topic, which only invalid
	// content may join.
	targetable []*models.Topic
	topicIDs  []string
	byName    map[string]string
	proposals map[string]*models.TopicProposal
	order     []string
	result    *Result
}

func newResolution(existing []*models.Topic) *resolution {
	s := &resolution{
		existing:  existing,
		topicIDs:  make([]string, len(existing)),
		byName:    make(map[string]string, len(existing)),
		proposals: make(map[string]*models.TopicProposal),
		result:    &Result{Confidence: make(map[string]float64)},
	}
	for i, t := range existing {
		s.topicIDs[i] = t.ID
		if !isQuarantine(t.Name, t.Category) {
			s.targetable = append(s.targetable, t)
		}
		if key := models.NormalizeName(t.Name); key != "" {
			if _, dup := s.byName[key]; !dup {
				s.byName[key] = t.ID
			}
		}
	}
	return s
}

func (s *resolution) attach(opinionID, topicID string, confidence float64, rationale string) {
	s.result.ExistingAssignments = append(s.result.ExistingAssignments, ExistingAssignment{
		OpinionID:  opinionID,
		TopicID:    topicID,
		Confidence: confidence,
		Rationale:  rationale,
	})
	s.result.Confidence[opinionID] = confidence
}

// propose adds opinionID to the proposal named like p, creating it on first
// sight. A name that matches an existing topic becomes a plain link.
func (s *resolution) propose(p *models.TopicProposal, opinionID string, confidence float64, rationale string) {
	key := models.NormalizeName(p.Name)
	if id, ok := s.byName[key]; ok {
		s.attach(opinionID, id, confidence, rationale)
		return
	}

	cur, ok := s.proposals[key]
	if !ok {
		cur = &models.TopicProposal{
			Name:     p.Name,
			Category: p.Category,
			Summary:  p.Summary,
			Keywords: append([]string(nil), p.Keywords...),
		}
		s.proposals[key] = cur
		s.order = append(s.order, key)
	} else {
		mergeProposal(cur, p)
	}
	s.addToProposal(key, opinionID, confidence)
}

func (s *resolution) addToProposal(key, opinionID string, confidence float64) {
	cur := s.proposals[key]
	for _, id := range cur.OpinionIDs {
		if id == opinionID {
			return
		}
	}
	cur.OpinionIDs = append(cur.OpinionIDs, opinionID)
	if confidence > cur.Confidence {
		cur.Confidence = confidence
	}
	s.result.Confidence[opinionID] = confidence
}

func (s *resolution) place(t target, opinionID string, confidence float64, rationale string) {
	if t.topicID != "" {
		s.attach(opinionID, t.topicID, confidence, rationale)
		return
	}
	s.addToProposal(t.proposalKey, opinionID, confidence)
}

func (s *resolution) quarantine(opinionID string) {
	s.propose(&models.TopicProposal{
		Name:     MiscTopicName,
		Category: miscTopicCategory,
		Summary:  miscTopicSummary,
	}, opinionID, invalidConfidence, models.RationaleInvalid)
}

// force attaches a valid opinion that nothing claimed: to its best match when
// it scored at all, else to the first existing topic, else to the first
// proposal, else to a topic derived from its own text.
func (s *resolution) force(o *models.Opinion, m match, targets []target) {
	switch {
	case m.idx >= 0 && m.score > 0:
		s.place(targets[m.idx], o.ID, forcedConfidence, models.RationaleForced)
	case len(s.targetable) > 0:
		s.attach(o.ID, s.targetable[0].ID, forcedConfidence, models.RationaleForced)
	case s.firstProposal() != "":
		s.addToProposal(s.firstProposal(), o.ID, forcedConfidence)
	default:
		s.propose(classifier.HeuristicProposal(o, forcedConfidence), o.ID, forcedConfidence, models.RationaleForced)
	}
}

// candidates lists existing topics first, then the proposals collected so
// far. The quarantine topic is never a candidate.
func (s *resolution) candidates() ([]Candidate, []target) {
	cands := make([]Candidate, 0, len(s.targetable)+len(s.order))
	targets := make([]target, 0, cap(cands))
	for _, t := range s.targetable {
		cands = append(cands, Candidate{Name: t.Name, Category: t.Category, Keywords: t.Keywords})
		targets = append(targets, target{topicID: t.ID})
	}
	for _, key := range s.order {
		p := s.proposals[key]
		if isQuarantine(p.Name, p.Category) {
			continue
		}
		kws := p.Keywords
		if len(kws) == 0 {
			kws = keywords.Extract(p.Name+" "+p.Summary, maxProposalKeywords)
		}
		cands = append(cands, Candidate{Name: p.Name, Category: p.Category, Keywords: kws})
		targets = append(targets, target{proposalKey: key})
	}
	return cands, targets
}

// firstProposal returns the key of the earliest proposal that is not the
// quarantine topic.
func (s *resolution) firstProposal() string {
	for _, key := range s.order {
		p := s.proposals[key]
		if !isQuarantine(p.Name, p.Category) {
			return key
		}
	}
	return ""
}

func isQuarantine(name, category string) bool {
	return models.NormalizeName(name) == models.NormalizeName(MiscTopicName) || category == miscTopicCategory
}

func (s *resolution) finish() {
	for _, key := range s.order {
		p := s.proposals[key]
		if len(p.Keywords) == 0 {
			p.Keywords = keywords.Extract(p.Name+" "+p.Summary, maxProposalKeywords)
		}
		s.result.NewTopicProposals = append(s.result.NewTopicProposals, p)
	}
}

func mergeProposal(dst, src *models.TopicProposal) {
	if dst.Summary == "" {
		dst.Summary = src.Summary
	}
	if dst.Category == "" {
		dst.Category = src.Category
	}
	have := make(map[string]bool, len(dst.Keywords))
	for _, kw := range dst.Keywords {
		have[models.NormalizeName(kw)] = true
	}
	for _, kw := range src.Keywords {
		if k := models.NormalizeName(kw); k != "" && !have[k] {
			have[k] = true
			dst.Keywords = append(dst.Keywords, kw)
		}
	}
}

func similarityConfidence(score int) float64 {
	return min(models.FallbackConfidence, 0.2+float64(score)/50)
}
