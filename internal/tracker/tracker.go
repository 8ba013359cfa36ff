// Package tracker decides which opinions still need classification.
package tracker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/keywords"
	"github.com/xaenox/opinion-topics/internal/models"
	"github.com/xaenox/opinion-topics/internal/storage"
)

const maxDerivedKeywords = 8

type Tracker struct {
	store  storage.Storage
	logger *zap.Logger
}

func New(store storage.Storage, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// Unanalyzed returns, in submission order, the opinions that have no
// analysis state, a state older than the opinion, or a state pointing at a
// topic that no longer exists. With force every opinion is returned.
func (t *Tracker) Unanalyzed(ctx context.Context, project *models.Project, force bool) ([]*models.Opinion, error) {
	opinions, err := t.store.ListOpinions(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list opinions: %w", err)
	}
	if force {
		return opinions, nil
	}

	states := t.States(ctx, project)
	topicIDs := t.topicIDs(ctx, project.ID)

	var result []*models.Opinion
	for _, o := range opinions {
		st, ok := states[o.ID]
		switch {
		case !ok:
			result = append(result, o)
		case st.LastAnalyzedAt.Before(o.SubmittedAt):
			result = append(result, o)
		case topicIDs != nil && st.TopicID != nil && !topicIDs[*st.TopicID]:
			result = append(result, o)
		}
	}
	return result, nil
}

// States returns analysis states keyed by opinion id, merged across every
// key the project is addressed by. A failing query counts as "nothing
// analyzed" so no opinion is silently skipped.
func (t *Tracker) States(ctx context.Context, project *models.Project) map[string]*models.AnalysisState {
	states := make(map[string]*models.AnalysisState)
	for _, key := range project.Keys() {
		rows, err := t.store.ListAnalysisStates(ctx, key)
		if err != nil {
			t.logger.Warn("Failed to load analysis states, treating as unanalyzed",
				zap.Error(err),
				zap.String("project_id", project.ID),
				zap.String("project_key", key))
			continue
		}
		for _, st := range rows {
			prev, ok := states[st.OpinionID]
			if !ok || st.LastAnalyzedAt.After(prev.LastAnalyzedAt) {
				states[st.OpinionID] = st
			}
		}
	}
	return states
}

// topicIDs returns nil when topics cannot be loaded, which disables the
// orphaned-state check.
func (t *Tracker) topicIDs(ctx context.Context, projectID string) map[string]bool {
	topics, err := t.store.ListTopics(ctx, projectID)
	if err != nil {
		t.logger.Warn("Failed to load topics for orphan check",
			zap.Error(err),
			zap.String("project_id", projectID))
		return nil
	}
	ids := make(map[string]bool, len(topics))
	for _, tp := range topics {
		ids[tp.ID] = true
	}
	return ids
}

// ExistingTopics lists the project's topics with keywords derived from name
// and summary when none are stored.
func (t *Tracker) ExistingTopics(ctx context.Context, projectID string) ([]*models.Topic, error) {
	topics, err := t.store.ListTopics(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	for _, tp := range topics {
		if len(tp.Keywords) == 0 {
			tp.Keywords = keywords.Extract(tp.Name+" "+tp.Summary, maxDerivedKeywords)
		}
	}
	return topics, nil
}
