package persist

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/xaenox/opinion-topics/internal/models"
	"github.com/xaenox/opinion-topics/internal/storage"
)

// batchWriter holds the bookkeeping of one commit transaction.
type batchWriter struct {
	store      storage.Storage
	project    *models.Project
	now        time.Time
	confidence map[string]float64

	touched map[string]bool
	created map[string]*models.Topic
	linked  int
}

func (w *batchWriter) touch(topicID string) {
	w.touched[topicID] = true
}

func (w *batchWriter) createTopic(ctx context.Context, p *models.TopicProposal) (*models.Topic, error) {
	// topics list by creation time, so each one in a batch gets its own
	// instant in proposal order; microseconds survive postgres timestamps
	createdAt := w.now.Add(time.Duration(len(w.created)) * time.Microsecond)
	topic := &models.Topic{
		ID:         uuid.NewString(),
		ProjectID:  w.project.ID,
		Name:       p.Name,
		Category:   p.Category,
		Summary:    p.Summary,
		Keywords:   p.Keywords,
		Status:     models.TopicActive,
		SyncStatus: models.SyncPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := w.store.CreateTopic(ctx, topic); err != nil {
		return nil, eris.Wrapf(err, "create topic %q", p.Name)
	}
	w.created[topic.ID] = topic
	w.touch(topic.ID)
	return topic, nil
}

// link points the opinion at topicID and bumps its analysis state.
func (w *batchWriter) link(ctx context.Context, opinionID, topicID string) error {
	if err := w.store.AssignOpinion(ctx, opinionID, topicID); err != nil {
		return eris.Wrapf(err, "assign opinion %s", opinionID)
	}
	w.touch(topicID)

	version := 1
	prev, err := w.store.GetAnalysisState(ctx, opinionID)
	switch {
	case err == nil:
		version = prev.AnalysisVersion + 1
		if prev.TopicID != nil {
			w.touch(*prev.TopicID)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return eris.Wrapf(err, "get analysis state %s", opinionID)
	}

	conf, ok := w.confidence[opinionID]
	if !ok {
		conf = models.FallbackConfidence
	}
	state := &models.AnalysisState{
		OpinionID:                opinionID,
		ProjectID:                w.project.ID,
		LastAnalyzedAt:           w.now,
		AnalysisVersion:          version,
		TopicID:                  models.StringPtr(topicID),
		ClassificationConfidence: &conf,
		ManualReviewFlag:         conf <= models.FallbackConfidence,
	}
	if err := w.store.UpsertAnalysisState(ctx, state); err != nil {
		return eris.Wrapf(err, "upsert analysis state %s", opinionID)
	}
	w.linked++
	return nil
}

// recount refreshes the count of every topic the batch touched, including
// topics opinions were moved away from. It returns the ones that existed
// before the batch.
func (w *batchWriter) recount(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(w.touched))
	for id := range w.touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var updated []string
	for _, id := range ids {
		n, err := w.store.RecountTopic(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			// the opinion's previous topic was deleted administratively
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "recount topic %s", id)
		}
		if t, ok := w.created[id]; ok {
			t.Count = n
			continue
		}
		updated = append(updated, id)
	}
	return updated, nil
}
