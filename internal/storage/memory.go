package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/opinion-topics/internal/models"
)

// MemoryStorage keeps everything in maps. Transactions are emulated with an
// undo journal: writes made through the transaction context record how to
// revert themselves, and only those are reverted when fn fails.
type MemoryStorage struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	projects map[string]*models.Project
	opinions map[string]*models.Opinion
	topics   map[string]*models.Topic
	states   map[string]*models.AnalysisState
	history  map[string]*models.AnalysisHistory
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		projects: make(map[string]*models.Project),
		opinions: make(map[string]*models.Opinion),
		topics:   make(map[string]*models.Topic),
		states:   make(map[string]*models.AnalysisState),
		history:  make(map[string]*models.AnalysisHistory),
	}
}

type memoryTxKey struct{}

type memoryTx struct {
	undo []func()
}

func (s *MemoryStorage) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{}
	err := fn(context.WithValue(ctx, memoryTxKey{}, tx))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// journal records how to revert the write about to happen at key. It must be
// called with s.mu held and before the write.
func journal[V any](ctx context.Context, m map[string]V, key string, clone func(V) V) {
	tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx)
	if !ok {
		return
	}
	prev, had := m[key]
	if had {
		prev = clone(prev)
	}
	tx.undo = append(tx.undo, func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

// Project methods

// AddProject seeds a project. It stands in for the external project service.
func (s *MemoryStorage) AddProject(p *models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = cloneProject(p)
}

func (s *MemoryStorage) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.projects[projectID]
	if !exists {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return cloneProject(p), nil
}

func (s *MemoryStorage) ListProjects(ctx context.Context) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		result = append(result, cloneProject(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStorage) UpdateProjectAnalysis(ctx context.Context, projectID string, at time.Time, analyzedCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.projects[projectID]
	if !exists {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	journal(ctx, s.projects, projectID, cloneProject)
	p.LastAnalysisAt = &at
	p.LastAnalyzedOpinionsCount = analyzedCount
	p.IsAnalyzed = true
	return nil
}

// Opinion methods

// AddOpinion seeds an opinion. It stands in for the external intake path.
func (s *MemoryStorage) AddOpinion(o *models.Opinion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opinions[o.ID] = cloneOpinion(o)
}

func (s *MemoryStorage) ListOpinions(ctx context.Context, projectID string) ([]*models.Opinion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Opinion
	for _, o := range s.opinions {
		if o.ProjectID == projectID {
			result = append(result, cloneOpinion(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].SubmittedAt.Equal(result[j].SubmittedAt) {
			return result[i].SubmittedAt.Before(result[j].SubmittedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStorage) AssignOpinion(ctx context.Context, opinionID, topicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.opinions[opinionID]
	if !exists {
		return fmt.Errorf("opinion %s: %w", opinionID, ErrNotFound)
	}
	if _, exists := s.topics[topicID]; !exists {
		return fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	journal(ctx, s.opinions, opinionID, cloneOpinion)
	o.TopicID = models.StringPtr(topicID)
	return nil
}

func (s *MemoryStorage) CountAssignedOpinions(ctx context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, o := range s.opinions {
		if o.ProjectID == projectID && o.TopicID != nil {
			n++
		}
	}
	return n, nil
}

// Topic methods

func (s *MemoryStorage) ListTopics(ctx context.Context, projectID string) ([]*models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Topic
	for _, t := range s.topics {
		if t.ProjectID == projectID {
			result = append(result, cloneTopic(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStorage) CreateTopic(ctx context.Context, topic *models.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.topics[topic.ID]; exists {
		return fmt.Errorf("topic %s: %w", topic.ID, ErrAlreadyExists)
	}
	journal(ctx, s.topics, topic.ID, cloneTopic)
	s.topics[topic.ID] = cloneTopic(topic)
	return nil
}

func (s *MemoryStorage) RecountTopic(ctx context.Context, topicID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.topics[topicID]
	if !exists {
		return 0, fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	n := 0
	for _, o := range s.opinions {
		if o.TopicID != nil && *o.TopicID == topicID {
			n++
		}
	}
	journal(ctx, s.topics, topicID, cloneTopic)
	t.Count = n
	t.UpdatedAt = time.Now()
	return n, nil
}

func (s *MemoryStorage) SetTopicsSyncStatus(ctx context.Context, projectID string, status models.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.topics {
		if t.ProjectID == projectID {
			journal(ctx, s.topics, id, cloneTopic)
			t.SyncStatus = status
		}
	}
	return nil
}

// State methods

// PutAnalysisState seeds a state row as-is, including rows stored under a
// project's mirror id.
func (s *MemoryStorage) PutAnalysisState(st *models.AnalysisState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.OpinionID] = cloneState(st)
}

func (s *MemoryStorage) ListAnalysisStates(ctx context.Context, projectKey string) ([]*models.AnalysisState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.AnalysisState
	for _, st := range s.states {
		if st.ProjectID == projectKey {
			result = append(result, cloneState(st))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OpinionID < result[j].OpinionID })
	return result, nil
}

func (s *MemoryStorage) GetAnalysisState(ctx context.Context, opinionID string) (*models.AnalysisState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.states[opinionID]
	if !exists {
		return nil, fmt.Errorf("analysis state %s: %w", opinionID, ErrNotFound)
	}
	return cloneState(st), nil
}

func (s *MemoryStorage) UpsertAnalysisState(ctx context.Context, state *models.AnalysisState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	journal(ctx, s.states, state.OpinionID, cloneState)
	s.states[state.OpinionID] = cloneState(state)
	return nil
}

// History methods

func (s *MemoryStorage) CreateHistory(ctx context.Context, h *models.AnalysisHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.history[h.ID]; exists {
		return fmt.Errorf("analysis history %s: %w", h.ID, ErrAlreadyExists)
	}
	journal(ctx, s.history, h.ID, cloneHistory)
	cp := *h
	s.history[h.ID] = &cp
	return nil
}

func (s *MemoryStorage) DeleteHistory(ctx context.Context, historyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.history[historyID]; !exists {
		return fmt.Errorf("analysis history %s: %w", historyID, ErrNotFound)
	}
	journal(ctx, s.history, historyID, cloneHistory)
	delete(s.history, historyID)
	return nil
}

func (s *MemoryStorage) ListHistory(ctx context.Context, projectID string, limit int) ([]*models.AnalysisHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.AnalysisHistory
	for _, h := range s.history {
		if h.ProjectID == projectID {
			cp := *h
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func cloneProject(p *models.Project) *models.Project {
	cp := *p
	if p.LastAnalysisAt != nil {
		at := *p.LastAnalysisAt
		cp.LastAnalysisAt = &at
	}
	return &cp
}

func cloneOpinion(o *models.Opinion) *models.Opinion {
	cp := *o
	if o.TopicID != nil {
		cp.TopicID = models.StringPtr(*o.TopicID)
	}
	return &cp
}

func cloneTopic(t *models.Topic) *models.Topic {
	cp := *t
	cp.Keywords = append([]string(nil), t.Keywords...)
	return &cp
}

func cloneHistory(h *models.AnalysisHistory) *models.AnalysisHistory {
	cp := *h
	return &cp
}

func cloneState(st *models.AnalysisState) *models.AnalysisState {
	cp := *st
	if st.TopicID != nil {
		cp.TopicID = models.StringPtr(*st.TopicID)
	}
	if st.ClassificationConfidence != nil {
		c := *st.ClassificationConfidence
		cp.ClassificationConfidence = &c
	}
	return &cp
}
