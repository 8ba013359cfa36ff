// Package persist applies resolved assignments to the primary store and
// publishes the result to the mirror store.
//
// Topics, opinions and insights are eventually consistent: a failed mirror
// write only marks the project's topics with SyncError and Reconcile pushes
// them again later. History records are strict: a record the mirror did not
// accept is deleted from the primary store again.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/mirror"
	"github.com/xaenox/opinion-topics/internal/models"
	"github.com/xaenox/opinion-topics/internal/resolver"
	"github.com/xaenox/opinion-topics/internal/storage"
)

const DefaultHistoryLimit = 10

type Options struct {
	// HistoryLimit is how many recent history records the snapshot carries.
	HistoryLimit   int
	StorageTimeout time.Duration
}

type CommitResult struct {
	Processed int
	// NewTopics are the topics created by this commit, with final counts.
	NewTopics []*models.Topic
	// UpdatedTopicIDs are pre-existing topics whose membership changed.
	UpdatedTopicIDs []string
	Mirrored        bool
}

type Coordinator struct {
	store  storage.Storage
	mirror mirror.Mirror
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func New(store storage.Storage, m mirror.Mirror, opts Options, logger *zap.Logger) *Coordinator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Coordinator{
		store:  store,
		mirror: m,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Commit writes one batch in a single transaction: new topics, opinion links,
// analysis states, topic counts and the project's analysis summary. Nothing
// is kept when any step fails. The mirror is written after the commit.
func (c *Coordinator) Commit(ctx context.Context, project *models.Project, batch []*models.Opinion, res *resolver.Result) (*CommitResult, error) {
	now := c.now().UTC()
	result := &CommitResult{}

	txCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.store.RunInTx(txCtx, func(ctx context.Context) error {
		w := &batchWriter{
			store:      c.store,
			project:    project,
			now:        now,
			confidence: res.Confidence,
			touched:    make(map[string]bool),
			created:    make(map[string]*models.Topic),
		}
		for _, o := range batch {
			if o.TopicID != nil {
				w.touch(*o.TopicID)
			}
		}

		for _, p := range res.NewTopicProposals {
			topic, err := w.createTopic(ctx, p)
			if err != nil {
				return err
			}
			result.NewTopics = append(result.NewTopics, topic)
			for _, opinionID := range p.OpinionIDs {
				if err := w.link(ctx, opinionID, topic.ID); err != nil {
					return err
				}
			}
		}
		for _, a := range res.ExistingAssignments {
			if err := w.link(ctx, a.OpinionID, a.TopicID); err != nil {
				return err
			}
		}

		updated, err := w.recount(ctx)
		if err != nil {
			return err
		}
		result.UpdatedTopicIDs = updated
		result.Processed = w.linked

		assigned, err := c.store.CountAssignedOpinions(ctx, project.ID)
		if err != nil {
			return eris.Wrap(err, "count assigned opinions")
		}
		if err := c.store.UpdateProjectAnalysis(ctx, project.ID, now, assigned); err != nil {
			return eris.Wrap(err, "update project analysis")
		}
		return nil
	})
	if err != nil {
		c.logger.Error("Batch commit rolled back",
			zap.Error(err),
			zap.String("project_id", project.ID),
			zap.Int("batch_size", len(batch)))
		return nil, eris.Wrapf(err, "commit batch for project %s", project.ID)
	}

	result.Mirrored = c.Sync(ctx, project) == nil
	return result, nil
}

// Sync pushes the project's snapshot to the mirror and records the outcome
// on its topics. The returned error is informational; callers that follow
// the eventual-consistency policy ignore it.
func (c *Coordinator) Sync(ctx context.Context, project *models.Project) error {
	snap, err := c.Snapshot(ctx, project)
	if err != nil {
		c.logger.Warn("Failed to build analysis snapshot", zap.Error(err), zap.String("project_id", project.ID))
		return err
	}

	if err := c.mirror.Set(ctx, mirror.AnalysisPath(project.MirrorKey()), snap); err != nil {
		c.logger.Warn("Mirror write failed, topics marked for reconciliation",
			zap.Error(err),
			zap.String("project_id", project.ID))
		c.markSync(ctx, project.ID, models.SyncError)
		return eris.Wrap(err, "write analysis snapshot")
	}

	c.markSync(ctx, project.ID, models.SyncSynced)
	return nil
}

// Reconcile re-publishes a project whose topics did not all reach the mirror.
// It reports whether a push was attempted.
func (c *Coordinator) Reconcile(ctx context.Context, projectID string) (bool, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return false, eris.Wrapf(err, "get project %s", projectID)
	}
	topics, err := c.store.ListTopics(ctx, projectID)
	if err != nil {
		return false, eris.Wrapf(err, "list topics for %s", projectID)
	}

	dirty := 0
	for _, t := range topics {
		if t.SyncStatus != models.SyncSynced {
			dirty++
		}
	}
	if dirty == 0 {
		return false, nil
	}

	c.logger.Info("Reconciling mirror",
		zap.String("project_id", projectID),
		zap.Int("unsynced_topics", dirty))
	return true, c.Sync(ctx, project)
}

// RecordHistory stores h in both stores or in neither. It reports false,
// with a nil error, when the mirror rejected the record and the primary copy
// was removed again.
func (c *Coordinator) RecordHistory(ctx context.Context, project *models.Project, h *models.AnalysisHistory) (bool, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = c.now().UTC()
	}
	h.ProjectID = project.ID

	txCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.store.CreateHistory(txCtx, h); err != nil {
		return false, eris.Wrap(err, "create analysis history")
	}

	err := c.Sync(ctx, project)
	if err == nil {
		return true, nil
	}
	c.logger.Error("History not mirrored, removing primary record",
		zap.Error(err),
		zap.String("project_id", project.ID),
		zap.String("history_id", h.ID))

	delCtx, cancelDel := c.withTimeout(context.WithoutCancel(ctx))
	defer cancelDel()
	if err := c.store.DeleteHistory(delCtx, h.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, eris.Wrapf(err, "remove unmirrored history %s", h.ID)
	}
	return false, nil
}

// Snapshot assembles what the mirror stores for a project.
func (c *Coordinator) Snapshot(ctx context.Context, project *models.Project) (*models.AnalysisSnapshot, error) {
	topics, err := c.store.ListTopics(ctx, project.ID)
	if err != nil {
		return nil, eris.Wrap(err, "list topics")
	}
	history, err := c.store.ListHistory(ctx, project.ID, c.opts.HistoryLimit)
	if err != nil {
		return nil, eris.Wrap(err, "list history")
	}

	snap := &models.AnalysisSnapshot{
		ProjectID: project.MirrorKey(),
		Topics:    make([]models.Topic, 0, len(topics)),
		Insights:  Insights(topics),
		History:   make([]models.AnalysisHistory, 0, len(history)),
		SyncedAt:  c.now().UTC(),
	}
	for _, t := range topics {
		cp := *t
		cp.SyncStatus = models.SyncSynced
		snap.Topics = append(snap.Topics, cp)
	}
	for _, h := range history {
		snap.History = append(snap.History, *h)
	}
	return snap, nil
}

func (c *Coordinator) markSync(ctx context.Context, projectID string, status models.SyncStatus) {
	if err := c.store.SetTopicsSyncStatus(ctx, projectID, status); err != nil {
		c.logger.Warn("Failed to record topic sync status",
			zap.Error(err),
			zap.String("project_id", projectID),
			zap.String("status", string(status)))
	}
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.StorageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opts.StorageTimeout)
}
