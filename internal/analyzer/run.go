package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/batch"
	"github.com/xaenox/opinion-topics/internal/mirror"
	"github.com/xaenox/opinion-topics/internal/models"
	"github.com/xaenox/opinion-topics/internal/storage"
)

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePreparing   Phase = "preparing"
	PhaseFirstRun    Phase = "first-run"
	PhaseIncremental Phase = "incremental"
	PhaseCommitting  Phase = "committing"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

type RunResult struct {
	ProjectID string
	SessionID string
	Phase     Phase
	Mode      models.AnalysisType

	Processed        int
	NewTopicsCreated int
	UpdatedTopics    int
	Batches          int
	BatchesCommitted int

	// Mirrored is false when any commit of the run did not reach the mirror.
	Mirrored        bool
	HistoryRecorded bool
	Duration        time.Duration
	// Err summarizes why the run failed.
	Err error
}

func (r *RunResult) Failed() bool {
	return r.Phase == PhaseFailed
}

func (r *RunResult) String() string {
	if r.Failed() {
		return fmt.Sprintf("%s: failed after %d/%d batches (%d processed): %v",
			r.ProjectID, r.BatchesCommitted, r.Batches, r.Processed, r.Err)
	}
	return fmt.Sprintf("%s: %s run processed %d opinions, %d new topics, %d updated topics in %s",
		r.ProjectID, r.Mode, r.Processed, r.NewTopicsCreated, r.UpdatedTopics, r.Duration.Round(time.Millisecond))
}

// run is the state of one Service.Run call.
type run struct {
	svc     *Service
	opts    Options
	result  *RunResult
	started time.Time
	logger  *zap.Logger

	project *models.Project
	updated map[string]bool
	created map[string]bool
}

func (r *run) execute(ctx context.Context) {
	r.transition(ctx, PhasePreparing, 0, "")

	project, err := r.svc.store.GetProject(ctx, r.result.ProjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.fail(ctx, eris.Wrapf(ErrProjectNotFound, "project %s", r.result.ProjectID))
			return
		}
		r.fail(ctx, eris.Wrap(err, "load project"))
		return
	}
	r.project = project

	existing, err := r.svc.tracker.ExistingTopics(ctx, project.ID)
	if err != nil {
		r.fail(ctx, eris.Wrap(err, "load topics"))
		return
	}
	pending, err := r.svc.tracker.Unanalyzed(ctx, project, r.opts.Force)
	if err != nil {
		r.fail(ctx, eris.Wrap(err, "load opinions"))
		return
	}

	phase := PhaseIncremental
	r.result.Mode = models.AnalysisIncremental
	if len(existing) == 0 {
		phase = PhaseFirstRun
		r.result.Mode = models.AnalysisFull
	}
	r.result.Mirrored = true

	if len(pending) == 0 {
		all, err := r.svc.store.ListOpinions(ctx, project.ID)
		if err != nil {
			r.fail(ctx, eris.Wrap(err, "load opinions"))
			return
		}
		if len(all) == 0 {
			r.fail(ctx, eris.Wrapf(ErrNoOpinions, "project %s", project.ID))
			return
		}
		r.logger.Info("Nothing to analyze", zap.Int("opinions", len(all)))
		r.complete(ctx, false)
		return
	}

	budget := r.svc.cfg.Budget
	if r.opts.Budget != nil {
		budget = *r.opts.Budget
	}
	batches := batch.Pack(pending, budget)
	r.result.Batches = len(batches)
	r.updated = make(map[string]bool)
	r.created = make(map[string]bool)

	r.logger.Info("Analysis started",
		zap.String("mode", string(r.result.Mode)),
		zap.Bool("force", r.opts.Force),
		zap.Int("opinions", len(pending)),
		zap.Int("batches", len(batches)),
		zap.Int("existing_topics", len(existing)))

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			r.fail(ctx, eris.Wrap(err, "run abandoned between batches"))
			return
		}
		r.transition(ctx, phase, r.percent(i, 0), fmt.Sprintf("classifying batch %d of %d", i+1, len(batches)))

		assignments := r.svc.classifier.Classify(ctx, b, existing)
		if err := ctx.Err(); err != nil {
			r.fail(ctx, eris.Wrap(err, "run abandoned during classification"))
			return
		}
		resolved := r.svc.resolver.Resolve(assignments, b, existing)

		r.transition(ctx, PhaseCommitting, r.percent(i, 1), fmt.Sprintf("committing batch %d of %d", i+1, len(batches)))
		cr, err := r.svc.persist.Commit(ctx, project, b, resolved)
		if err != nil {
			r.fail(ctx, errors.Join(ErrBatchFailed, fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)))
			return
		}
		r.account(cr.Processed, cr.NewTopics, cr.UpdatedTopicIDs, cr.Mirrored)
		r.logger.Debug("Batch committed",
			zap.Int("batch", i+1),
			zap.Int("processed", cr.Processed),
			zap.Int("new_topics", len(cr.NewTopics)))

		// the next batch must see the topics this one created
		if i+1 < len(batches) {
			existing, err = r.svc.tracker.ExistingTopics(ctx, project.ID)
			if err != nil {
				r.fail(ctx, errors.Join(ErrBatchFailed, eris.Wrap(err, "reload topics")))
				return
			}
		}
	}

	r.complete(ctx, true)
}

func (r *run) account(processed int, created []*models.Topic, updated []string, mirrored bool) {
	r.result.BatchesCommitted++
	r.result.Processed += processed
	r.result.Mirrored = r.result.Mirrored && mirrored
	for _, t := range created {
		r.created[t.ID] = true
	}
	for _, id := range updated {
		if !r.created[id] {
			r.updated[id] = true
		}
	}
	r.result.NewTopicsCreated = len(r.created)
	r.result.UpdatedTopics = len(r.updated)
}

// percent maps batch i and its step (0 classify, 1 commit) onto 5..95.
func (r *run) percent(i, step int) int {
	if r.result.Batches == 0 {
		return 0
	}
	done := 2*i + step
	return 5 + done*90/(2*r.result.Batches)
}

func (r *run) complete(ctx context.Context, record bool) {
	r.result.Duration = r.svc.now().Sub(r.started)
	r.result.Phase = PhaseCompleted

	if record {
		h := &models.AnalysisHistory{
			AnalysisType:         r.result.Mode,
			OpinionsProcessed:    r.result.Processed,
			NewTopicsCreated:     r.result.NewTopicsCreated,
			UpdatedTopics:        r.result.UpdatedTopics,
			ExecutionTimeSeconds: r.result.Duration.Seconds(),
			ExecutedBy:           r.executedBy(),
			ExecutionReason:      r.opts.Reason,
		}
		ok, err := r.svc.persist.RecordHistory(ctx, r.project, h)
		if err != nil {
			r.logger.Error("Failed to record analysis history", zap.Error(err))
		}
		r.result.HistoryRecorded = ok
	}

	r.transition(ctx, PhaseCompleted, 100, r.result.String())
	r.clearLegacy(ctx)

	r.logger.Info("Analysis completed",
		zap.Int("processed", r.result.Processed),
		zap.Int("new_topics", r.result.NewTopicsCreated),
		zap.Int("updated_topics", r.result.UpdatedTopics),
		zap.Bool("mirrored", r.result.Mirrored),
		zap.Duration("took", r.result.Duration))
}

func (r *run) fail(ctx context.Context, err error) {
	r.result.Duration = r.svc.now().Sub(r.started)
	r.result.Phase = PhaseFailed
	r.result.Err = err

	r.transition(ctx, PhaseFailed, r.percent(r.result.BatchesCommitted, 0), err.Error())
	r.logger.Error("Analysis failed",
		zap.Error(err),
		zap.Int("batches_committed", r.result.BatchesCommitted),
		zap.Int("batches", r.result.Batches))
}

// transition records the phase and publishes progress. Publishing is best
// effort.
func (r *run) transition(ctx context.Context, phase Phase, pct int, msg string) {
	if r.result.Phase != phase {
		r.logger.Debug("Phase change", zap.String("from", string(r.result.Phase)), zap.String("to", string(phase)))
	}
	if !phase.Terminal() {
		r.result.Phase = phase
	}

	progress := &models.SessionProgress{
		SessionID: r.result.SessionID,
		ProjectID: r.result.ProjectID,
		Phase:     string(phase),
		Progress:  pct,
		Message:   msg,
		StartedAt: r.started.UTC(),
		UpdatedAt: r.svc.now().UTC(),
	}
	if err := r.svc.mirror.Set(ctx, mirror.SessionPath(r.result.SessionID), progress); err != nil {
		r.logger.Warn("Failed to publish progress", zap.Error(err), zap.String("phase", string(phase)))
	}
}

func (r *run) clearLegacy(ctx context.Context) {
	key := r.result.ProjectID
	if r.project != nil {
		key = r.project.MirrorKey()
	}
	if err := r.svc.mirror.Set(ctx, mirror.LegacySessionPath(key), nil); err != nil {
		r.logger.Warn("Failed to clear legacy session path", zap.Error(err))
	}
}

func (r *run) executedBy() string {
	if r.opts.UserID != "" {
		return r.opts.UserID
	}
	return systemUser
}
