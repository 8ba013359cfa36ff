// Package analyzer runs incremental topic analysis for projects.
package analyzer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/opinion-topics/internal/batch"
	"github.com/xaenox/opinion-topics/internal/classifier"
	"github.com/xaenox/opinion-topics/internal/mirror"
	"github.com/xaenox/opinion-topics/internal/models"
	"github.com/xaenox/opinion-topics/internal/persist"
	"github.com/xaenox/opinion-topics/internal/resolver"
	"github.com/xaenox/opinion-topics/internal/storage"
	"github.com/xaenox/opinion-topics/internal/tracker"
)

var (
	ErrProjectNotFound = eris.New("project not found")
	ErrNoOpinions      = eris.New("project has no opinions")
	ErrBatchFailed     = eris.New("batch failed")
	ErrRunInProgress   = eris.New("analysis already running for this project")
)

const (
	DefaultConcurrency = 4
	systemUser         = "system"
)

type Config struct {
	Budget batch.Budget
	// Concurrency bounds how many projects RunAll analyzes at once.
	Concurrency int
}

// Options are per-run knobs.
type Options struct {
	// Force re-classifies every opinion regardless of its analysis state.
	Force  bool
	UserID string
	Reason string
	// Budget overrides the service budget when set.
	Budget *batch.Budget
}

type Service struct {
	store      storage.Storage
	mirror     mirror.Mirror
	tracker    *tracker.Tracker
	classifier classifier.Classifier
	resolver   *resolver.Resolver
	persist    *persist.Coordinator
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	running map[string]string
}

func NewService(
	store storage.Storage,
	m mirror.Mirror,
	cls classifier.Classifier,
	coord *persist.Coordinator,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Service{
		store:      store,
		mirror:     m,
		tracker:    tracker.New(store, logger),
		classifier: cls,
		resolver:   resolver.New(logger),
		persist:    coord,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		running:    make(map[string]string),
	}
}

// Running returns the session id of the project's active run, if any.
func (s *Service) Running(projectID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.running[projectID]
	return id, ok
}

func (s *Service) acquire(projectID, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[projectID]; busy {
		return false
	}
	s.running[projectID] = sessionID
	return true
}

func (s *Service) release(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, projectID)
}

// Run analyzes the project's unanalyzed opinions batch by batch. Batches
// are committed in order; a failing batch stops the run but keeps what was
// committed before it. The returned error is the result's Err.
func (s *Service) Run(ctx context.Context, projectID string, opts Options) (*RunResult, error) {
	r := &run{
		svc:  s,
		opts: opts,
		result: &RunResult{
			ProjectID: projectID,
			SessionID: uuid.NewString(),
			Phase:     PhaseIdle,
		},
		started: s.now(),
		logger:  s.logger.With(zap.String("project_id", projectID)),
	}

	if !s.acquire(projectID, r.result.SessionID) {
		r.result.Phase = PhaseFailed
		r.result.Err = ErrRunInProgress
		return r.result, r.result.Err
	}
	defer s.release(projectID)

	r.execute(ctx)
	return r.result, r.result.Err
}

// RunAll runs every project, up to Config.Concurrency at a time. A failing
// project does not stop the others; its result carries the cause.
func (s *Service) RunAll(ctx context.Context, opts Options) ([]*RunResult, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list projects")
	}

	results := make([]*RunResult, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, p := range projects {
		g.Go(func() error {
			res, err := s.Run(gctx, p.ID, opts)
			if err != nil && !errors.Is(err, ErrNoOpinions) {
				s.logger.Warn("Project analysis failed",
					zap.String("project_id", p.ID),
					zap.Error(err))
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Reconcile re-publishes every project whose topics are not in sync with the
// mirror store. It returns how many projects were pushed.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "list projects")
	}

	pushed := 0
	var errs []error
	for _, p := range projects {
		ok, err := s.persist.Reconcile(ctx, p.ID)
		if ok && err == nil {
			pushed++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return pushed, errors.Join(errs...)
}

// Progress reads the last progress snapshot of a session.
func (s *Service) Progress(ctx context.Context, sessionID string) (*models.SessionProgress, bool, error) {
	var p models.SessionProgress
	ok, err := s.mirror.Get(ctx, mirror.SessionPath(sessionID), &p)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &p, true, nil
}
