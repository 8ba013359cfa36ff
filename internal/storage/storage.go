package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/opinion-topics/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Storage is the primary relational store. Every method participates in the
// transaction carried by ctx when called inside RunInTx.
type Storage interface {
	ProjectStorage
	OpinionStorage
	TopicStorage
	StateStorage
	HistoryStorage

	// RunInTx runs fn in a single transaction. An error from fn discards
	// every write made through ctx.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}

type ProjectStorage interface {
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProjectAnalysis(ctx context.Context, projectID string, at time.Time, analyzedCount int) error
}

type OpinionStorage interface {
	// ListOpinions returns opinions in ascending submission order.
	ListOpinions(ctx context.Context, projectID string) ([]*models.Opinion, error)
	AssignOpinion(ctx context.Context, opinionID, topicID string) error
	CountAssignedOpinions(ctx context.Context, projectID string) (int, error)
}

type TopicStorage interface {
	ListTopics(ctx context.Context, projectID string) ([]*models.Topic, error)
	CreateTopic(ctx context.Context, topic *models.Topic) error
	// RecountTopic sets count to the number of opinions referencing the topic.
	RecountTopic(ctx context.Context, topicID string) (int, error)
	SetTopicsSyncStatus(ctx context.Context, projectID string, status models.SyncStatus) error
}

type StateStorage interface {
	// ListAnalysisStates returns the states stored under projectKey, which
	// may be either the primary or the mirror id of a project.
	ListAnalysisStates(ctx context.Context, projectKey string) ([]*models.AnalysisState, error)
	GetAnalysisState(ctx context.Context, opinionID string) (*models.AnalysisState, error)
	UpsertAnalysisState(ctx context.Context, state *models.AnalysisState) error
}

type HistoryStorage interface {
	CreateHistory(ctx context.Context, h *models.AnalysisHistory) error
	DeleteHistory(ctx context.Context, historyID string) error
	ListHistory(ctx context.Context, projectID string, limit int) ([]*models.AnalysisHistory, error)
}
