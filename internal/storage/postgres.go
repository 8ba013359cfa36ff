package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStorage is the primary store backed by PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	tx     *TxManager
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	return OpenPostgres(ctx, config.DSN(), logger)
}

// OpenPostgres connects with a raw DSN, pings and applies migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, tx: NewTxManager(db), logger: logger}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	s.logger.Info("Database schema is up to date")
	return nil
}

func (s *PostgresStorage) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.RunInTx(ctx, fn)
}

func (s *PostgresStorage) q(ctx context.Context) querier {
	return querierFromCtx(ctx, s.db)
}

func (s *PostgresStorage) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.q(ctx).ExecContext(ctx, query, args...)
}

func (s *PostgresStorage) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.q(ctx).QueryContext(ctx, query, args...)
}

func (s *PostgresStorage) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.q(ctx).QueryRowContext(ctx, query, args...), nil
}

// Projects

var projectColumns = []string{"id", "mirror_id", "name", "status", "last_analysis_at", "last_analyzed_opinions_count", "is_analyzed"}

// CreateProject is used by the intake path and by tests.
func (s *PostgresStorage) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.exec(ctx, psql.Insert("projects").
		Columns("id", "mirror_id", "name", "status").
		Values(p.ID, p.MirrorID, p.Name, p.Status))
	return mapError(err, "project", p.ID)
}

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	var (
		p    models.Project
		last sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.MirrorID, &p.Name, &p.Status, &last, &p.LastAnalyzedOpinionsCount, &p.IsAnalyzed); err != nil {
		return nil, err
	}
	if last.Valid {
		at := last.Time
		p.LastAnalysisAt = &at
	}
	return &p, nil
}

func (s *PostgresStorage) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	row, err := s.queryRow(ctx, psql.Select(projectColumns...).From("projects").Where(sq.Eq{"id": projectID}))
	if err != nil {
		return nil, err
	}
	p, err := scanProject(row)
	if err != nil {
		return nil, mapError(err, "project", projectID)
	}
	return p, nil
}

func (s *PostgresStorage) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.query(ctx, psql.Select(projectColumns...).From("projects").OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("error querying projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *PostgresStorage) UpdateProjectAnalysis(ctx context.Context, projectID string, at time.Time, analyzedCount int) error {
	result, err := s.exec(ctx, psql.Update("projects").
		Set("last_analysis_at", at).
		Set("last_analyzed_opinions_count", analyzedCount).
		Set("is_analyzed", true).
		Where(sq.Eq{"id": projectID}))
	if err != nil {
		return mapError(err, "project", projectID)
	}
	return requireAffected(result, "project", projectID)
}

// Opinions

// CreateOpinion is used by the intake path and by tests.
func (s *PostgresStorage) CreateOpinion(ctx context.Context, o *models.Opinion) error {
	_, err := s.exec(ctx, psql.Insert("opinions").
		Columns("id", "project_id", "content", "submitted_at").
		Values(o.ID, o.ProjectID, o.Content, o.SubmittedAt))
	return mapError(err, "opinion", o.ID)
}

func (s *PostgresStorage) ListOpinions(ctx context.Context, projectID string) ([]*models.Opinion, error) {
	rows, err := s.query(ctx, psql.Select("id", "project_id", "content", "submitted_at", "topic_id").
		From("opinions").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("submitted_at ASC", "id ASC"))
	if err != nil {
		return nil, fmt.Errorf("error querying opinions: %w", err)
	}
	defer rows.Close()

	var opinions []*models.Opinion
	for rows.Next() {
		var (
			o       models.Opinion
			topicID sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.ProjectID, &o.Content, &o.SubmittedAt, &topicID); err != nil {
			return nil, fmt.Errorf("error scanning opinion: %w", err)
		}
		if topicID.Valid {
			o.TopicID = models.StringPtr(topicID.String)
		}
		opinions = append(opinions, &o)
	}
	return opinions, rows.Err()
}

func (s *PostgresStorage) AssignOpinion(ctx context.Context, opinionID, topicID string) error {
	result, err := s.exec(ctx, psql.Update("opinions").
		Set("topic_id", topicID).
		Where(sq.Eq{"id": opinionID}))
	if err != nil {
		return mapError(err, "opinion", opinionID)
	}
	return requireAffected(result, "opinion", opinionID)
}

func (s *PostgresStorage) CountAssignedOpinions(ctx context.Context, projectID string) (int, error) {
	row, err := s.queryRow(ctx, psql.Select("COUNT(*)").From("opinions").
		Where(sq.Eq{"project_id": projectID}).
		Where(sq.NotEq{"topic_id": nil}))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, mapError(err, "project", projectID)
	}
	return n, nil
}

// Topics

var topicColumns = []string{"id", "project_id", "name", "category", "summary", "keywords", "count", "status", "sync_status", "created_at", "updated_at"}

func (s *PostgresStorage) ListTopics(ctx context.Context, projectID string) ([]*models.Topic, error) {
	rows, err := s.query(ctx, psql.Select(topicColumns...).From("topics").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("created_at ASC", "id ASC"))
	if err != nil {
		return nil, fmt.Errorf("error querying topics: %w", err)
	}
	defer rows.Close()

	var topics []*models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Category, &t.Summary, pq.Array(&t.Keywords),
			&t.Count, &t.Status, &t.SyncStatus, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning topic: %w", err)
		}
		topics = append(topics, &t)
	}
	return topics, rows.Err()
}

func (s *PostgresStorage) CreateTopic(ctx context.Context, t *models.Topic) error {
	keywords := t.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err := s.exec(ctx, psql.Insert("topics").
		Columns(topicColumns...).
		Values(t.ID, t.ProjectID, t.Name, t.Category, t.Summary, pq.Array(keywords),
			t.Count, t.Status, t.SyncStatus, t.CreatedAt, t.UpdatedAt))
	return mapError(err, "topic", t.ID)
}

func (s *PostgresStorage) RecountTopic(ctx context.Context, topicID string) (int, error) {
	row, err := s.queryRow(ctx, psql.Update("topics").
		Set("count", sq.Expr("(SELECT COUNT(*) FROM opinions WHERE topic_id = ?)", topicID)).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": topicID}).
		Suffix("RETURNING count"))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, mapError(err, "topic", topicID)
	}
	return n, nil
}

func (s *PostgresStorage) SetTopicsSyncStatus(ctx context.Context, projectID string, status models.SyncStatus) error {
	_, err := s.exec(ctx, psql.Update("topics").
		Set("sync_status", status).
		Where(sq.Eq{"project_id": projectID}))
	return mapError(err, "project", projectID)
}

// Analysis states

var stateColumns = []string{"opinion_id", "project_id", "last_analyzed_at", "analysis_version", "topic_id", "classification_confidence", "manual_review_flag"}

func scanState(row interface{ Scan(...any) error }) (*models.AnalysisState, error) {
	var (
		st         models.AnalysisState
		topicID    sql.NullString
		confidence sql.NullFloat64
	)
	if err := row.Scan(&st.OpinionID, &st.ProjectID, &st.LastAnalyzedAt, &st.AnalysisVersion,
		&topicID, &confidence, &st.ManualReviewFlag); err != nil {
		return nil, err
	}
	if topicID.Valid {
		st.TopicID = models.StringPtr(topicID.String)
	}
	if confidence.Valid {
		c := confidence.Float64
		st.ClassificationConfidence = &c
	}
	return &st, nil
}

func (s *PostgresStorage) ListAnalysisStates(ctx context.Context, projectKey string) ([]*models.AnalysisState, error) {
	rows, err := s.query(ctx, psql.Select(stateColumns...).From("analysis_states").
		Where(sq.Eq{"project_id": projectKey}).
		OrderBy("opinion_id"))
	if err != nil {
		return nil, fmt.Errorf("error querying analysis states: %w", err)
	}
	defer rows.Close()

	var states []*models.AnalysisState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning analysis state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func (s *PostgresStorage) GetAnalysisState(ctx context.Context, opinionID string) (*models.AnalysisState, error) {
	row, err := s.queryRow(ctx, psql.Select(stateColumns...).From("analysis_states").Where(sq.Eq{"opinion_id": opinionID}))
	if err != nil {
		return nil, err
	}
	st, err := scanState(row)
	if err != nil {
		return nil, mapError(err, "analysis state", opinionID)
	}
	return st, nil
}

func (s *PostgresStorage) UpsertAnalysisState(ctx context.Context, st *models.AnalysisState) error {
	_, err := s.exec(ctx, psql.Insert("analysis_states").
		Columns(stateColumns...).
		Values(st.OpinionID, st.ProjectID, st.LastAnalyzedAt, st.AnalysisVersion,
			st.TopicID, st.ClassificationConfidence, st.ManualReviewFlag).
		Suffix(`ON CONFLICT (opinion_id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			last_analyzed_at = EXCLUDED.last_analyzed_at,
			analysis_version = EXCLUDED.analysis_version,
			topic_id = EXCLUDED.topic_id,
			classification_confidence = EXCLUDED.classification_confidence,
			manual_review_flag = EXCLUDED.manual_review_flag`))
	return mapError(err, "analysis state", st.OpinionID)
}

// History

var historyColumns = []string{"id", "project_id", "analysis_type", "opinions_processed", "new_topics_created",
	"updated_topics", "execution_time_seconds", "executed_by", "execution_reason", "created_at"}

func (s *PostgresStorage) CreateHistory(ctx context.Context, h *models.AnalysisHistory) error {
	_, err := s.exec(ctx, psql.Insert("analysis_history").
		Columns(historyColumns...).
		Values(h.ID, h.ProjectID, h.AnalysisType, h.OpinionsProcessed, h.NewTopicsCreated,
			h.UpdatedTopics, h.ExecutionTimeSeconds, h.ExecutedBy, h.ExecutionReason, h.CreatedAt))
	return mapError(err, "analysis history", h.ID)
}

func (s *PostgresStorage) DeleteHistory(ctx context.Context, historyID string) error {
	result, err := s.exec(ctx, psql.Delete("analysis_history").Where(sq.Eq{"id": historyID}))
	if err != nil {
		return mapError(err, "analysis history", historyID)
	}
	return requireAffected(result, "analysis history", historyID)
}

func (s *PostgresStorage) ListHistory(ctx context.Context, projectID string, limit int) ([]*models.AnalysisHistory, error) {
	b := psql.Select(historyColumns...).From("analysis_history").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("created_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("error querying analysis history: %w", err)
	}
	defer rows.Close()

	var history []*models.AnalysisHistory
	for rows.Next() {
		var h models.AnalysisHistory
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.AnalysisType, &h.OpinionsProcessed, &h.NewTopicsCreated,
			&h.UpdatedTopics, &h.ExecutionTimeSeconds, &h.ExecutedBy, &h.ExecutionReason, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning analysis history: %w", err)
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func requireAffected(result sql.Result, entity, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}
