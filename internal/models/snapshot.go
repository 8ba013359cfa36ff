package models

import "time"

// Insight is a derived per-topic statistic published to the mirror store.
type Insight struct {
	TopicID      string  `json:"topic_id"`
	TopicName    string  `json:"topic_name"`
	OpinionCount int     `json:"opinion_count"`
	Share        float64 `json:"share"`
	Rank         int     `json:"rank"`
}

// AnalysisSnapshot is written to projects/{id}/analysis.
type AnalysisSnapshot struct {
	ProjectID string            `json:"project_id"`
	Topics    []Topic           `json:"topics"`
	Insights  []Insight         `json:"insights"`
	History   []AnalysisHistory `json:"history"`
	SyncedAt  time.Time         `json:"synced_at"`
}

// SessionProgress is written to analysis-sessions/{id}.
type SessionProgress struct {
	SessionID string    `json:"session_id"`
	ProjectID string    `json:"project_id"`
	Phase     string    `json:"phase"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
