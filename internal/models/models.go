package models

import (
	"strings"
	"time"
)

// Project is owned outside the analysis engine. It can be addressed by its
// primary-store id or by the id it carries in the mirror store.
type Project struct {
	ID                        string     `json:"id"`
	MirrorID                  string     `json:"mirror_id,omitempty"`
	Name                      string     `json:"name"`
	Status                    string     `json:"status"`
	LastAnalysisAt            *time.Time `json:"last_analysis_at,omitempty"`
	LastAnalyzedOpinionsCount int        `json:"last_analyzed_opinions_count"`
	IsAnalyzed                bool       `json:"is_analyzed"`
}

// Keys returns every identifier the project can be addressed by.
func (p *Project) Keys() []string {
	keys := []string{p.ID}
	if p.MirrorID != "" && p.MirrorID != p.ID {
		keys = append(keys, p.MirrorID)
	}
	return keys
}

// MirrorKey is the id the project is published under in the mirror store.
func (p *Project) MirrorKey() string {
	if p.MirrorID != "" {
		return p.MirrorID
	}
	return p.ID
}

// Opinion is a single free-text submission. Content is never edited here.
type Opinion struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Content     string    `json:"content"`
	SubmittedAt time.Time `json:"submitted_at"`
	TopicID     *string   `json:"topic_id,omitempty"`
}

type TopicStatus string

const (
	TopicActive   TopicStatus = "active"
	TopicArchived TopicStatus = "archived"
)

// SyncStatus tracks whether a topic has reached the mirror store.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// Topic is a named cluster of opinions. Count always equals the number of
// opinions whose TopicID points at it.
type Topic struct {
	ID         string      `json:"id"`
	ProjectID  string      `json:"project_id"`
	Name       string      `json:"name"`
	Category   string      `json:"category,omitempty"`
	Summary    string      `json:"summary"`
	Keywords   []string    `json:"keywords"`
	Count      int         `json:"count"`
	Status     TopicStatus `json:"status"`
	SyncStatus SyncStatus  `json:"sync_status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// AnalysisState is the per-opinion record of the last classification.
type AnalysisState struct {
	OpinionID                string    `json:"opinion_id"`
	ProjectID                string    `json:"project_id"`
	LastAnalyzedAt           time.Time `json:"last_analyzed_at"`
	AnalysisVersion          int       `json:"analysis_version"`
	TopicID                  *string   `json:"topic_id,omitempty"`
	ClassificationConfidence *float64  `json:"classification_confidence,omitempty"`
	ManualReviewFlag         bool      `json:"manual_review_flag"`
}

type AnalysisType string

const (
	AnalysisFull        AnalysisType = "full"
	AnalysisIncremental AnalysisType = "incremental"
)

// AnalysisHistory is the append-only audit record of one completed run.
type AnalysisHistory struct {
	ID                   string       `json:"id"`
	ProjectID            string       `json:"project_id"`
	AnalysisType         AnalysisType `json:"analysis_type"`
	OpinionsProcessed    int          `json:"opinions_processed"`
	NewTopicsCreated     int          `json:"new_topics_created"`
	UpdatedTopics        int          `json:"updated_topics"`
	ExecutionTimeSeconds float64      `json:"execution_time_seconds"`
	ExecutedBy           string       `json:"executed_by"`
	ExecutionReason      string       `json:"execution_reason"`
	CreatedAt            time.Time    `json:"created_at"`
}

// NormalizeName folds a topic name for duplicate detection.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
