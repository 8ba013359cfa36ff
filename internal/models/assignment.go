package models

type AssignmentKind int

const (
	// AssignUnresolved means the model gave nothing usable; the resolver
	// decides by similarity.
	AssignUnresolved AssignmentKind = iota
	AssignExisting
	AssignNew
)

func (k AssignmentKind) String() string {
	switch k {
	case AssignExisting:
		return "existing"
	case AssignNew:
		return "new"
	default:
		return "unresolved"
	}
}

// Rationale tags attached to assignments the engine made up on its own.
const (
	RationaleParseFailed      = "structured-parse-failed"
	RationaleCompletionFailed = "completion-failed"
	RationaleOmitted          = "omitted-by-model"
	RationaleSimilarity       = "similarity-fallback"
	RationaleForced           = "forced-best-match"
	RationaleInvalid          = "invalid-content"
)

// FallbackConfidence is the ceiling for every synthesized assignment.
const FallbackConfidence = 0.5

// TopicProposal describes a topic the model (or a heuristic) wants created.
type TopicProposal struct {
	Name       string   `json:"name"`
	Category   string   `json:"category,omitempty"`
	Summary    string   `json:"summary"`
	Keywords   []string `json:"keywords,omitempty"`
	OpinionIDs []string `json:"opinion_ids,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Assignment is the classification outcome for exactly one opinion.
//
// For AssignExisting, TopicRef points into the existing topic listing.
// For AssignNew, NewTopic carries the proposal. Synthesized assignments also
// carry a heuristic NewTopic used when nothing better is found.
type Assignment struct {
	OpinionID   string
	Kind        AssignmentKind
	TopicRef    Reference
	NewTopic    *TopicProposal
	Confidence  float64
	Rationale   string
	Synthesized bool
}
