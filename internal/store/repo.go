package store

import (
	"context"
	"time"
)

// NodeType is the level of a node in the learning graph.
type NodeType string

const (
	NodeRoot       NodeType = "root"
	NodeConcept    NodeType = "concept"
	NodeSubconcept NodeType = "subconcept"
)

// ParentType returns the legal parent level for a node type, or "" for roots.
func (t NodeType) ParentType() NodeType {
	switch t {
	case NodeSubconcept:
		return NodeConcept
	case NodeConcept:
		return NodeRoot
	default:
		return ""
	}
}

// Node is a vertex in the three-level forest of DAGs
// (root → concept → subconcept).
type Node struct {
	ID          string
	UserID      string
	Type        NodeType
	ParentID    string // empty for roots
	ClusterID   string // optional branch-cluster reference
	Title       string
	Description string
	Accuracy    float64 // mastery score in [0,1]
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Edge is a directed same-level dependency: source must be learned before
// target.
type Edge struct {
	SourceID string
	TargetID string
}

// Assessment is one evaluation instance tied to a user and a target node.
type Assessment struct {
	ID        string
	UserID    string
	NodeID    string
	Kind      string // e.g. "diagnostic"
	CreatedAt time.Time
}

// QuestionFormat enumerates supported question shapes.
const (
	FormatMultipleChoice = "multiple_choice"
	FormatOpenEnded      = "open_ended"
)

// Question belongs to an assessment.
type Question struct {
	ID            string
	AssessmentID  string
	Position      int
	Prompt        string
	Format        string
	Options       []string
	CorrectAnswer string
	Difficulty    int // 1-5
}

// Answer is a user's latest response to a question. Correctness, score and
// feedback are nullable until graded.
type Answer struct {
	ID             string
	QuestionID     string
	UserID         string
	SelectedOption string
	FreeText       string
	IsCorrect      *bool
	Score          *float64 // [0,1] or [0,100]; normalized downstream
	Feedback       string
	CreatedAt      time.Time
}

// Progress is the per (user, node) mutable aggregate.
type Progress struct {
	UserID             string
	NodeID             string
	Accuracy           float64
	Attempts           int
	FirstEnteredAt     time.Time
	LastEnteredAt      time.Time
	CompletedAt        *time.Time
	StructureGenerated bool
}

// GenerationLogData is one append-only audit record for a graph-mutating
// agent run. Write-once, never read back by core logic.
type GenerationLogData struct {
	NodeID        string
	Trigger       string
	PromptSummary string
	Metadata      map[string]any
}

// LLMRequestEventData captures the data for a single LLM request event.
type LLMRequestEventData struct {
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// LLMRequestEvent is a persisted LLM request event.
type LLMRequestEvent struct {
	ID        int64
	Timestamp time.Time
	LLMRequestEventData
}

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit int // max results (0 = unlimited)
}

// PurposeUsage aggregates LLM usage per purpose label.
type PurposeUsage struct {
	Purpose      string
	Calls        int
	InputTokens  int
	OutputTokens int
	AvgLatencyMs int64
}

// ModelUsage aggregates LLM usage per model, for cost estimation.
type ModelUsage struct {
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
}

// GraphRepo persists nodes and edges. Every operation is atomic at
// single-node-or-edge granularity; invariants above that level are owned by
// the mutation protocol, not the store.
type GraphRepo interface {
	CreateNode(ctx context.Context, n *Node) error
	GetNode(ctx context.Context, id string) (*Node, error)
	// ListChildren returns the direct children of a parent node,
	// ordered by creation time.
	ListChildren(ctx context.Context, parentID string) ([]Node, error)
	UpdateNodeAccuracy(ctx context.Context, id string, accuracy float64) error
	// DeleteNode removes the node row. Edge cleanup is the caller's job.
	DeleteNode(ctx context.Context, id string) error

	EdgeExists(ctx context.Context, sourceID, targetID string) (bool, error)
	CreateEdge(ctx context.Context, sourceID, targetID string) error
	DeleteEdge(ctx context.Context, sourceID, targetID string) error
	// EdgesTouching returns all edges where the node is source or target.
	EdgesTouching(ctx context.Context, nodeID string) ([]Edge, error)
	// EdgesAmong returns all edges whose source AND target are both in ids.
	EdgesAmong(ctx context.Context, ids []string) ([]Edge, error)
}

// AssessmentRepo persists assessments, questions and answers.
type AssessmentRepo interface {
	// GetOrCreate returns the assessment for (user, node, kind), creating
	// it on first use.
	GetOrCreate(ctx context.Context, userID, nodeID, kind string) (*Assessment, error)
	AddQuestion(ctx context.Context, q *Question) error
	ListQuestions(ctx context.Context, assessmentID string) ([]Question, error)
	SaveAnswer(ctx context.Context, a *Answer) error
	// LatestAnswers returns the most recent answer per question for the user.
	LatestAnswers(ctx context.Context, assessmentID, userID string) ([]Answer, error)
	UpdateAnswerGrade(ctx context.Context, answerID string, isCorrect bool, score float64, feedback string) error
}

// ProgressRepo persists per (user, node) progress aggregates.
type ProgressRepo interface {
	// Ensure returns the aggregate, creating it on first interaction.
	Ensure(ctx context.Context, userID, nodeID string) (*Progress, error)
	RecordAttempt(ctx context.Context, userID, nodeID string, accuracy float64) error
	MarkStructureGenerated(ctx context.Context, userID, nodeID string) error
	MarkCompleted(ctx context.Context, userID, nodeID string) error
}

// AuditRepo appends generation log entries.
type AuditRepo interface {
	AppendGeneration(ctx context.Context, data GenerationLogData) error
}

// EventRepo provides append and query access to LLM request events.
type EventRepo interface {
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error
	QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]LLMRequestEvent, error)
	// GetLLMEvent returns one event by ID, or nil when absent.
	GetLLMEvent(ctx context.Context, id int) (*LLMRequestEvent, error)
	LLMUsageByPurpose(ctx context.Context) ([]PurposeUsage, error)
	LLMUsageByModel(ctx context.Context) ([]ModelUsage, error)
}
