package store

import (
	"strings"
	"time"
)

// TrackedIssue statuses. Status is the single source of truth for the
// workflow state machine.
const (
	StatusPending          = "PENDING"
	StatusQueued           = "QUEUED"
	StatusBlocked          = "BLOCKED"
	StatusInProgress       = "IN_PROGRESS"
	StatusAwaitingApproval = "AWAITING_APPROVAL"
	StatusCompleted        = "COMPLETED"
	StatusFailed           = "FAILED"
	StatusCooldown         = "COOLDOWN"
)

// KnownStatuses lists every tracked-issue status in lifecycle order.
var KnownStatuses = []string{
	StatusPending,
	StatusQueued,
	StatusBlocked,
	StatusInProgress,
	StatusAwaitingApproval,
	StatusCompleted,
	StatusFailed,
	StatusCooldown,
}

// ValidStatus reports whether status names a known tracked-issue status.
func ValidStatus(status string) bool {
	for _, s := range KnownStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Workflow phases recorded on tracked_issues.current_phase.
const (
	PhaseImplementation = "IMPLEMENTATION"
	PhaseCI             = "CI"
	PhaseReview         = "REVIEW"
	PhaseMerge          = "MERGE"
)

// Cost phases. Only tool invocations are metered.
const (
	CostPhaseImplementation = "IMPLEMENTATION"
	CostPhaseReview         = "REVIEW"
)

// Repo modes.
const (
	ModeAutonomous    = "AUTONOMOUS"
	ModeApprovalGated = "APPROVAL_GATED"
)

// Repo is a watched repository and its workflow options.
type Repo struct {
	ID                    int64
	Owner                 string
	Name                  string
	DefaultBranch         string
	Mode                  string
	MaxIterations         int
	MaxReviewIterations   int
	CIEnabled             bool
	CITimeoutMinutes      int
	AutoMerge             bool
	ReviewEnabled         bool
	SecurityReviewEnabled bool
	AllowedPaths          string // comma-separated; empty = unrestricted
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FullName returns "owner/name".
func (r *Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// AllowedPathList returns the allowed paths as a slice, or nil when
// unrestricted.
func (r *Repo) AllowedPathList() []string {
	if strings.TrimSpace(r.AllowedPaths) == "" {
		return nil
	}
	parts := strings.Split(r.AllowedPaths, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Issue is a tracked issue row. Mutations go through the explicit transition
// methods on Store; fields here are plain values passed across component
// boundaries.
type Issue struct {
	ID                     int64
	RepoID                 int64
	IssueNumber            int
	IssueTitle             string
	Status                 string
	CurrentIteration       int
	CurrentReviewIteration int
	BranchName             string
	CurrentPhase           string // empty when no phase is active
	CooldownUntil          *time.Time
	BlockedByIssues        string // comma-separated issue numbers
	LastFeedback           string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Iteration records one complete attempt (implementation → CI → review) for
// an issue. Rows are append-only.
type Iteration struct {
	ID             int64
	IssueID        int64
	IterationNum   int
	ClaudeOutput   string
	SelfAssessment string
	CIResult       string // passed, failed, timeout, or empty
	Diff           string
	ReviewJSON     string
	ReviewPassed   *bool
	ReviewModel    string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// Cost records token usage for a single tool invocation.
type Cost struct {
	ID            int64
	IssueID       int64
	IterationNum  int
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost float64
	ModelUsed     string
	Phase         string
	CreatedAt     time.Time
}

// Event is one row of the append-only audit log.
type Event struct {
	ID          int64
	CreatedAt   time.Time
	EventType   string
	RepoID      int64 // 0 = not tied to a repo
	IssueID     int64 // 0 = not tied to an issue
	IssueNumber int   // 0 = not tied to an issue
	Message     string
}

// CostSummary aggregates cost rows.
type CostSummary struct {
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost float64
	Invocations   int
}
