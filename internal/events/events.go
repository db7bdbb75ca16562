// Package events owns the append-only audit log and operator notifications.
// The Recorder durably appends events to the store and fans them out to live
// subscribers (the gateway WebSocket hub); the Notifier routes WARN/ERROR
// notifications to registered delivery channels.
package events

import (
	"time"
)

// Event types recorded in the audit log. Types are free-form strings; these
// are the ones the workflow emits.
const (
	TypeDetected               = "DETECTED"
	TypeDispatched             = "DISPATCHED"
	TypeIterationStart         = "ITERATION_START"
	TypeIterationSuccess       = "ITERATION_SUCCESS"
	TypeIterationFailed        = "ITERATION_FAILED"
	TypeMerged                 = "MERGED"
	TypeAwaitingApproval       = "AWAITING_APPROVAL"
	TypeHumanApproved          = "HUMAN_APPROVED"
	TypeHumanRejection         = "HUMAN_REJECTION"
	TypeDependencyBlocked      = "DEPENDENCY_BLOCKED"
	TypeDependencyCycle        = "DEPENDENCY_CYCLE"
	TypeDependencyFetchFailed  = "DEPENDENCY_FETCH_FAILED"
	TypeBlockedReleased        = "BLOCKED_RELEASED"
	TypeMaxIterationsReached   = "MAX_ITERATIONS_REACHED"
	TypeMaxReviewItersReached  = "MAX_REVIEW_ITERATIONS_REACHED"
	TypeCancelled              = "CANCELLED"
	TypeRepoGone               = "REPO_GONE"
	TypeBranchSafetyViolation  = "BRANCH_SAFETY_VIOLATION"
	TypeCITimeout              = "CI_TIMEOUT"
	TypeCIFailed               = "CI_FAILED"
	TypeReviewFailed           = "REVIEW_FAILED"
	TypePollError              = "POLL_ERROR"
	TypeCooldownReset          = "COOLDOWN_RESET"
)

// Severity levels for notifications
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a human-directed message about workflow state. Only
// warning and error severities escalate beyond the log.
type Notification struct {
	ID          string    `json:"id"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Repo        string    `json:"repo,omitempty"`
	IssueNumber int       `json:"issue_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
