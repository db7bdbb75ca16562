package github

import "time"

// Issue states
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Labels that drive the workflow. Discovery picks up open issues carrying
// LabelAgentReady without LabelNeedsHuman; escalation applies LabelNeedsHuman.
const (
	LabelAgentReady = "agent-ready"
	LabelNeedsHuman = "needs-human"
)

// Merge methods accepted by MergePullRequest
const (
	MergeMethodMerge  = "merge"
	MergeMethodSquash = "squash"
	MergeMethodRebase = "rebase"
)

// Pull request review states and events
const (
	ReviewStateApproved         = "APPROVED"
	ReviewStateChangesRequested = "CHANGES_REQUESTED"
	ReviewEventApprove          = "APPROVE"
)

// Issue represents an upstream issue
type Issue struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Labels    []Label   `json:"labels"`
	User      User      `json:"user"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Label represents an issue label
type Label struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// User represents an upstream account
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Repository represents an upstream repository
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Owner         User   `json:"owner"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	CloneURL      string `json:"clone_url"`
	SSHURL        string `json:"ssh_url"`
}

// Comment represents an issue comment
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BranchRef is the head/base reference of a pull request
type BranchRef struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PullRequest represents a pull request
type PullRequest struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	State     string    `json:"state"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Head      BranchRef `json:"head"`
	Base      BranchRef `json:"base"`
	Merged    bool      `json:"merged"`
	User      User      `json:"user"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PullRequestInput is the payload for creating a pull request
type PullRequestInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Draft bool   `json:"draft,omitempty"`
}

// PullRequestReview is one review on a pull request
type PullRequestReview struct {
	ID          int64     `json:"id"`
	User        User      `json:"user"`
	State       string    `json:"state"`
	Body        string    `json:"body"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// CommitStatus is one legacy status attached to a commit
type CommitStatus struct {
	State       string `json:"state"` // pending, success, failure, error
	Context     string `json:"context"`
	Description string `json:"description"`
	TargetURL   string `json:"target_url,omitempty"`
}

// CombinedStatus is the aggregate of all commit statuses for a SHA
type CombinedStatus struct {
	State      string         `json:"state"` // pending, success, failure
	SHA        string         `json:"sha"`
	TotalCount int            `json:"total_count"`
	Statuses   []CommitStatus `json:"statuses"`
}

// CheckRun is one check (GitHub Actions job or other check suite)
type CheckRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, neutral, cancelled, skipped, timed_out, action_required
	HTMLURL    string `json:"html_url"`
}

// CheckRunsResponse is the list envelope for check runs on a commit
type CheckRunsResponse struct {
	TotalCount int        `json:"total_count"`
	CheckRuns  []CheckRun `json:"check_runs"`
}

// ListIssuesOptions filters ListIssues. Labels are matched case-insensitively
// in code after fetching; the upstream label query is case-sensitive.
type ListIssuesOptions struct {
	State  string
	Labels []string
	Since  time.Time
	Sort   string
}
