package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/issuebot/issuebot/internal/store"
)

// statusResponse is the payload for /api/v1/status.
type statusResponse struct {
	Version      string           `json:"version"`
	Poller       pollerStatusBody `json:"poller"`
	Repos        int              `json:"repos"`
	Issues       map[string]int   `json:"issues"`
	EventClients int              `json:"event_clients"`
	Cost         costSummaryBody  `json:"cost"`
}

type pollerStatusBody struct {
	Running  bool   `json:"running"`
	Interval string `json:"interval,omitempty"`
	NextRun  string `json:"next_run,omitempty"`
	LastRun  string `json:"last_run,omitempty"`
}

type costSummaryBody struct {
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
	Invocations   int     `json:"invocations"`
}

type repoBody struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Mode          string `json:"mode"`
	MaxIterations int    `json:"max_iterations"`
	CIEnabled     bool   `json:"ci_enabled"`
	AutoMerge     bool   `json:"auto_merge"`
}

type issueBody struct {
	ID              int64  `json:"id"`
	Repo            string `json:"repo"`
	IssueNumber     int    `json:"issue_number"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	Iteration       int    `json:"iteration"`
	ReviewIteration int    `json:"review_iteration,omitempty"`
	Branch          string `json:"branch,omitempty"`
	Phase           string `json:"phase,omitempty"`
	BlockedBy       string `json:"blocked_by,omitempty"`
	CooldownUntil   string `json:"cooldown_until,omitempty"`
	UpdatedAt       string `json:"updated_at"`
}

// handleStatus returns a snapshot of the orchestrator: poller state,
// per-status issue counts, repo count, connected event clients, and total
// spend.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issues, err := s.config.Store.ListIssues()
	if err != nil {
		s.internalError(w, "listing issues", err)
		return
	}
	counts := make(map[string]int, len(store.KnownStatuses))
	for _, status := range store.KnownStatuses {
		counts[status] = 0
	}
	for _, issue := range issues {
		counts[issue.Status]++
	}

	repos, err := s.config.Store.ListRepos()
	if err != nil {
		s.internalError(w, "listing repos", err)
		return
	}

	cost, err := s.config.Store.TotalCostSummary()
	if err != nil {
		s.internalError(w, "summarizing costs", err)
		return
	}

	resp := statusResponse{
		Version:      s.config.Version,
		Repos:        len(repos),
		Issues:       counts,
		EventClients: s.hub.count(),
		Cost: costSummaryBody{
			InputTokens:   cost.InputTokens,
			OutputTokens:  cost.OutputTokens,
			EstimatedCost: cost.EstimatedCost,
			Invocations:   cost.Invocations,
		},
	}
	if s.config.Poller != nil {
		ps := s.config.Poller.Status()
		resp.Poller = pollerStatusBody{
			Running:  ps.Running,
			Interval: ps.Interval.String(),
		}
		if !ps.NextRun.IsZero() {
			resp.Poller.NextRun = ps.NextRun.UTC().Format(time.RFC3339)
		}
		if !ps.LastRun.IsZero() {
			resp.Poller.LastRun = ps.LastRun.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, resp)
}

// handleRepos lists the watched repositories.
func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	repos, err := s.config.Store.ListRepos()
	if err != nil {
		s.internalError(w, "listing repos", err)
		return
	}

	out := make([]repoBody, 0, len(repos))
	for _, repo := range repos {
		out = append(out, repoBody{
			ID:            repo.ID,
			FullName:      repo.FullName(),
			DefaultBranch: repo.DefaultBranch,
			Mode:          repo.Mode,
			MaxIterations: repo.MaxIterations,
			CIEnabled:     repo.CIEnabled,
			AutoMerge:     repo.AutoMerge,
		})
	}
	writeJSON(w, map[string][]repoBody{"repos": out})
}

// handleIssues lists tracked issues, optionally filtered by ?status=.
func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		issues []*store.Issue
		err    error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		if !store.ValidStatus(status) {
			http.Error(w, fmt.Sprintf("unknown status %q", status), http.StatusBadRequest)
			return
		}
		issues, err = s.config.Store.ListIssuesByStatus(status)
	} else {
		issues, err = s.config.Store.ListIssues()
	}
	if err != nil {
		s.internalError(w, "listing issues", err)
		return
	}

	repos, err := s.config.Store.ListRepos()
	if err != nil {
		s.internalError(w, "listing repos", err)
		return
	}
	names := make(map[int64]string, len(repos))
	for _, repo := range repos {
		names[repo.ID] = repo.FullName()
	}

	out := make([]issueBody, 0, len(issues))
	for _, issue := range issues {
		body := issueBody{
			ID:              issue.ID,
			Repo:            names[issue.RepoID],
			IssueNumber:     issue.IssueNumber,
			Title:           issue.IssueTitle,
			Status:          issue.Status,
			Iteration:       issue.CurrentIteration,
			ReviewIteration: issue.CurrentReviewIteration,
			Branch:          issue.BranchName,
			Phase:           issue.CurrentPhase,
			BlockedBy:       issue.BlockedByIssues,
			UpdatedAt:       issue.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if issue.CooldownUntil != nil {
			body.CooldownUntil = issue.CooldownUntil.UTC().Format(time.RFC3339)
		}
		out = append(out, body)
	}
	writeJSON(w, map[string][]issueBody{"issues": out})
}
