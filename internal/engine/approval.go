package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/store"
)

// CheckApprovals sweeps every issue parked in AWAITING_APPROVAL and acts on
// human review activity: an approval merges the pull request, a
// changes-requested review threads the feedback back into implementation.
// Issues with no review activity stay parked. Called once per poll cycle.
func (e *Engine) CheckApprovals(ctx context.Context) {
	issues, err := e.store.ListIssuesByStatus(store.StatusAwaitingApproval)
	if err != nil {
		e.logger.Error("failed to list issues awaiting approval", slog.String("error", err.Error()))
		return
	}

	for _, issue := range issues {
		if ctx.Err() != nil {
			return
		}
		e.checkApproval(ctx, issue)
	}
}

func (e *Engine) checkApproval(ctx context.Context, issue *store.Issue) {
	mu := e.locks.lockFor(issue.RepoID, issue.IssueNumber)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock; another path may have moved the issue on.
	issue, err := e.store.GetIssueByID(issue.ID)
	if err != nil {
		e.logger.Error("failed to reload issue", slog.String("error", err.Error()))
		return
	}
	if issue.Status != store.StatusAwaitingApproval {
		return
	}
	repo, err := e.store.GetRepoByID(issue.RepoID)
	if err != nil {
		e.logger.Error("failed to load repo for approval check", slog.String("error", err.Error()))
		return
	}

	pr, err := e.upstream.FindPRByBranch(ctx, repo.Owner, repo.Name, issue.BranchName)
	if err != nil {
		e.logger.Warn("failed to look up pull request for approval check",
			slog.String("repo", repo.FullName()),
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		return
	}
	if pr == nil {
		// The open PR vanished: merged or closed by hand.
		e.reconcileMissingPR(ctx, repo, issue)
		return
	}

	reviews, err := e.upstream.ListPullRequestReviews(ctx, repo.Owner, repo.Name, pr.Number)
	if err != nil {
		e.logger.Warn("failed to list pull request reviews",
			slog.Int("pr", pr.Number),
			slog.String("error", err.Error()),
		)
		return
	}

	latest := github.LatestReviewStates(reviews)

	// Rejection wins over approval: any reviewer still requesting changes
	// sends the issue back to implementation.
	var rejections []string
	var approver string
	for login, review := range latest {
		switch review.State {
		case github.ReviewStateChangesRequested:
			text := strings.TrimSpace(review.Body)
			if text == "" {
				text = "(no comment provided)"
			}
			rejections = append(rejections, fmt.Sprintf("%s: %s", login, text))
		case github.ReviewStateApproved:
			approver = login
		}
	}

	if len(rejections) > 0 {
		e.handleRejection(repo, issue, strings.Join(rejections, "\n\n"))
		return
	}
	if approver != "" {
		e.handleApproval(ctx, repo, issue, pr, approver)
	}
}

func (e *Engine) handleRejection(repo *store.Repo, issue *store.Issue, feedback string) {
	if err := e.budget.HandleHumanRejection(issue, feedback); err != nil {
		e.logger.Error("failed to record human rejection",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Info("Changes requested, resuming implementation",
		slog.String("repo", repo.FullName()),
		slog.Int("issue", issue.IssueNumber),
	)
	if err := e.Dispatch(issue.ID); err != nil {
		// Put it back in the queue for the next poll cycle.
		e.logger.Warn("failed to dispatch rejected issue",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		if _, serr := e.store.SetStatus(issue.ID, store.StatusQueued, store.StatusInProgress); serr != nil {
			e.logger.Error("failed to re-queue rejected issue", slog.String("error", serr.Error()))
		}
	}
}

func (e *Engine) handleApproval(ctx context.Context, repo *store.Repo, issue *store.Issue, pr *github.PullRequest, approver string) {
	if err := e.mergePR(ctx, repo, issue, pr); err != nil {
		// Leave the issue parked; the next sweep retries the merge.
		e.logger.Warn("merge after approval failed, will retry",
			slog.Int("pr", pr.Number),
			slog.String("error", err.Error()),
		)
		return
	}
	e.recorder.Record(events.TypeHumanApproved, repo.ID, issue.ID, issue.IssueNumber,
		fmt.Sprintf("approved by %s", approver))

	if err := e.store.MarkCompleted(issue.ID); err != nil {
		e.logger.Error("failed to complete approved issue", slog.String("error", err.Error()))
		return
	}
	e.recorder.Record(events.TypeMerged, repo.ID, issue.ID, issue.IssueNumber,
		fmt.Sprintf("pull request #%d merged after approval by %s", pr.Number, approver))
	e.notifier.Notify(ctx, events.Notification{
		Severity:    events.SeverityInfo,
		Title:       "Issue resolved",
		Message:     fmt.Sprintf("%s#%d merged via pull request #%d after approval", repo.FullName(), issue.IssueNumber, pr.Number),
		Repo:        repo.FullName(),
		IssueNumber: issue.IssueNumber,
	})
	if err := e.workspaces.Workspace(repo, issue.IssueNumber).Remove(); err != nil {
		e.logger.Warn("failed to remove workspace", slog.String("error", err.Error()))
	}
}

// reconcileMissingPR resolves an AWAITING_APPROVAL issue whose open PR is
// gone. A closed upstream issue means someone merged or resolved it by hand,
// so the tracked issue completes. An issue still open with no PR needs a
// human decision and stays parked.
func (e *Engine) reconcileMissingPR(ctx context.Context, repo *store.Repo, issue *store.Issue) {
	ghIssue, err := e.upstream.GetIssue(ctx, repo.Owner, repo.Name, issue.IssueNumber)
	if err != nil {
		e.logger.Warn("failed to check upstream issue state",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		return
	}
	if ghIssue.State == github.StateClosed {
		if err := e.store.MarkCompleted(issue.ID); err != nil {
			e.logger.Error("failed to complete externally resolved issue", slog.String("error", err.Error()))
			return
		}
		e.recorder.Record(events.TypeMerged, repo.ID, issue.ID, issue.IssueNumber,
			"resolved externally while awaiting approval")
		if err := e.workspaces.Workspace(repo, issue.IssueNumber).Remove(); err != nil {
			e.logger.Warn("failed to remove workspace", slog.String("error", err.Error()))
		}
		return
	}
	e.logger.Warn("Pull request disappeared but issue is still open, leaving parked",
		slog.String("repo", repo.FullName()),
		slog.Int("issue", issue.IssueNumber),
		slog.String("branch", issue.BranchName),
	)
}
