package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/issuebot/issuebot/internal/codegen"
	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/gitops"
	"github.com/issuebot/issuebot/internal/metrics"
	"github.com/issuebot/issuebot/internal/review"
	"github.com/issuebot/issuebot/internal/store"
)

// Outcomes of a single iteration attempt.
type outcome int

const (
	outcomeRetry        outcome = iota // iteration failed, budget permitting try again
	outcomeReviewRetry                 // review rejected, review budget permitting try again
	outcomeCompleted                   // merged, issue resolved
	outcomeAwaiting                    // parked for human approval
	outcomeCancelled                   // workflow context cancelled
	outcomeRepoGone                    // upstream repository is gone
	outcomeBranchUnsafe                // branch safety check refused the working branch
	outcomeStoreFailed                 // persistence failure, release and let the next poll retry
)

// feedback is carried from a failed attempt into the next iteration's prompt.
type feedback struct {
	Kind string // "ci", "review", "human", or "tool"
	Text string
}

// workflowRun bundles everything one issue's workflow touches.
type workflowRun struct {
	repo    *store.Repo
	issue   *store.Issue
	ghRepo  *github.Repository
	ghIssue *github.Issue
	ws      Workspace
	fb      *feedback
}

func (e *Engine) runWorkflow(ctx context.Context, repo *store.Repo, issue *store.Issue) {
	ghRepo, err := e.upstream.GetRepository(ctx, repo.Owner, repo.Name)
	if err != nil {
		if github.IsNotFound(err) {
			e.repoGone(ctx, repo, issue)
			return
		}
		e.releaseForRetry(issue, fmt.Errorf("failed to fetch repository: %w", err))
		return
	}
	ghIssue, err := e.upstream.GetIssue(ctx, repo.Owner, repo.Name, issue.IssueNumber)
	if err != nil {
		if github.IsNotFound(err) {
			e.repoGone(ctx, repo, issue)
			return
		}
		e.releaseForRetry(issue, fmt.Errorf("failed to fetch issue: %w", err))
		return
	}
	if ghIssue.State == github.StateClosed {
		e.closedUpstream(repo, issue)
		return
	}

	run := &workflowRun{
		repo:    repo,
		issue:   issue,
		ghRepo:  ghRepo,
		ghIssue: ghIssue,
		ws:      e.workspaces.Workspace(repo, issue.IssueNumber),
	}

	// Human feedback from a rejected approval is consumed exactly once.
	if issue.LastFeedback != "" {
		run.fb = &feedback{Kind: feedbackHuman, Text: issue.LastFeedback}
		if err := e.store.ClearFeedback(issue.ID); err != nil {
			e.logger.Warn("failed to clear consumed feedback", slog.String("error", err.Error()))
		}
	}

	for {
		if ctx.Err() != nil {
			e.cancelled(repo, issue)
			return
		}
		if !e.budget.CanIterate(issue, repo) {
			e.metrics.EscalationsTotal.WithLabelValues(metrics.ReasonMaxIterations).Inc()
			if err := e.budget.HandleMaxIterationsReached(ctx, repo, issue); err != nil {
				e.logger.Error("escalation failed",
					slog.Int("issue", issue.IssueNumber),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		result := e.runIteration(ctx, run)
		switch result {
		case outcomeCompleted:
			if err := run.ws.Remove(); err != nil {
				e.logger.Warn("failed to remove workspace", slog.String("error", err.Error()))
			}
			return
		case outcomeAwaiting:
			return
		case outcomeRetry:
			continue
		case outcomeReviewRetry:
			if !e.budget.CanReviewIterate(issue, repo) {
				e.metrics.EscalationsTotal.WithLabelValues(metrics.ReasonMaxReviewIterations).Inc()
				if err := e.budget.HandleMaxReviewIterationsReached(ctx, repo, issue); err != nil {
					e.logger.Error("review escalation failed",
						slog.Int("issue", issue.IssueNumber),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			n, err := e.store.IncrementReviewIteration(issue.ID)
			if err != nil {
				e.releaseForRetry(issue, fmt.Errorf("failed to bump review counter: %w", err))
				return
			}
			issue.CurrentReviewIteration = n
			continue
		case outcomeCancelled:
			e.cancelled(repo, issue)
			return
		case outcomeRepoGone:
			e.repoGone(ctx, repo, issue)
			return
		case outcomeBranchUnsafe:
			e.branchViolation(ctx, repo, issue)
			return
		case outcomeStoreFailed:
			e.releaseForRetry(issue, errors.New("persistence failure during iteration"))
			return
		}
	}
}

// runIteration executes one full attempt: implementation, commit and push,
// CI wait, independent review, then merge or approval handoff.
func (e *Engine) runIteration(ctx context.Context, run *workflowRun) outcome {
	repo, issue := run.repo, run.issue
	start := time.Now()
	defer func() {
		e.metrics.IterationSeconds.Observe(time.Since(start).Seconds())
	}()

	// Prior attempts feed the prompt; fetch before appending the new row.
	history, err := e.store.ListIterations(issue.ID)
	if err != nil {
		return outcomeStoreFailed
	}

	n, err := e.store.IncrementIteration(issue.ID)
	if err != nil {
		return outcomeStoreFailed
	}
	issue.CurrentIteration = n
	row, err := e.store.StartIteration(issue.ID, n)
	if err != nil {
		return outcomeStoreFailed
	}
	e.recorder.Record(events.TypeIterationStart, repo.ID, issue.ID, issue.IssueNumber,
		fmt.Sprintf("iteration %d/%d started", n, repo.MaxIterations))

	// Working branch and checkout.
	if issue.BranchName == "" {
		branch := gitops.BranchName(issue.IssueNumber, issue.IssueTitle)
		if err := e.store.SetBranch(issue.ID, branch); err != nil {
			return outcomeStoreFailed
		}
		issue.BranchName = branch
	}
	if !gitops.IsSafeBranch(issue.BranchName, repo.DefaultBranch) {
		return outcomeBranchUnsafe
	}
	if err := run.ws.Prepare(ctx, run.ghRepo.CloneURL); err != nil {
		return e.iterationFailed(ctx, run, row, feedbackTool,
			fmt.Sprintf("workspace preparation failed: %v", err))
	}
	if err := run.ws.EnsureBranch(ctx, issue.BranchName); err != nil {
		return e.iterationFailed(ctx, run, row, feedbackTool,
			fmt.Sprintf("failed to switch to branch %s: %v", issue.BranchName, err))
	}

	// Implementation.
	if err := e.store.SetPhase(issue.ID, store.PhaseImplementation); err != nil {
		return outcomeStoreFailed
	}
	prompt := buildPrompt(repo, issue, run.ghIssue, history, run.fb)
	res, err := e.codegen.Run(ctx, codegen.Options{
		Prompt:  prompt,
		Workdir: run.ws.Path(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		return e.iterationFailed(ctx, run, row, feedbackTool,
			fmt.Sprintf("code generation tool failed to run: %v", err))
	}
	if res.InputTokens > 0 || res.OutputTokens > 0 {
		e.recordCost(issue, n, res.Model, res.InputTokens, res.OutputTokens, store.CostPhaseImplementation)
	}
	row.ClaudeOutput = res.Output
	row.SelfAssessment = extractSelfAssessment(res.Output)
	if res.Error != "" && res.Output == "" {
		row.ClaudeOutput = res.Error // raw failure kept for audit
	}
	if err := e.store.UpdateIteration(row); err != nil {
		return outcomeStoreFailed
	}
	if !res.Success {
		return e.iterationFailed(ctx, run, row, feedbackTool,
			fmt.Sprintf("code generation did not produce a usable result: %s", res.Error))
	}

	// Commit and push.
	committed, err := run.ws.CommitAll(ctx, fmt.Sprintf("Iteration %d: %s (#%d)", n, issue.IssueTitle, issue.IssueNumber))
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		return e.iterationFailed(ctx, run, row, feedbackTool,
			fmt.Sprintf("commit failed: %v", err))
	}
	if !committed {
		return e.iterationFailed(ctx, run, row, feedbackTool,
			"the tool reported success but produced no file changes")
	}
	if err := run.ws.Push(ctx, issue.BranchName); err != nil {
		if errors.Is(err, gitops.ErrUnsafeBranch) {
			return outcomeBranchUnsafe
		}
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		return e.iterationFailed(ctx, run, row, feedbackTool,
			fmt.Sprintf("push failed: %v", err))
	}
	if diff, err := run.ws.Diff(ctx); err == nil {
		row.Diff = diff
		if err := e.store.UpdateIteration(row); err != nil {
			return outcomeStoreFailed
		}
	}

	// CI wait.
	if repo.CIEnabled {
		if err := e.store.SetPhase(issue.ID, store.PhaseCI); err != nil {
			return outcomeStoreFailed
		}
		ciStart := time.Now()
		ciResult, detail, err := e.waitForCI(ctx, repo, issue.BranchName)
		e.metrics.CIWaitSeconds.Observe(time.Since(ciStart).Seconds())
		if err != nil {
			return outcomeCancelled
		}
		row.CIResult = ciResult
		if err := e.store.UpdateIteration(row); err != nil {
			return outcomeStoreFailed
		}
		switch ciResult {
		case ciFailed:
			e.recorder.Record(events.TypeCIFailed, repo.ID, issue.ID, issue.IssueNumber, detail)
			return e.iterationFailed(ctx, run, row, feedbackCI,
				fmt.Sprintf("CI failed on the last push:\n%s", detail))
		case ciTimeout:
			e.recorder.Record(events.TypeCITimeout, repo.ID, issue.ID, issue.IssueNumber,
				fmt.Sprintf("CI did not conclude within %d minutes", repo.CITimeoutMinutes))
			return e.iterationFailed(ctx, run, row, feedbackCI,
				fmt.Sprintf("CI did not conclude within %d minutes on the last push", repo.CITimeoutMinutes))
		}
	}
	e.metrics.IterationsTotal.WithLabelValues(metrics.PhaseImplementation, metrics.OutcomeSuccess).Inc()

	// Independent review.
	if repo.ReviewEnabled && e.reviewer != nil {
		verdict := e.runReview(ctx, run, row)
		switch verdict {
		case reviewCancelled:
			return outcomeCancelled
		case reviewStoreFailed:
			return outcomeStoreFailed
		case reviewRejected, reviewErrored:
			return outcomeReviewRetry
		}
	}

	// Merge or park for approval.
	if err := e.store.SetPhase(issue.ID, store.PhaseMerge); err != nil {
		return outcomeStoreFailed
	}
	if err := e.store.CompleteIteration(row.ID); err != nil {
		return outcomeStoreFailed
	}
	e.recorder.Record(events.TypeIterationSuccess, repo.ID, issue.ID, issue.IssueNumber,
		fmt.Sprintf("iteration %d succeeded", n))

	pr, err := e.ensurePullRequest(ctx, run)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		if github.IsNotFound(err) {
			return outcomeRepoGone
		}
		return e.iterationFailed(ctx, run, row, feedbackTool,
			fmt.Sprintf("failed to open pull request: %v", err))
	}

	if repo.Mode == store.ModeAutonomous && repo.AutoMerge {
		if err := e.mergePR(ctx, repo, issue, pr); err != nil {
			if ctx.Err() != nil {
				return outcomeCancelled
			}
			return e.iterationFailed(ctx, run, row, feedbackTool,
				fmt.Sprintf("merge failed: %v", err))
		}
		if err := e.store.MarkCompleted(issue.ID); err != nil {
			return outcomeStoreFailed
		}
		issue.Status = store.StatusCompleted
		e.recorder.Record(events.TypeMerged, repo.ID, issue.ID, issue.IssueNumber,
			fmt.Sprintf("pull request #%d merged", pr.Number))
		e.notifier.Notify(ctx, events.Notification{
			Severity:    events.SeverityInfo,
			Title:       "Issue resolved",
			Message:     fmt.Sprintf("%s#%d merged via pull request #%d", repo.FullName(), issue.IssueNumber, pr.Number),
			Repo:        repo.FullName(),
			IssueNumber: issue.IssueNumber,
		})
		return outcomeCompleted
	}

	ok, err := e.store.MarkAwaitingApproval(issue.ID)
	if err != nil || !ok {
		return outcomeStoreFailed
	}
	issue.Status = store.StatusAwaitingApproval
	e.recorder.Record(events.TypeAwaitingApproval, repo.ID, issue.ID, issue.IssueNumber,
		fmt.Sprintf("pull request #%d awaits human approval", pr.Number))
	e.notifier.Notify(ctx, events.Notification{
		Severity:    events.SeverityInfo,
		Title:       "Approval needed",
		Message:     fmt.Sprintf("%s#%d is ready: pull request #%d awaits review", repo.FullName(), issue.IssueNumber, pr.Number),
		Repo:        repo.FullName(),
		IssueNumber: issue.IssueNumber,
	})
	return outcomeAwaiting
}

// Review verdict classifications internal to runIteration.
type reviewOutcome int

const (
	reviewPassed reviewOutcome = iota
	reviewRejected
	reviewErrored
	reviewCancelled
	reviewStoreFailed
)

func (e *Engine) runReview(ctx context.Context, run *workflowRun, row *store.Iteration) reviewOutcome {
	repo, issue := run.repo, run.issue

	if err := e.store.SetPhase(issue.ID, store.PhaseReview); err != nil {
		return reviewStoreFailed
	}
	changed, err := run.ws.ChangedFiles(ctx)
	if err != nil {
		e.logger.Warn("failed to list changed files for review", slog.String("error", err.Error()))
	}

	res, err := e.reviewer.Run(ctx, review.Options{
		Prompt:  buildReviewPrompt(repo, issue, run.ghIssue, changed, row.Diff),
		Workdir: run.ws.Path(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return reviewCancelled
		}
		e.metrics.IterationsTotal.WithLabelValues(metrics.PhaseReview, metrics.OutcomeFailure).Inc()
		e.recorder.Record(events.TypeReviewFailed, repo.ID, issue.ID, issue.IssueNumber,
			fmt.Sprintf("reviewer did not produce a verdict: %v", err))
		if err := e.store.CompleteIteration(row.ID); err != nil {
			return reviewStoreFailed
		}
		run.fb = &feedback{Kind: feedbackReview, Text: fmt.Sprintf("the independent reviewer failed to produce a verdict: %v", err)}
		return reviewErrored
	}
	if res.InputTokens > 0 || res.OutputTokens > 0 {
		e.recordCost(issue, row.IterationNum, res.Model, res.InputTokens, res.OutputTokens, store.CostPhaseReview)
	}

	passed := res.Verdict.Passed
	row.ReviewJSON = res.Raw
	row.ReviewModel = res.Model
	row.ReviewPassed = &passed
	if err := e.store.UpdateIteration(row); err != nil {
		return reviewStoreFailed
	}

	if !passed {
		e.metrics.IterationsTotal.WithLabelValues(metrics.PhaseReview, metrics.OutcomeFailure).Inc()
		e.recorder.Record(events.TypeReviewFailed, repo.ID, issue.ID, issue.IssueNumber, res.Verdict.Summary)
		if err := e.store.CompleteIteration(row.ID); err != nil {
			return reviewStoreFailed
		}
		run.fb = &feedback{Kind: feedbackReview, Text: formatReviewFeedback(res.Verdict)}
		return reviewRejected
	}
	e.metrics.IterationsTotal.WithLabelValues(metrics.PhaseReview, metrics.OutcomeSuccess).Inc()
	return reviewPassed
}

// iterationFailed finishes a failed attempt: the row is completed, the event
// recorded, and the failure text threaded into the next prompt.
func (e *Engine) iterationFailed(ctx context.Context, run *workflowRun, row *store.Iteration, kind, message string) outcome {
	if ctx.Err() != nil {
		return outcomeCancelled
	}
	e.metrics.IterationsTotal.WithLabelValues(metrics.PhaseImplementation, metrics.OutcomeFailure).Inc()
	e.recorder.Record(events.TypeIterationFailed, run.repo.ID, run.issue.ID, run.issue.IssueNumber, message)
	if err := e.store.CompleteIteration(row.ID); err != nil {
		return outcomeStoreFailed
	}
	run.fb = &feedback{Kind: kind, Text: message}
	e.logger.Warn("Iteration failed",
		slog.String("repo", run.repo.FullName()),
		slog.Int("issue", run.issue.IssueNumber),
		slog.Int("iteration", row.IterationNum),
		slog.String("reason", message),
	)
	return outcomeRetry
}

// ensurePullRequest finds the open PR for the working branch or creates one.
func (e *Engine) ensurePullRequest(ctx context.Context, run *workflowRun) (*github.PullRequest, error) {
	repo, issue := run.repo, run.issue

	pr, err := e.upstream.FindPRByBranch(ctx, repo.Owner, repo.Name, issue.BranchName)
	if err != nil {
		return nil, err
	}
	if pr != nil {
		return pr, nil
	}
	return e.upstream.CreatePullRequest(ctx, repo.Owner, repo.Name, &github.PullRequestInput{
		Title: fmt.Sprintf("%s (#%d)", issue.IssueTitle, issue.IssueNumber),
		Body: fmt.Sprintf("Automated resolution of #%d.\n\nCloses #%d\n\n---\n*Opened by issuebot after %d iteration(s).*",
			issue.IssueNumber, issue.IssueNumber, issue.CurrentIteration),
		Head: issue.BranchName,
		Base: repo.DefaultBranch,
	})
}

// mergePR squash-merges and closes the upstream issue. Closing is
// best-effort: the PR body's "Closes #N" usually beats us to it.
func (e *Engine) mergePR(ctx context.Context, repo *store.Repo, issue *store.Issue, pr *github.PullRequest) error {
	title := fmt.Sprintf("%s (#%d)", issue.IssueTitle, issue.IssueNumber)
	if err := e.upstream.MergePullRequest(ctx, repo.Owner, repo.Name, pr.Number, github.MergeMethodSquash, title); err != nil {
		return err
	}
	if err := e.upstream.CloseIssue(ctx, repo.Owner, repo.Name, issue.IssueNumber); err != nil {
		e.logger.Debug("failed to close issue after merge",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// cancelled transitions an interrupted workflow to FAILED with a CANCELLED
// event. No escalation comment or label is posted.
func (e *Engine) cancelled(repo *store.Repo, issue *store.Issue) {
	if err := e.store.MarkFailed(issue.ID); err != nil {
		e.logger.Error("failed to mark cancelled issue",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		return
	}
	issue.Status = store.StatusFailed
	e.recorder.Record(events.TypeCancelled, repo.ID, issue.ID, issue.IssueNumber, "workflow cancelled")
	e.logger.Warn("Workflow cancelled",
		slog.String("repo", repo.FullName()),
		slog.Int("issue", issue.IssueNumber),
	)
}

// repoGone handles a 404 on the repository itself: FAILED with REPO_GONE and
// no escalation comment (there is nowhere to post one).
func (e *Engine) repoGone(ctx context.Context, repo *store.Repo, issue *store.Issue) {
	if err := e.store.MarkFailed(issue.ID); err != nil {
		e.logger.Error("failed to mark issue after repo loss",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		return
	}
	issue.Status = store.StatusFailed
	e.recorder.Record(events.TypeRepoGone, repo.ID, issue.ID, issue.IssueNumber,
		fmt.Sprintf("repository %s is gone upstream", repo.FullName()))
	e.notifier.Notify(ctx, events.Notification{
		Severity:    events.SeverityWarning,
		Title:       "Repository gone",
		Message:     fmt.Sprintf("%s is unreachable upstream; issue #%d abandoned", repo.FullName(), issue.IssueNumber),
		Repo:        repo.FullName(),
		IssueNumber: issue.IssueNumber,
	})
}

// branchViolation escalates a refused working branch: FAILED, needs-human,
// a comment, and a distinct event tag.
func (e *Engine) branchViolation(ctx context.Context, repo *store.Repo, issue *store.Issue) {
	e.logger.Error("Branch safety check refused working branch",
		slog.String("repo", repo.FullName()),
		slog.Int("issue", issue.IssueNumber),
		slog.String("branch", issue.BranchName),
	)
	if err := e.store.MarkFailed(issue.ID); err != nil {
		e.logger.Error("failed to mark issue after branch violation", slog.String("error", err.Error()))
		return
	}
	issue.Status = store.StatusFailed

	if err := e.upstream.AddLabels(ctx, repo.Owner, repo.Name, issue.IssueNumber, []string{github.LabelNeedsHuman}); err != nil {
		e.logger.Warn("failed to add needs-human label", slog.String("error", err.Error()))
	}
	comment := fmt.Sprintf("## Branch Safety Violation\n\nAutomated work on this issue has stopped: the working branch `%s` failed the safety check (it must match `issuebot/issue-<N>-<slug>` and never be the default branch).\n\nRemove the `needs-human` label once the tracked branch name is corrected.\n", issue.BranchName)
	if _, err := e.upstream.AddComment(ctx, repo.Owner, repo.Name, issue.IssueNumber, comment); err != nil {
		e.logger.Warn("failed to post escalation comment", slog.String("error", err.Error()))
	}

	e.notifier.Notify(ctx, events.Notification{
		Severity:    events.SeverityError,
		Title:       "Branch safety violation",
		Message:     fmt.Sprintf("%s#%d: refused to push branch %q", repo.FullName(), issue.IssueNumber, issue.BranchName),
		Repo:        repo.FullName(),
		IssueNumber: issue.IssueNumber,
	})
	e.recorder.Record(events.TypeBranchSafetyViolation, repo.ID, issue.ID, issue.IssueNumber,
		fmt.Sprintf("unsafe branch %q", issue.BranchName))
}

// closedUpstream completes an issue that was closed by a human before the
// workflow could act on it.
func (e *Engine) closedUpstream(repo *store.Repo, issue *store.Issue) {
	if err := e.store.MarkCompleted(issue.ID); err != nil {
		e.logger.Error("failed to complete externally closed issue", slog.String("error", err.Error()))
		return
	}
	issue.Status = store.StatusCompleted
	e.recorder.Record(events.TypeCancelled, repo.ID, issue.ID, issue.IssueNumber,
		"issue closed upstream before processing")
}

// releaseForRetry puts the issue back in QUEUED after a transient failure so
// the next poll cycle re-dispatches it. Budget counters are untouched.
func (e *Engine) releaseForRetry(issue *store.Issue, cause error) {
	e.logger.Error("Workflow aborted, releasing issue for retry",
		slog.Int("issue", issue.IssueNumber),
		slog.String("error", cause.Error()),
	)
	ok, err := e.store.SetStatus(issue.ID, store.StatusQueued, store.StatusInProgress)
	if err != nil {
		e.logger.Error("failed to release issue", slog.String("error", err.Error()))
		return
	}
	if ok {
		issue.Status = store.StatusQueued
	}
}

func (e *Engine) recordCost(issue *store.Issue, iterationNum int, model string, in, out int64, phase string) {
	cost := &store.Cost{
		IssueID:       issue.ID,
		IterationNum:  iterationNum,
		InputTokens:   in,
		OutputTokens:  out,
		EstimatedCost: estimateCost(model, in, out),
		ModelUsed:     model,
		Phase:         phase,
	}
	if err := e.store.AddCost(cost); err != nil {
		e.logger.Warn("failed to record cost", slog.String("error", err.Error()))
	}
	e.metrics.TokensTotal.WithLabelValues(metrics.DirectionInput).Add(float64(in))
	e.metrics.TokensTotal.WithLabelValues(metrics.DirectionOutput).Add(float64(out))
}

// estimateCost converts token usage to USD using per-1M-token pricing.
func estimateCost(model string, inputTokens, outputTokens int64) float64 {
	const (
		sonnetInputPrice  = 3.00
		sonnetOutputPrice = 15.00
		opusInputPrice    = 15.00
		opusOutputPrice   = 75.00
		haikuInputPrice   = 0.80
		haikuOutputPrice  = 4.00
	)

	inputPrice, outputPrice := sonnetInputPrice, sonnetOutputPrice
	switch {
	case containsFold(model, "opus"):
		inputPrice, outputPrice = opusInputPrice, opusOutputPrice
	case containsFold(model, "haiku"):
		inputPrice, outputPrice = haikuInputPrice, haikuOutputPrice
	}

	return float64(inputTokens)*inputPrice/1_000_000 + float64(outputTokens)*outputPrice/1_000_000
}
