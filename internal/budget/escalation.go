package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/review"
	"github.com/issuebot/issuebot/internal/store"
)

// Escalation comments embed tool output. Prose fields are cut at
// maxFieldChars, larger blocks like review findings at maxBlockChars.
const (
	maxFieldChars = 500
	maxBlockChars = 1000
)

// escalation carries the per-kind pieces of the shared escalation sequence.
type escalation struct {
	title      string
	eventType  string
	iterations int
	comment    string
}

// HandleMaxIterationsReached runs the escalation sequence after the
// implementation budget is exhausted: fail the issue, label and comment
// upstream, enter cooldown, notify, and append the escalation event.
func (e *Enforcer) HandleMaxIterationsReached(ctx context.Context, repo *store.Repo, issue *store.Issue) error {
	return e.escalate(ctx, repo, issue, escalation{
		title:      "Max Iterations Reached",
		eventType:  events.TypeMaxIterationsReached,
		iterations: issue.CurrentIteration,
		comment:    e.implementationComment(issue),
	})
}

// HandleMaxReviewIterationsReached runs the same sequence after the review
// budget is exhausted.
func (e *Enforcer) HandleMaxReviewIterationsReached(ctx context.Context, repo *store.Repo, issue *store.Issue) error {
	return e.escalate(ctx, repo, issue, escalation{
		title:      "Max Review Iterations Reached",
		eventType:  events.TypeMaxReviewItersReached,
		iterations: issue.CurrentReviewIteration,
		comment:    e.reviewComment(issue),
	})
}

// HandleHumanRejection records rejection feedback and sends the issue back
// into implementation. The feedback is threaded into the next prompt by the
// workflow engine.
func (e *Enforcer) HandleHumanRejection(issue *store.Issue, feedback string) error {
	e.recorder.Record(events.TypeHumanRejection, issue.RepoID, issue.ID, issue.IssueNumber, feedback)

	ok, err := e.store.MarkRejected(issue.ID, feedback)
	if err != nil {
		return fmt.Errorf("failed to record rejection: %w", err)
	}
	if !ok {
		return fmt.Errorf("issue #%d is not awaiting approval", issue.IssueNumber)
	}
	issue.Status = store.StatusInProgress
	issue.LastFeedback = feedback

	e.logger.Info("Human rejection recorded",
		slog.Int("issue", issue.IssueNumber),
		slog.Int("feedback_chars", len(feedback)),
	)
	return nil
}

// escalate runs the escalation sequence. The label and comment steps are
// best-effort: an upstream failure there is logged and the remaining steps
// still run. State persistence failures abort.
func (e *Enforcer) escalate(ctx context.Context, repo *store.Repo, issue *store.Issue, esc escalation) error {
	e.logger.Warn("Iteration budget exhausted",
		slog.String("repo", repo.FullName()),
		slog.Int("issue", issue.IssueNumber),
		slog.Int("iterations", esc.iterations),
		slog.String("event", esc.eventType),
	)

	if err := e.store.MarkFailed(issue.ID); err != nil {
		return fmt.Errorf("failed to mark issue failed: %w", err)
	}
	issue.Status = store.StatusFailed
	issue.CurrentPhase = ""

	if err := e.upstream.AddLabels(ctx, repo.Owner, repo.Name, issue.IssueNumber, []string{github.LabelNeedsHuman}); err != nil {
		e.logger.Warn("Failed to add needs-human label",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
	}

	if _, err := e.upstream.AddComment(ctx, repo.Owner, repo.Name, issue.IssueNumber, esc.comment); err != nil {
		e.logger.Warn("Failed to post escalation comment",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
	}

	if err := e.EnterCooldown(issue); err != nil {
		return fmt.Errorf("failed to enter cooldown: %w", err)
	}

	e.notifier.Notify(ctx, events.Notification{
		Severity:    events.SeverityWarning,
		Title:       esc.title,
		Message:     fmt.Sprintf("%s#%d failed after %d iterations", repo.FullName(), issue.IssueNumber, esc.iterations),
		Repo:        repo.FullName(),
		IssueNumber: issue.IssueNumber,
	})

	e.recorder.Record(esc.eventType, repo.ID, issue.ID, issue.IssueNumber,
		fmt.Sprintf("escalated after %d iterations", esc.iterations))

	return nil
}

// implementationComment summarizes the last iteration's self-assessment and
// CI result for the upstream escalation comment.
func (e *Enforcer) implementationComment(issue *store.Issue) string {
	var sb strings.Builder
	sb.WriteString("## Max Iterations Reached\n\n")
	fmt.Fprintf(&sb, "Automated work on this issue has stopped. Failed after %d iterations.\n\n", issue.CurrentIteration)

	if it := e.latestIteration(issue); it != nil {
		if it.SelfAssessment != "" {
			sb.WriteString("**Last self-assessment:**\n\n")
			sb.WriteString(truncate(it.SelfAssessment, maxFieldChars))
			sb.WriteString("\n\n")
		}
		if it.CIResult != "" {
			fmt.Fprintf(&sb, "**Last CI result:** %s\n\n", truncate(it.CIResult, maxFieldChars))
		}
	}

	sb.WriteString(escalationFooter)
	return sb.String()
}

// reviewComment summarizes the last review verdict for the upstream
// escalation comment.
func (e *Enforcer) reviewComment(issue *store.Issue) string {
	var sb strings.Builder
	sb.WriteString("## Max Review Iterations Reached\n\n")
	fmt.Fprintf(&sb, "Automated work on this issue has stopped. Failed after %d iterations.\n\n", issue.CurrentReviewIteration)

	if it := e.latestIteration(issue); it != nil && it.ReviewJSON != "" {
		verdict, err := review.ParseVerdict([]byte(it.ReviewJSON))
		if err != nil {
			sb.WriteString("**Last review (raw):**\n\n```json\n")
			sb.WriteString(truncate(it.ReviewJSON, maxBlockChars))
			sb.WriteString("\n```\n\n")
		} else {
			if verdict.Summary != "" {
				sb.WriteString("**Last review summary:**\n\n")
				sb.WriteString(truncate(verdict.Summary, maxFieldChars))
				sb.WriteString("\n\n")
			}
			if len(verdict.Findings) > 0 {
				sb.WriteString("**Findings:**\n\n")
				sb.WriteString(formatFindings(verdict.Findings, maxBlockChars))
				sb.WriteString("\n")
			}
		}
	}

	sb.WriteString(escalationFooter)
	return sb.String()
}

const escalationFooter = "Remove the `needs-human` label once the underlying problem is addressed; the issue becomes eligible again after the cooldown expires.\n"

// latestIteration loads the most recent iteration row, tolerating lookup
// failures so comment building never blocks an escalation.
func (e *Enforcer) latestIteration(issue *store.Issue) *store.Iteration {
	it, err := e.store.LatestIteration(issue.ID)
	if err != nil {
		e.logger.Warn("Failed to load latest iteration for escalation comment",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return it
}

// formatFindings renders findings as markdown bullets, stopping once the
// block would exceed max characters.
func formatFindings(findings []review.Finding, max int) string {
	var sb strings.Builder
	for _, f := range findings {
		line := fmt.Sprintf("- **%s** %s", strings.ToLower(f.Severity), f.Category)
		if loc := f.Location(); loc != "" {
			line += fmt.Sprintf(" (`%s`)", loc)
		}
		line += ": " + f.Finding + "\n"

		if sb.Len()+len(line) > max {
			sb.WriteString("- ... (truncated)\n")
			break
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// truncate cuts s at max bytes, marking the cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}
