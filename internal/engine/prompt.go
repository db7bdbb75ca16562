package engine

import (
	"fmt"
	"strings"

	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/review"
	"github.com/issuebot/issuebot/internal/store"
)

// Feedback kinds threaded into the next iteration's prompt.
const (
	feedbackCI     = "ci"
	feedbackReview = "review"
	feedbackHuman  = "human"
	feedbackTool   = "tool"
)

// Prompt size bounds. Oversized sections get cut with a marker instead of
// failing the iteration.
const (
	maxIssueBodyChars  = 8000
	maxAssessmentChars = 1500
	maxFeedbackChars   = 4000
	maxDiffChars       = 30000
	maxHistoryEntries  = 3
)

const selfAssessmentMarker = "Self-assessment:"

// buildPrompt assembles the implementation prompt for one iteration: the
// live issue text, feedback from the last failure, a digest of earlier
// attempts, and the standing constraints.
func buildPrompt(repo *store.Repo, issue *store.Issue, ghIssue *github.Issue, history []*store.Iteration, fb *feedback) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are resolving issue #%d in %s. The repository is checked out in the current working directory on a dedicated branch. Implement the change described below.\n\n",
		issue.IssueNumber, repo.FullName()))

	sb.WriteString(fmt.Sprintf("## Issue: %s\n\n", ghIssue.Title))
	body := strings.TrimSpace(ghIssue.Body)
	if body == "" {
		body = "(no description provided)"
	}
	sb.WriteString(truncateText(body, maxIssueBodyChars))
	sb.WriteString("\n\n")

	if fb != nil && fb.Text != "" {
		sb.WriteString("## Feedback on the previous attempt\n\n")
		switch fb.Kind {
		case feedbackCI:
			sb.WriteString("CI rejected the previous attempt. Fix these failures before anything else:\n\n")
		case feedbackReview:
			sb.WriteString("An independent code review rejected the previous attempt:\n\n")
		case feedbackHuman:
			sb.WriteString("A human reviewer requested changes on the pull request:\n\n")
		default:
			sb.WriteString("The previous attempt failed:\n\n")
		}
		sb.WriteString(truncateText(fb.Text, maxFeedbackChars))
		sb.WriteString("\n\n")
	}

	if len(history) > 0 {
		sb.WriteString("## Earlier attempts (latest first)\n\n")
		shown := 0
		for i := len(history) - 1; i >= 0 && shown < maxHistoryEntries; i-- {
			it := history[i]
			sb.WriteString(fmt.Sprintf("### Iteration %d\n\n", it.IterationNum))
			if it.SelfAssessment != "" {
				sb.WriteString(truncateText(it.SelfAssessment, maxAssessmentChars))
				sb.WriteString("\n")
			}
			if it.CIResult != "" {
				sb.WriteString(fmt.Sprintf("- CI: %s\n", it.CIResult))
			}
			if it.ReviewPassed != nil {
				if *it.ReviewPassed {
					sb.WriteString("- Review: passed\n")
				} else {
					sb.WriteString("- Review: rejected\n")
				}
			}
			sb.WriteString("\n")
			shown++
		}
	}

	sb.WriteString("## Constraints\n\n")
	sb.WriteString("1. Make the smallest change that fully resolves the issue.\n")
	sb.WriteString("2. Do NOT run git commit, git push, or switch branches. The orchestrator handles version control.\n")
	sb.WriteString("3. Match the existing code style and update tests alongside the change.\n")
	next := 4
	if paths := repo.AllowedPathList(); len(paths) > 0 {
		sb.WriteString(fmt.Sprintf("%d. Only modify files under: %s\n", next, strings.Join(paths, ", ")))
		next++
	}
	sb.WriteString(fmt.Sprintf("%d. End your reply with a section starting exactly with %q that summarizes what you changed, how you verified it, and any remaining risk.\n",
		next, selfAssessmentMarker))

	return sb.String()
}

// extractSelfAssessment pulls the tool's closing summary out of its raw
// output. When the marker is missing the (bounded) full output stands in,
// so later iterations still see something.
func extractSelfAssessment(output string) string {
	lower := strings.ToLower(output)
	idx := strings.LastIndex(lower, strings.ToLower(selfAssessmentMarker))
	if idx < 0 {
		return truncateText(strings.TrimSpace(output), maxAssessmentChars)
	}
	return truncateText(strings.TrimSpace(output[idx+len(selfAssessmentMarker):]), maxAssessmentChars)
}

// buildReviewPrompt assembles the reviewer prompt. The reviewer never sees
// the implementer's self-assessment; it judges the diff on its own.
func buildReviewPrompt(repo *store.Repo, issue *store.Issue, ghIssue *github.Issue, changedFiles []string, diff string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are an independent code reviewer for %s. Review the change below, made to resolve issue #%d. The full repository is checked out in the current working directory for context.\n\n",
		repo.FullName(), issue.IssueNumber))

	sb.WriteString(fmt.Sprintf("## Issue: %s\n\n", ghIssue.Title))
	body := strings.TrimSpace(ghIssue.Body)
	if body == "" {
		body = "(no description provided)"
	}
	sb.WriteString(truncateText(body, maxIssueBodyChars))
	sb.WriteString("\n\n")

	if len(changedFiles) > 0 {
		sb.WriteString("## Changed files\n\n")
		for _, f := range changedFiles {
			sb.WriteString(fmt.Sprintf("- %s\n", f))
		}
		sb.WriteString("\n")
	}

	if diff != "" {
		sb.WriteString("## Diff\n\n```diff\n")
		sb.WriteString(truncateText(diff, maxDiffChars))
		sb.WriteString("\n```\n\n")
	}

	sb.WriteString("## Instructions\n\n")
	sb.WriteString("Score the change on seven dimensions, each in [0.0, 1.0]: spec compliance, correctness, code quality, test coverage, architecture fit, regressions, security.")
	if repo.SecurityReviewEnabled {
		sb.WriteString(" Pay particular attention to security: injection, secrets in code, unsafe deserialization, path traversal.")
	}
	sb.WriteString("\n\n")
	sb.WriteString("Respond with a single JSON object and nothing else:\n\n")
	sb.WriteString("```json\n{\n")
	sb.WriteString("  \"passed\": false,\n")
	sb.WriteString("  \"summary\": \"one-paragraph verdict\",\n")
	sb.WriteString("  \"specComplianceScore\": 0.0,\n")
	sb.WriteString("  \"correctnessScore\": 0.0,\n")
	sb.WriteString("  \"codeQualityScore\": 0.0,\n")
	sb.WriteString("  \"testCoverageScore\": 0.0,\n")
	sb.WriteString("  \"architectureFitScore\": 0.0,\n")
	sb.WriteString("  \"regressionsScore\": 0.0,\n")
	sb.WriteString("  \"securityScore\": 0.0,\n")
	sb.WriteString("  \"findings\": [\n")
	sb.WriteString("    {\"severity\": \"high|medium|low\", \"category\": \"correctness\", \"file\": \"path\", \"line\": 0, \"finding\": \"what is wrong\", \"suggestion\": \"how to fix it\"}\n")
	sb.WriteString("  ],\n")
	sb.WriteString("  \"advice\": \"the single most important improvement\"\n")
	sb.WriteString("}\n```\n")

	return sb.String()
}

// formatReviewFeedback renders a rejected verdict as prompt feedback for the
// next implementation attempt.
func formatReviewFeedback(v *review.Verdict) string {
	var sb strings.Builder

	if v.Summary != "" {
		sb.WriteString(v.Summary)
		sb.WriteString("\n\n")
	}

	if failing := v.FailingDimensions(); len(failing) > 0 {
		sb.WriteString("Failing dimensions: ")
		sb.WriteString(strings.Join(failing, ", "))
		sb.WriteString("\n\n")
	}

	for _, f := range v.Findings {
		if loc := f.Location(); loc != "" {
			sb.WriteString(fmt.Sprintf("- [%s] %s: %s", f.Severity, loc, f.Finding))
		} else {
			sb.WriteString(fmt.Sprintf("- [%s] %s", f.Severity, f.Finding))
		}
		if f.Suggestion != "" {
			sb.WriteString(fmt.Sprintf(" Suggestion: %s", f.Suggestion))
		}
		sb.WriteString("\n")
	}

	if v.Advice != "" {
		sb.WriteString("\nAdvice: ")
		sb.WriteString(v.Advice)
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String())
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
