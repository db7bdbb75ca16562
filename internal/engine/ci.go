package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/store"
)

// CI results as stored on the iteration row.
const (
	ciPassed  = "passed"
	ciFailed  = "failed"
	ciTimeout = "timeout"
)

type ciState int

const (
	ciStateNone ciState = iota
	ciStatePending
	ciStateSuccess
	ciStateFailure
)

// waitForCI polls commit statuses and check runs on ref until every check
// concludes, the repo's CI timeout elapses, or ctx is cancelled. A branch
// with no checks after the discovery grace period counts as passing: not
// every repo wires CI to every branch. Detail carries the failing check
// names on ciFailed. The error return is non-nil only for ctx cancellation.
func (e *Engine) waitForCI(ctx context.Context, repo *store.Repo, ref string) (string, string, error) {
	deadline := time.Now().Add(time.Duration(repo.CITimeoutMinutes) * time.Minute)
	grace := time.Now().Add(e.CIGracePeriod)

	ticker := time.NewTicker(e.CIPollInterval)
	defer ticker.Stop()

	e.logger.Info("Waiting for CI",
		slog.String("repo", repo.FullName()),
		slog.String("ref", ref),
		slog.Int("timeout_minutes", repo.CITimeoutMinutes),
	)

	for {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return ciTimeout, "", nil
			}

			state, failed, err := e.checkCI(ctx, repo, ref)
			if err != nil {
				e.logger.Warn("CI status check failed, will retry",
					slog.String("ref", ref),
					slog.String("error", err.Error()),
				)
				continue
			}

			switch state {
			case ciStateSuccess:
				return ciPassed, "", nil
			case ciStateFailure:
				return ciFailed, fmt.Sprintf("failing checks: %s", strings.Join(failed, ", ")), nil
			case ciStateNone:
				if time.Now().After(grace) {
					e.logger.Info("No CI checks discovered, treating as passed",
						slog.String("ref", ref),
					)
					return ciPassed, "", nil
				}
			case ciStatePending:
				// keep waiting
			}
		}
	}
}

// checkCI takes one snapshot of commit statuses plus check runs and folds
// them into a single state. A failure anywhere wins over pending.
func (e *Engine) checkCI(ctx context.Context, repo *store.Repo, ref string) (ciState, []string, error) {
	combined, err := e.upstream.GetCombinedStatus(ctx, repo.Owner, repo.Name, ref)
	if err != nil {
		return ciStateNone, nil, fmt.Errorf("failed to get combined status: %w", err)
	}
	checks, err := e.upstream.ListCheckRuns(ctx, repo.Owner, repo.Name, ref)
	if err != nil {
		return ciStateNone, nil, fmt.Errorf("failed to list check runs: %w", err)
	}

	if combined.TotalCount == 0 && checks.TotalCount == 0 {
		return ciStateNone, nil, nil
	}

	var failed []string
	hasPending := false

	for _, s := range combined.Statuses {
		switch s.State {
		case "success":
		case "failure", "error":
			failed = append(failed, s.Context)
		default: // pending
			hasPending = true
		}
	}

	for _, run := range checks.CheckRuns {
		switch mapCheckRun(run) {
		case ciStateSuccess:
		case ciStateFailure:
			failed = append(failed, run.Name)
		default:
			hasPending = true
		}
	}

	if len(failed) > 0 {
		return ciStateFailure, failed, nil
	}
	if hasPending {
		return ciStatePending, nil, nil
	}
	return ciStateSuccess, nil, nil
}

// mapCheckRun folds a check run's status/conclusion pair into a ciState.
// Skipped and neutral conclusions do not block a merge.
func mapCheckRun(run github.CheckRun) ciState {
	switch run.Status {
	case "queued", "in_progress":
		return ciStatePending
	case "completed":
		switch run.Conclusion {
		case "success", "skipped", "neutral":
			return ciStateSuccess
		case "failure", "cancelled", "timed_out", "action_required":
			return ciStateFailure
		default:
			return ciStatePending
		}
	default:
		return ciStatePending
	}
}
