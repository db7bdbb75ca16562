// Package budget enforces per-issue iteration and review-iteration limits,
// manages cooldown timers, and runs the escalation sequence when a limit is
// exhausted.
package budget

import (
	"context"
	"log/slog"
	"time"

	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/logging"
	"github.com/issuebot/issuebot/internal/store"
)

// DefaultCooldownPeriod is how long an escalated issue rests before the
// polling service may revive it.
const DefaultCooldownPeriod = 24 * time.Hour

// Upstream is the slice of the repository-service client the escalation
// sequence needs.
type Upstream interface {
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	AddComment(ctx context.Context, owner, repo string, number int, body string) (*github.Comment, error)
}

// Enforcer answers budget questions for the workflow engine and runs the
// escalation sequence when a budget is exhausted.
type Enforcer struct {
	store          *store.Store
	upstream       Upstream
	recorder       *events.Recorder
	notifier       *events.Notifier
	cooldownPeriod time.Duration
	logger         *slog.Logger
}

// NewEnforcer creates an Enforcer. A non-positive cooldownPeriod falls back
// to DefaultCooldownPeriod.
func NewEnforcer(st *store.Store, upstream Upstream, recorder *events.Recorder, notifier *events.Notifier, cooldownPeriod time.Duration) *Enforcer {
	if cooldownPeriod <= 0 {
		cooldownPeriod = DefaultCooldownPeriod
	}
	return &Enforcer{
		store:          st,
		upstream:       upstream,
		recorder:       recorder,
		notifier:       notifier,
		cooldownPeriod: cooldownPeriod,
		logger:         logging.WithComponent("budget"),
	}
}

// CanIterate reports whether the issue has implementation budget left.
func (e *Enforcer) CanIterate(issue *store.Issue, repo *store.Repo) bool {
	return issue.CurrentIteration < repo.MaxIterations
}

// CanReviewIterate reports whether the issue has review budget left.
func (e *Enforcer) CanReviewIterate(issue *store.Issue, repo *store.Repo) bool {
	return issue.CurrentReviewIteration < repo.MaxReviewIterations
}

// EnterCooldown parks the issue in COOLDOWN until now plus the cooldown
// period, updating both the store and the in-memory record.
func (e *Enforcer) EnterCooldown(issue *store.Issue) error {
	until := time.Now().UTC().Add(e.cooldownPeriod)
	if err := e.store.EnterCooldown(issue.ID, until); err != nil {
		return err
	}
	issue.Status = store.StatusCooldown
	issue.CooldownUntil = &until

	e.logger.Info("Issue entered cooldown",
		slog.Int("issue", issue.IssueNumber),
		slog.Time("until", until),
	)
	return nil
}

// IsCooldownExpired reports whether the issue may leave cooldown: true when
// it is not in COOLDOWN at all, carries no cooldown timestamp, or the
// timestamp has passed.
func (e *Enforcer) IsCooldownExpired(issue *store.Issue) bool {
	if issue.Status != store.StatusCooldown {
		return true
	}
	if issue.CooldownUntil == nil {
		return true
	}
	return time.Now().After(*issue.CooldownUntil)
}
