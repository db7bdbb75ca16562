// Package poller watches configured repositories for agent-ready issues and
// feeds qualifying work to the engine. One cron-driven cycle scans every
// watched repo, routes fresh issues through dependency resolution, dispatches
// the queued backlog in dependency order, releases issues whose blockers have
// resolved, and sweeps parked approvals.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/issuebot/issuebot/internal/deps"
	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/logging"
	"github.com/issuebot/issuebot/internal/metrics"
	"github.com/issuebot/issuebot/internal/store"
)

const defaultInterval = 60 * time.Second

// Upstream is the slice of the repository service the poller needs.
// *github.Client satisfies it.
type Upstream interface {
	ListIssues(ctx context.Context, owner, repo string, opts *github.ListIssuesOptions) ([]*github.Issue, error)
}

// Engine is the slice of the workflow engine the poller drives.
// *engine.Engine satisfies it.
type Engine interface {
	Dispatch(issueID int64) error
	CheckApprovals(ctx context.Context)
}

// Config wires the poller's collaborators.
type Config struct {
	Store    *store.Store
	Upstream Upstream
	Engine   Engine
	Resolver *deps.Resolver
	Recorder *events.Recorder
	Metrics  *metrics.Metrics // nil gets an isolated registry
	Interval time.Duration    // cycle cadence; <= 0 means 60s
}

// Poller runs the discovery and dispatch loop on a cron schedule.
type Poller struct {
	store    *store.Store
	upstream Upstream
	engine   Engine
	resolver *deps.Resolver
	recorder *events.Recorder
	metrics  *metrics.Metrics
	interval time.Duration
	logger   *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup

	// cycleMu serializes cycles: cron activations overlap when a cycle
	// outlives the cadence, and operators can trigger cycles directly.
	cycleMu sync.Mutex
}

// New creates a Poller. Call Start to begin polling.
func New(cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	logger := logging.WithComponent("poller")
	return &Poller{
		store:    cfg.Store,
		upstream: cfg.Upstream,
		engine:   cfg.Engine,
		resolver: cfg.Resolver,
		recorder: cfg.Recorder,
		metrics:  m,
		interval: interval,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger}))),
	}
}

// Start schedules the poll job and runs an immediate first cycle so a fresh
// process does not sit idle for a full interval. Cycles inherit ctx:
// cancelling it interrupts the in-flight cycle at its next suspension point.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	entryID, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.interval), func() {
		p.RunCycle(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule poll job: %w", err)
	}
	p.entryID = entryID
	p.cron.Start()
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.RunCycle(ctx)
	}()

	p.logger.Info("Poller started", slog.String("cadence", p.interval.String()))
	return nil
}

// Stop halts the schedule and waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	<-p.cron.Stop().Done()
	p.wg.Wait()
	p.logger.Info("Poller stopped")
}

// Status reports scheduler state for the operator API.
type Status struct {
	Running  bool
	Interval time.Duration
	NextRun  time.Time
	LastRun  time.Time
}

// Status returns the current scheduler state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{Running: p.running, Interval: p.interval}
	if p.running {
		entry := p.cron.Entry(p.entryID)
		s.NextRun = entry.Next
		s.LastRun = entry.Prev
	}
	return s
}

// RunCycle executes one full poll cycle. Concurrent calls serialize.
func (p *Poller) RunCycle(ctx context.Context) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	start := time.Now()

	repos, err := p.store.ListRepos()
	if err != nil {
		p.logger.Error("failed to list watched repos", slog.String("error", err.Error()))
		p.metrics.PollErrorsTotal.Inc()
		return
	}

	// Blocker sets resolved during this scan, keyed by tracked-issue ID.
	// Dispatch ordering prefers these over the stored CSV because MarkQueued
	// clears the column.
	resolutions := make(map[int64][]int)

	degraded := false
	for _, repo := range repos {
		if ctx.Err() != nil {
			return
		}
		if err := p.scanRepo(ctx, repo, resolutions); err != nil {
			degraded = true
		}
	}

	p.dispatchQueued(ctx, resolutions)
	p.releaseUnblocked(ctx)
	p.engine.CheckApprovals(ctx)
	p.refreshTrackedGauge()

	p.metrics.PollsTotal.Inc()
	if degraded {
		p.metrics.PollErrorsTotal.Inc()
	}
	p.logger.Debug("Poll cycle complete",
		slog.Int("repos", len(repos)),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// scanRepo lists open agent-ready issues and routes each through
// qualification. Issues carrying needs-human are invisible until a human
// removes the label.
func (p *Poller) scanRepo(ctx context.Context, repo *store.Repo, resolutions map[int64][]int) error {
	issues, err := p.upstream.ListIssues(ctx, repo.Owner, repo.Name, &github.ListIssuesOptions{
		State:  github.StateOpen,
		Labels: []string{github.LabelAgentReady},
	})
	if err != nil {
		p.logger.Warn("Issue scan failed",
			slog.String("repo", repo.FullName()),
			slog.String("error", err.Error()),
		)
		p.recorder.Record(events.TypePollError, repo.ID, 0, 0,
			fmt.Sprintf("listing issues for %s failed: %v", repo.FullName(), err))
		return err
	}

	for _, gh := range issues {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if github.HasLabel(gh, github.LabelNeedsHuman) {
			continue
		}
		p.considerIssue(ctx, repo, gh, resolutions)
	}
	return nil
}

// considerIssue decides what one sighted issue needs this cycle: tracking,
// routing, a retry reset, or nothing.
func (p *Poller) considerIssue(ctx context.Context, repo *store.Repo, gh *github.Issue, resolutions map[int64][]int) {
	issue, err := p.store.GetIssue(repo.ID, gh.Number)
	if err != nil {
		p.logger.Error("failed to look up tracked issue",
			slog.String("repo", repo.FullName()),
			slog.Int("issue", gh.Number),
			slog.String("error", err.Error()),
		)
		return
	}

	if issue == nil {
		issue = &store.Issue{
			RepoID:      repo.ID,
			IssueNumber: gh.Number,
			IssueTitle:  gh.Title,
		}
		if err := p.store.CreateIssue(issue); err != nil {
			p.logger.Error("failed to track issue",
				slog.String("repo", repo.FullName()),
				slog.Int("issue", gh.Number),
				slog.String("error", err.Error()),
			)
			return
		}
		p.metrics.IssuesDetected.Inc()
		p.route(ctx, repo, issue, resolutions)
		return
	}

	if issue.IssueTitle != gh.Title {
		if err := p.store.SetTitle(issue.ID, gh.Title); err != nil {
			p.logger.Warn("failed to refresh issue title",
				slog.Int("issue", issue.IssueNumber),
				slog.String("error", err.Error()),
			)
		} else {
			issue.IssueTitle = gh.Title
		}
	}

	switch issue.Status {
	case store.StatusPending:
		p.route(ctx, repo, issue, resolutions)
	case store.StatusCooldown:
		if cooldownOver(issue, time.Now()) {
			p.resetForRetry(repo, issue, "cooldown expired, eligible for retry")
		}
	case store.StatusFailed:
		p.resetForRetry(repo, issue, "still labeled for automation, retrying from scratch")
	}
	// QUEUED, BLOCKED, IN_PROGRESS, AWAITING_APPROVAL, and COMPLETED issues
	// need no scan action.
}

// route resolves blockers and moves a PENDING issue to QUEUED or BLOCKED.
func (p *Poller) route(ctx context.Context, repo *store.Repo, issue *store.Issue, resolutions map[int64][]int) {
	res := p.resolver.Resolve(ctx, repo, issue.IssueNumber)
	resolutions[issue.ID] = res.AllBlockers

	if res.Blocked() {
		csv := deps.FormatBlockerCSV(res.UnresolvedBlockers)
		ok, err := p.store.MarkBlocked(issue.ID, csv)
		if err != nil {
			p.logger.Error("failed to mark issue blocked",
				slog.Int("issue", issue.IssueNumber),
				slog.String("error", err.Error()),
			)
			return
		}
		if !ok {
			return
		}
		eventType := events.TypeDependencyBlocked
		if res.HasCycle {
			eventType = events.TypeDependencyCycle
		}
		p.recorder.Record(eventType, repo.ID, issue.ID, issue.IssueNumber, res.Chain)
		p.logger.Info("Issue blocked on dependencies",
			slog.String("repo", repo.FullName()),
			slog.Int("issue", issue.IssueNumber),
			slog.String("blockers", csv),
		)
		return
	}

	ok, err := p.store.MarkQueued(issue.ID)
	if err != nil {
		p.logger.Error("failed to queue issue",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		return
	}
	p.recorder.Record(events.TypeDetected, repo.ID, issue.ID, issue.IssueNumber,
		fmt.Sprintf("found agent-ready issue %q", issue.IssueTitle))
	p.logger.Info("Issue queued",
		slog.String("repo", repo.FullName()),
		slog.Int("issue", issue.IssueNumber),
	)
}

// resetForRetry returns a COOLDOWN or FAILED issue to PENDING with zeroed
// iteration counters. The issue re-qualifies on the next cycle.
func (p *Poller) resetForRetry(repo *store.Repo, issue *store.Issue, reason string) {
	ok, err := p.store.ResetForRetry(issue.ID)
	if err != nil {
		p.logger.Error("failed to reset issue for retry",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		return
	}
	p.recorder.Record(events.TypeCooldownReset, repo.ID, issue.ID, issue.IssueNumber, reason)
	p.logger.Info("Issue reset for retry",
		slog.String("repo", repo.FullName()),
		slog.Int("issue", issue.IssueNumber),
		slog.String("reason", reason),
	)
}

// dispatchQueued hands the QUEUED backlog to the engine, blockers before
// dependents.
func (p *Poller) dispatchQueued(ctx context.Context, resolutions map[int64][]int) {
	queued, err := p.store.ListIssuesByStatus(store.StatusQueued)
	if err != nil {
		p.logger.Error("failed to load queued issues", slog.String("error", err.Error()))
		return
	}
	if len(queued) == 0 {
		return
	}

	batch := make([]deps.QueuedIssue, 0, len(queued))
	for _, issue := range queued {
		blockers, ok := resolutions[issue.ID]
		if !ok {
			blockers = deps.ParseBlockerCSV(issue.BlockedByIssues)
		}
		batch = append(batch, deps.QueuedIssue{Issue: issue, Blockers: blockers})
	}

	for _, qi := range deps.TopologicalSort(batch) {
		if ctx.Err() != nil {
			return
		}
		p.dispatch(qi.Issue)
	}
}

// dispatch moves one issue to IN_PROGRESS and hands it to the engine. A
// failed handoff restores QUEUED so the next cycle retries.
func (p *Poller) dispatch(issue *store.Issue) {
	ok, err := p.store.SetStatus(issue.ID, store.StatusInProgress, store.StatusQueued)
	if err != nil {
		p.logger.Error("failed to mark issue in progress",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		return
	}

	if err := p.engine.Dispatch(issue.ID); err != nil {
		p.logger.Warn("Dispatch failed, returning issue to queue",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", err.Error()),
		)
		if _, err := p.store.SetStatus(issue.ID, store.StatusQueued, store.StatusInProgress); err != nil {
			p.logger.Error("failed to restore queued status",
				slog.Int("issue", issue.IssueNumber),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	p.recorder.Record(events.TypeDispatched, issue.RepoID, issue.ID, issue.IssueNumber,
		fmt.Sprintf("issue #%d dispatched to the worker pool", issue.IssueNumber))
	p.logger.Info("Issue dispatched", slog.Int("issue", issue.IssueNumber))
}

// releaseUnblocked re-checks BLOCKED issues and queues any whose recorded
// blockers have all resolved. Issues blocked on still-open work stay put;
// operators see them through the API.
func (p *Poller) releaseUnblocked(ctx context.Context) {
	blocked, err := p.store.ListIssuesByStatus(store.StatusBlocked)
	if err != nil {
		p.logger.Error("failed to load blocked issues", slog.String("error", err.Error()))
		return
	}

	for _, issue := range blocked {
		if ctx.Err() != nil {
			return
		}
		repo, err := p.store.GetRepoByID(issue.RepoID)
		if err != nil || repo == nil {
			p.logger.Error("failed to load repo for blocked issue",
				slog.Int("issue", issue.IssueNumber),
				slog.String("error", errString(err)),
			)
			continue
		}
		if !p.resolver.AllBlockersResolved(ctx, repo, issue.BlockedByIssues) {
			continue
		}

		ok, err := p.store.MarkQueued(issue.ID)
		if err != nil {
			p.logger.Error("failed to queue released issue",
				slog.Int("issue", issue.IssueNumber),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}
		p.recorder.Record(events.TypeBlockedReleased, repo.ID, issue.ID, issue.IssueNumber,
			fmt.Sprintf("blockers %s resolved", issue.BlockedByIssues))
		p.logger.Info("Blockers resolved, issue queued",
			slog.String("repo", repo.FullName()),
			slog.Int("issue", issue.IssueNumber),
		)
	}
}

// refreshTrackedGauge republishes per-status issue counts.
func (p *Poller) refreshTrackedGauge() {
	issues, err := p.store.ListIssues()
	if err != nil {
		p.logger.Error("failed to refresh issue gauge", slog.String("error", err.Error()))
		return
	}
	counts := make(map[string]int)
	for _, issue := range issues {
		counts[issue.Status]++
	}
	for _, status := range store.KnownStatuses {
		p.metrics.IssuesTracked.WithLabelValues(status).Set(float64(counts[status]))
	}
}

// cooldownOver reports whether a COOLDOWN issue may re-enter the queue.
func cooldownOver(issue *store.Issue, now time.Time) bool {
	return issue.CooldownUntil == nil || !now.Before(*issue.CooldownUntil)
}

func errString(err error) string {
	if err == nil {
		return "not found"
	}
	return err.Error()
}

// cronLogger adapts slog to the cron scheduler's logging interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
