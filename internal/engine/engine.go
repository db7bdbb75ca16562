// Package engine drives the per-issue workflow: it takes dispatched issues
// through implementation, CI, review, and merge or human approval, enforcing
// the iteration budgets along the way. A small worker pool executes issues in
// parallel; a per-issue lock guarantees at most one workflow acts on a given
// issue at a time.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/issuebot/issuebot/internal/budget"
	"github.com/issuebot/issuebot/internal/codegen"
	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/gitops"
	"github.com/issuebot/issuebot/internal/logging"
	"github.com/issuebot/issuebot/internal/metrics"
	"github.com/issuebot/issuebot/internal/review"
	"github.com/issuebot/issuebot/internal/store"
)

// Dispatch errors. The poller restores an issue to QUEUED when dispatch
// fails so the next cycle can try again.
var (
	ErrAlreadyRunning = errors.New("issue workflow already running")
	ErrQueueFull      = errors.New("dispatch queue is full")
	ErrStopped        = errors.New("engine is not running")
)

const (
	defaultCIPollInterval = 15 * time.Second
	defaultCIGracePeriod  = 60 * time.Second
	queueDepthPerWorker   = 8
)

// Upstream is the slice of the repository service the engine needs.
// *github.Client satisfies it.
type Upstream interface {
	GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	AddComment(ctx context.Context, owner, repo string, number int, body string) (*github.Comment, error)
	CreatePullRequest(ctx context.Context, owner, repo string, input *github.PullRequestInput) (*github.PullRequest, error)
	FindPRByBranch(ctx context.Context, owner, repo, branch string) (*github.PullRequest, error)
	MergePullRequest(ctx context.Context, owner, repo string, number int, method, commitTitle string) error
	CloseIssue(ctx context.Context, owner, repo string, number int) error
	ListPullRequestReviews(ctx context.Context, owner, repo string, number int) ([]*github.PullRequestReview, error)
	GetCombinedStatus(ctx context.Context, owner, repo, sha string) (*github.CombinedStatus, error)
	ListCheckRuns(ctx context.Context, owner, repo, sha string) (*github.CheckRunsResponse, error)
}

// CodeGenerator runs the implementation tool. *codegen.Runner satisfies it.
type CodeGenerator interface {
	Run(ctx context.Context, opts codegen.Options) (*codegen.Result, error)
}

// Reviewer runs the independent review tool. *review.Runner satisfies it.
type Reviewer interface {
	Run(ctx context.Context, opts review.Options) (*review.RunResult, error)
}

// Workspace is one issue's isolated checkout.
type Workspace interface {
	Path() string
	Prepare(ctx context.Context, cloneURL string) error
	EnsureBranch(ctx context.Context, branch string) error
	CommitAll(ctx context.Context, message string) (bool, error)
	Push(ctx context.Context, branch string) error
	Diff(ctx context.Context) (string, error)
	ChangedFiles(ctx context.Context) ([]string, error)
	Remove() error
}

// WorkspaceManager hands out per-issue workspaces.
type WorkspaceManager interface {
	Workspace(repo *store.Repo, issueNumber int) Workspace
}

type gitWorkspaces struct {
	m *gitops.Manager
}

// NewGitWorkspaces adapts a gitops.Manager to the WorkspaceManager interface.
func NewGitWorkspaces(m *gitops.Manager) WorkspaceManager {
	return gitWorkspaces{m: m}
}

func (g gitWorkspaces) Workspace(repo *store.Repo, issueNumber int) Workspace {
	return g.m.Workspace(repo, issueNumber)
}

// Config wires the engine's collaborators.
type Config struct {
	Store      *store.Store
	Upstream   Upstream
	Workspaces WorkspaceManager
	Codegen    CodeGenerator
	Reviewer   Reviewer // nil disables independent review globally
	Budget     *budget.Enforcer
	Recorder   *events.Recorder
	Notifier   *events.Notifier
	Metrics    *metrics.Metrics // nil gets an isolated registry
	Workers    int
}

// Engine runs issue workflows on a worker pool.
type Engine struct {
	store      *store.Store
	upstream   Upstream
	workspaces WorkspaceManager
	codegen    CodeGenerator
	reviewer   Reviewer
	budget     *budget.Enforcer
	recorder   *events.Recorder
	notifier   *events.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// CI polling knobs, exported so tests can shrink the wait loop.
	CIPollInterval time.Duration
	CIGracePeriod  time.Duration

	workers int
	queue   chan int64
	locks   *issueLocks

	mu      sync.Mutex
	running map[int64]bool
	started bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Engine. Workers defaults to 2.
func New(cfg Config) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &Engine{
		store:          cfg.Store,
		upstream:       cfg.Upstream,
		workspaces:     cfg.Workspaces,
		codegen:        cfg.Codegen,
		reviewer:       cfg.Reviewer,
		budget:         cfg.Budget,
		recorder:       cfg.Recorder,
		notifier:       cfg.Notifier,
		metrics:        m,
		logger:         logging.WithComponent("engine"),
		CIPollInterval: defaultCIPollInterval,
		CIGracePeriod:  defaultCIGracePeriod,
		workers:        workers,
		queue:          make(chan int64, workers*queueDepthPerWorker),
		locks:          newIssueLocks(),
		running:        make(map[int64]bool),
	}
}

// Start launches the worker pool and recovers issues orphaned in IN_PROGRESS
// by a previous run. Workflows inherit ctx: cancelling it interrupts every
// suspension point.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.baseCtx, e.stop = context.WithCancel(ctx)
	e.mu.Unlock()

	e.recoverOrphans()

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.logger.Info("Engine started", slog.Int("workers", e.workers))
}

// Stop cancels in-flight workflows and waits for the workers to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	e.stop()
	e.wg.Wait()
	e.logger.Info("Engine stopped")
}

// Dispatch hands an issue to the worker pool. The caller must already have
// transitioned the issue to IN_PROGRESS. Dispatching an issue whose workflow
// is still running is rejected.
func (e *Engine) Dispatch(issueID int64) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.running[issueID] {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running[issueID] = true
	e.mu.Unlock()

	select {
	case e.queue <- issueID:
		e.metrics.DispatchesTotal.Inc()
		return nil
	default:
		e.clearRunning(issueID)
		return ErrQueueFull
	}
}

// Running reports whether an issue's workflow is currently executing or
// queued for execution.
func (e *Engine) Running(issueID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running[issueID]
}

func (e *Engine) clearRunning(issueID int64) {
	e.mu.Lock()
	delete(e.running, issueID)
	e.mu.Unlock()
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.baseCtx.Done():
			return
		case id := <-e.queue:
			e.process(e.baseCtx, id)
			e.clearRunning(id)
		}
	}
}

// recoverOrphans returns issues stranded in IN_PROGRESS by an unclean
// shutdown to QUEUED so the next poll cycle re-dispatches them.
func (e *Engine) recoverOrphans() {
	issues, err := e.store.ListIssuesByStatus(store.StatusInProgress)
	if err != nil {
		e.logger.Error("failed to list orphaned issues", slog.String("error", err.Error()))
		return
	}
	for _, issue := range issues {
		ok, err := e.store.SetStatus(issue.ID, store.StatusQueued, store.StatusInProgress)
		if err != nil {
			e.logger.Error("failed to recover orphaned issue",
				slog.Int("issue", issue.IssueNumber),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			e.logger.Warn("Recovered issue orphaned in IN_PROGRESS",
				slog.Int("issue", issue.IssueNumber),
			)
		}
	}
}

func (e *Engine) process(ctx context.Context, issueID int64) {
	issue, err := e.store.GetIssueByID(issueID)
	if err != nil || issue == nil {
		e.logger.Error("failed to load dispatched issue",
			slog.Int64("issue_id", issueID),
			slog.String("error", errString(err)),
		)
		return
	}
	repo, err := e.store.GetRepoByID(issue.RepoID)
	if err != nil || repo == nil {
		e.logger.Error("failed to load repo for dispatched issue",
			slog.Int("issue", issue.IssueNumber),
			slog.String("error", errString(err)),
		)
		return
	}

	lock := e.locks.lockFor(issue.RepoID, issue.IssueNumber)
	lock.Lock()
	defer lock.Unlock()

	e.metrics.WorkflowsActive.Inc()
	defer e.metrics.WorkflowsActive.Dec()

	runID := uuid.New().String()
	started := time.Now()
	e.logger.Info("Workflow started",
		slog.String("run_id", runID),
		slog.String("repo", repo.FullName()),
		slog.Int("issue", issue.IssueNumber),
		slog.String("status", issue.Status),
	)
	e.runWorkflow(ctx, repo, issue)
	e.logger.Info("Workflow finished",
		slog.String("run_id", runID),
		slog.String("repo", repo.FullName()),
		slog.Int("issue", issue.IssueNumber),
		slog.Duration("duration", time.Since(started)),
	)
}

func errString(err error) string {
	if err == nil {
		return "not found"
	}
	return err.Error()
}
