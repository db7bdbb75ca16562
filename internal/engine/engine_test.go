package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/issuebot/issuebot/internal/codegen"
	"github.com/issuebot/issuebot/internal/store"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatchRequiresStartedEngine(t *testing.T) {
	f := newEngineFixture(t)
	repo := f.seedRepo(t, nil)
	issue := f.seedInProgressIssue(t, repo.ID, 42)

	if err := f.engine.Dispatch(issue.ID); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestDispatchRejectsDuplicate(t *testing.T) {
	f := newEngineFixture(t)
	release := make(chan struct{})
	f.engine.codegen = blockingCodegen{release: release}
	repo := f.seedRepo(t, func(r *store.Repo) { r.MaxIterations = 1 })
	issue := f.seedInProgressIssue(t, repo.ID, 42)

	f.engine.Start(context.Background())
	defer f.engine.Stop()

	if err := f.engine.Dispatch(issue.ID); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if err := f.engine.Dispatch(issue.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	close(release)
	waitFor(t, "workflow to finish", func() { return !f.engine.Running(issue.ID) })
}

func TestEndToEndThroughWorkerPool(t *testing.T) {
	f := newEngineFixture(t)
	repo := f.seedRepo(t, nil)
	issue := f.seedInProgressIssue(t, repo.ID, 42)

	f.engine.Start(context.Background())
	defer f.engine.Stop()

	if err := f.engine.Dispatch(issue.ID); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	waitFor(t, "issue to complete", func() {
		return f.issueStatus(t, issue.ID) == store.StatusCompleted
	})
	if len(f.upstream.merged) != 1 {
		t.Errorf("expected 1 merge, got %v", f.upstream.merged)
	}
}

func TestStartRecoversOrphanedIssues(t *testing.T) {
	f := newEngineFixture(t)
	repo := f.seedRepo(t, nil)
	issue := f.seedInProgressIssue(t, repo.ID, 42)

	// A prior process died mid-workflow; Start returns the issue to the
	// queue so the next poll cycle re-dispatches it.
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	if got := f.issueStatus(t, issue.ID); got != store.StatusQueued {
		t.Fatalf("expected orphan recovered to QUEUED, got %s", got)
	}
}

func TestStopInterruptsRunningWorkflow(t *testing.T) {
	f := newEngineFixture(t)
	started := make(chan struct{})
	f.engine.codegen = signallingCodegen{started: started}
	repo := f.seedRepo(t, nil)
	issue := f.seedInProgressIssue(t, repo.ID, 42)

	f.engine.Start(context.Background())
	if err := f.engine.Dispatch(issue.ID); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	<-started
	f.engine.Stop()

	// Cancellation marks the interrupted issue FAILED.
	if got := f.issueStatus(t, issue.ID); got != store.StatusFailed {
		t.Fatalf("expected FAILED after interrupt, got %s", got)
	}
}

// blockingCodegen parks until released, then reports failure.
type blockingCodegen struct {
	release chan struct{}
}

func (b blockingCodegen) Run(ctx context.Context, _ codegen.Options) (*codegen.Result, error) {
	select {
	case <-b.release:
		return &codegen.Result{Success: false, Error: "released"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// signallingCodegen announces it is running, then blocks until cancelled.
type signallingCodegen struct {
	started chan struct{}
}

func (s signallingCodegen) Run(ctx context.Context, _ codegen.Options) (*codegen.Result, error) {
	close(s.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLockForSameKeySharesMutex(t *testing.T) {
	locks := newIssueLocks()
	a := locks.lockFor(1, 42)
	b := locks.lockFor(1, 42)
	if a != b {
		t.Error("same (repo, issue) must share a mutex")
	}
	c := locks.lockFor(1, 43)
	if a == c {
		t.Error("different issues must not share a mutex")
	}
	d := locks.lockFor(2, 42)
	if a == d {
		t.Error("different repos must not share a mutex")
	}
}

func TestLockForSerializesAccess(t *testing.T) {
	locks := newIssueLocks()
	mu := locks.lockFor(7, 7)

	mu.Lock()
	acquired := make(chan struct{})
	go func() {
		locks.lockFor(7, 7).Lock()
		close(acquired)
		locks.lockFor(7, 7).Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while held")
	case <-time.After(20 * time.Millisecond):
	}
	mu.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}
