package deps

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/store"
)

// fakeFetcher serves issues from a map and fails for unknown numbers.
type fakeFetcher struct {
	issues map[int]*github.Issue
	errs   map[int]error
	calls  int
}

func (f *fakeFetcher) GetIssue(_ context.Context, _, _ string, number int) (*github.Issue, error) {
	f.calls++
	if err, ok := f.errs[number]; ok {
		return nil, err
	}
	issue, ok := f.issues[number]
	if !ok {
		return nil, errors.New("API error (status 404): issue not found")
	}
	return issue, nil
}

// fakeLocal serves tracked issues from a map.
type fakeLocal struct {
	issues map[int]*store.Issue
}

func (f *fakeLocal) GetIssue(_ int64, issueNumber int) (*store.Issue, error) {
	return f.issues[issueNumber], nil
}

// fakeSink records event types.
type fakeSink struct {
	types []string
}

func (f *fakeSink) Record(eventType string, _, _ int64, _ int, _ string) {
	f.types = append(f.types, eventType)
}

func openIssue(number int, body string) *github.Issue {
	return &github.Issue{Number: number, State: github.StateOpen, Body: body}
}

func closedIssue(number int, body string) *github.Issue {
	return &github.Issue{Number: number, State: github.StateClosed, Body: body}
}

func testRepo() *store.Repo {
	return &store.Repo{ID: 1, Owner: "acme", Name: "widgets"}
}

func TestResolveNoBlockers(t *testing.T) {
	fetcher := &fakeFetcher{issues: map[int]*github.Issue{
		20: openIssue(20, "Just do the thing"),
	}}
	r := NewResolver(fetcher, &fakeLocal{}, nil)

	res := r.Resolve(context.Background(), testRepo(), 20)
	if res.Blocked() {
		t.Error("expected not blocked")
	}
	if len(res.AllBlockers) != 0 {
		t.Errorf("expected no blockers, got %v", res.AllBlockers)
	}
	if res.HasCycle {
		t.Error("expected no cycle")
	}
	if !strings.Contains(res.Chain, "no blockers") {
		t.Errorf("unexpected chain: %q", res.Chain)
	}
}

func TestResolveDirectBlockers(t *testing.T) {
	fetcher := &fakeFetcher{issues: map[int]*github.Issue{
		20: openIssue(20, "**Blocked by:** #10, #15"),
		10: openIssue(10, "first blocker"),
		15: openIssue(15, "second blocker"),
	}}
	r := NewResolver(fetcher, &fakeLocal{}, nil)

	res := r.Resolve(context.Background(), testRepo(), 20)
	if !res.Blocked() {
		t.Fatal("expected blocked")
	}
	if !reflect.DeepEqual(res.AllBlockers, []int{10, 15}) {
		t.Errorf("AllBlockers = %v, want [10 15]", res.AllBlockers)
	}
	if !reflect.DeepEqual(res.UnresolvedBlockers, []int{10, 15}) {
		t.Errorf("UnresolvedBlockers = %v, want [10 15]", res.UnresolvedBlockers)
	}
}

func TestResolveTransitive(t *testing.T) {
	// 20 <- 10 <- 5; 5 closed upstream, 10 open.
	fetcher := &fakeFetcher{issues: map[int]*github.Issue{
		20: openIssue(20, "**Blocked by:** #10"),
		10: openIssue(10, "**Blocked by:** #5"),
		5:  closedIssue(5, "done"),
	}}
	r := NewResolver(fetcher, &fakeLocal{}, nil)

	res := r.Resolve(context.Background(), testRepo(), 20)
	if !reflect.DeepEqual(res.AllBlockers, []int{5, 10}) {
		t.Errorf("AllBlockers = %v, want [5 10]", res.AllBlockers)
	}
	if !reflect.DeepEqual(res.UnresolvedBlockers, []int{10}) {
		t.Errorf("UnresolvedBlockers = %v, want [10]", res.UnresolvedBlockers)
	}
}

func TestResolveCompletedLocallyCountsResolved(t *testing.T) {
	fetcher := &fakeFetcher{issues: map[int]*github.Issue{
		20: openIssue(20, "**Blocked by:** #10"),
		10: openIssue(10, "still open upstream"),
	}}
	local := &fakeLocal{issues: map[int]*store.Issue{
		10: {RepoID: 1, IssueNumber: 10, Status: store.StatusCompleted},
	}}
	r := NewResolver(fetcher, local, nil)

	res := r.Resolve(context.Background(), testRepo(), 20)
	if res.Blocked() {
		t.Errorf("expected locally COMPLETED blocker to count as resolved, got %v", res.UnresolvedBlockers)
	}
	if !reflect.DeepEqual(res.AllBlockers, []int{10}) {
		t.Errorf("AllBlockers = %v, want [10]", res.AllBlockers)
	}
}

func TestResolveCycle(t *testing.T) {
	fetcher := &fakeFetcher{issues: map[int]*github.Issue{
		10: openIssue(10, "**Blocked by:** #5"),
		5:  openIssue(5, "**Blocked by:** #10"),
	}}
	r := NewResolver(fetcher, &fakeLocal{}, nil)

	res := r.Resolve(context.Background(), testRepo(), 10)
	if !res.HasCycle {
		t.Error("expected cycle flagged")
	}
	if !reflect.DeepEqual(res.AllBlockers, []int{5}) {
		t.Errorf("AllBlockers = %v, want [5]", res.AllBlockers)
	}
	if !reflect.DeepEqual(res.UnresolvedBlockers, []int{5}) {
		t.Errorf("UnresolvedBlockers = %v, want [5]", res.UnresolvedBlockers)
	}
	if !strings.Contains(res.Chain, "cycle") {
		t.Errorf("expected cycle warning in chain, got %q", res.Chain)
	}
}

func TestResolveDiamondIsNotACycle(t *testing.T) {
	// 1 <- {2, 3}, both <- 4. Shared blockers are fine.
	fetcher := &fakeFetcher{issues: map[int]*github.Issue{
		1: openIssue(1, "**Blocked by:** #2, #3"),
		2: openIssue(2, "**Blocked by:** #4"),
		3: openIssue(3, "**Blocked by:** #4"),
		4: openIssue(4, "leaf"),
	}}
	r := NewResolver(fetcher, &fakeLocal{}, nil)

	res := r.Resolve(context.Background(), testRepo(), 1)
	if res.HasCycle {
		t.Errorf("diamond flagged as cycle: %q", res.Chain)
	}
	if !reflect.DeepEqual(res.AllBlockers, []int{2, 3, 4}) {
		t.Errorf("AllBlockers = %v, want [2 3 4]", res.AllBlockers)
	}
}

func TestResolveFetchFailureDegrades(t *testing.T) {
	fetcher := &fakeFetcher{
		issues: map[int]*github.Issue{
			20: openIssue(20, "**Blocked by:** #10"),
		},
		errs: map[int]error{
			10: errors.New("API error (status 500): upstream down"),
		},
	}
	sink := &fakeSink{}
	r := NewResolver(fetcher, &fakeLocal{}, sink)

	res := r.Resolve(context.Background(), testRepo(), 20)
	// The unfetchable blocker contributes no children but stays unresolved.
	if !reflect.DeepEqual(res.UnresolvedBlockers, []int{10}) {
		t.Errorf("UnresolvedBlockers = %v, want [10]", res.UnresolvedBlockers)
	}
	if len(sink.types) != 1 || sink.types[0] != "DEPENDENCY_FETCH_FAILED" {
		t.Errorf("expected one DEPENDENCY_FETCH_FAILED event, got %v", sink.types)
	}
}

func TestResolveOriginFetchFailureMeansNoBlockers(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[int]error{
		20: errors.New("API error (status 503): unavailable"),
	}}
	sink := &fakeSink{}
	r := NewResolver(fetcher, &fakeLocal{}, sink)

	res := r.Resolve(context.Background(), testRepo(), 20)
	if res.Blocked() {
		t.Error("origin fetch failure must degrade to no blockers known")
	}
	if res.HasCycle {
		t.Error("expected no cycle")
	}
	if len(sink.types) != 1 {
		t.Errorf("expected warning event, got %v", sink.types)
	}
}

func TestResolveVisitedSeededWithOrigin(t *testing.T) {
	// Self-reference: #7 blocked by #7. The origin seed keeps it out of
	// allBlockers and flags the cycle.
	fetcher := &fakeFetcher{issues: map[int]*github.Issue{
		7: openIssue(7, "**Blocked by:** #7"),
	}}
	r := NewResolver(fetcher, &fakeLocal{}, nil)

	res := r.Resolve(context.Background(), testRepo(), 7)
	if !res.HasCycle {
		t.Error("expected self-reference flagged as cycle")
	}
	if len(res.AllBlockers) != 0 {
		t.Errorf("expected no blockers accumulated, got %v", res.AllBlockers)
	}
}

func TestAllBlockersResolved(t *testing.T) {
	fetcher := &fakeFetcher{issues: map[int]*github.Issue{
		10: closedIssue(10, ""),
		15: openIssue(15, ""),
	}}
	local := &fakeLocal{issues: map[int]*store.Issue{
		15: {RepoID: 1, IssueNumber: 15, Status: store.StatusCompleted},
	}}
	r := NewResolver(fetcher, local, nil)
	ctx := context.Background()

	tests := []struct {
		csv  string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"10", true},    // closed upstream
		{"15", true},    // COMPLETED locally
		{"10,15", true}, // both
	}
	for _, tt := range tests {
		if got := r.AllBlockersResolved(ctx, testRepo(), tt.csv); got != tt.want {
			t.Errorf("AllBlockersResolved(%q) = %v, want %v", tt.csv, got, tt.want)
		}
	}
}

func TestAllBlockersResolvedOpenBlocker(t *testing.T) {
	fetcher := &fakeFetcher{issues: map[int]*github.Issue{
		10: openIssue(10, ""),
	}}
	r := NewResolver(fetcher, &fakeLocal{}, nil)

	if r.AllBlockersResolved(context.Background(), testRepo(), "10") {
		t.Error("expected open untracked blocker to stay unresolved")
	}
}

func TestAllBlockersResolvedFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[int]error{
		10: fmt.Errorf("API error (status 502): bad gateway"),
	}}
	sink := &fakeSink{}
	r := NewResolver(fetcher, &fakeLocal{}, sink)

	if r.AllBlockersResolved(context.Background(), testRepo(), "10") {
		t.Error("fetch failure must keep the blocker unresolved this cycle")
	}
	if len(sink.types) != 1 {
		t.Errorf("expected warning event, got %v", sink.types)
	}
}
