package deps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/logging"
	"github.com/issuebot/issuebot/internal/store"
)

// IssueFetcher fetches issues from the upstream repository service.
type IssueFetcher interface {
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error)
}

// LocalStore reads locally tracked issue state.
type LocalStore interface {
	GetIssue(repoID int64, issueNumber int) (*store.Issue, error)
}

// EventSink records audit events. *events.Recorder satisfies it.
type EventSink interface {
	Record(eventType string, repoID, issueID int64, issueNumber int, message string)
}

// Resolution is the outcome of walking an issue's transitive blocker graph.
type Resolution struct {
	IssueNumber        int
	AllBlockers        []int // every transitive blocker, ascending
	UnresolvedBlockers []int // blockers neither closed upstream nor COMPLETED locally, ascending
	HasCycle           bool
	Chain              string // human-readable description
}

// Blocked reports whether the issue must wait on unresolved blockers.
func (r *Resolution) Blocked() bool {
	return len(r.UnresolvedBlockers) > 0
}

// Resolver walks blocker graphs against the upstream service and the local
// store.
type Resolver struct {
	upstream IssueFetcher
	local    LocalStore
	sink     EventSink
	logger   *slog.Logger
}

// NewResolver creates a Resolver. sink may be nil when no event log is wired
// (tests).
func NewResolver(upstream IssueFetcher, local LocalStore, sink EventSink) *Resolver {
	return &Resolver{
		upstream: upstream,
		local:    local,
		sink:     sink,
		logger:   logging.WithComponent("deps"),
	}
}

// Resolve walks the transitive blockers of issueNumber. It never fails
// upward: an upstream fetch failure degrades to "no blockers known for this
// node" with a warning event, and the affected blocker stays unresolved
// until a later poll can see it.
func (r *Resolver) Resolve(ctx context.Context, repo *store.Repo, issueNumber int) *Resolution {
	res := &Resolution{IssueNumber: issueNumber}

	origin, err := r.upstream.GetIssue(ctx, repo.Owner, repo.Name, issueNumber)
	if err != nil {
		r.fetchDegraded(repo, issueNumber, err)
		res.Chain = fmt.Sprintf("#%d has no known blockers (fetch failed)", issueNumber)
		return res
	}

	direct := ParseBlockedBy(origin.Body)

	visited := map[int]bool{issueNumber: true}
	graph := map[int][]int{issueNumber: direct}
	var all, unresolved []int

	stack := append([]int(nil), direct...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n == issueNumber {
			res.HasCycle = true
			continue
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		all = append(all, n)

		blocker, err := r.upstream.GetIssue(ctx, repo.Owner, repo.Name, n)
		if err != nil {
			r.fetchDegraded(repo, n, err)
			// Resolved-ness unknown; keep it blocking until a poll can see it.
			if !r.completedLocally(repo.ID, n) {
				unresolved = append(unresolved, n)
			}
			continue
		}

		if blocker.State != github.StateClosed && !r.completedLocally(repo.ID, n) {
			unresolved = append(unresolved, n)
		}

		children := ParseBlockedBy(blocker.Body)
		graph[n] = children
		for _, c := range children {
			if c == issueNumber {
				res.HasCycle = true
				continue
			}
			if !visited[c] {
				stack = append(stack, c)
			}
		}
	}

	sort.Ints(all)
	sort.Ints(unresolved)
	res.AllBlockers = all
	res.UnresolvedBlockers = unresolved

	cyclePath := findCycle(graph, issueNumber)
	if cyclePath != nil {
		res.HasCycle = true
	}
	res.Chain = describeChain(issueNumber, all, cyclePath)

	return res
}

// AllBlockersResolved reports whether every blocker in the stored CSV is
// closed upstream or COMPLETED locally. An empty or blank CSV resolves true.
func (r *Resolver) AllBlockersResolved(ctx context.Context, repo *store.Repo, csv string) bool {
	blockers := ParseBlockerCSV(csv)
	if len(blockers) == 0 {
		return true
	}

	for _, n := range blockers {
		if r.completedLocally(repo.ID, n) {
			continue
		}
		issue, err := r.upstream.GetIssue(ctx, repo.Owner, repo.Name, n)
		if err != nil {
			r.fetchDegraded(repo, n, err)
			return false
		}
		if issue.State != github.StateClosed {
			return false
		}
	}
	return true
}

func (r *Resolver) completedLocally(repoID int64, issueNumber int) bool {
	tracked, err := r.local.GetIssue(repoID, issueNumber)
	if err != nil || tracked == nil {
		return false
	}
	return tracked.Status == store.StatusCompleted
}

func (r *Resolver) fetchDegraded(repo *store.Repo, issueNumber int, err error) {
	r.logger.Warn("blocker fetch failed; no blockers known for this node",
		slog.String("repo", repo.FullName()),
		slog.Int("issue", issueNumber),
		slog.String("error", err.Error()),
	)
	if r.sink != nil {
		r.sink.Record(events.TypeDependencyFetchFailed, repo.ID, 0, issueNumber,
			fmt.Sprintf("could not fetch #%d while resolving blockers: %v", issueNumber, err))
	}
}

// findCycle runs a depth-first search over the fetched blocker graph and
// returns one cycle as a node path, or nil.
func findCycle(graph map[int][]int, start int) []int {
	visited := make(map[int]bool)
	onPath := make(map[int]bool)
	var path []int
	var cycle []int

	var dfs func(node int) bool
	dfs = func(node int) bool {
		visited[node] = true
		onPath[node] = true
		path = append(path, node)

		for _, dep := range graph[node] {
			if onPath[dep] {
				// Close the loop for display.
				for i, n := range path {
					if n == dep {
						cycle = append(append([]int(nil), path[i:]...), dep)
						return true
					}
				}
				cycle = append(append([]int(nil), path...), dep)
				return true
			}
			if !visited[dep] {
				if dfs(dep) {
					return true
				}
			}
		}

		onPath[node] = false
		path = path[:len(path)-1]
		return false
	}

	if dfs(start) {
		return cycle
	}
	return nil
}

// describeChain renders a human-readable blocker summary, flagging cycles.
func describeChain(issueNumber int, blockers []int, cyclePath []int) string {
	var b strings.Builder
	if len(blockers) == 0 {
		fmt.Fprintf(&b, "#%d has no blockers", issueNumber)
	} else {
		refs := make([]string, len(blockers))
		for i, n := range blockers {
			refs[i] = fmt.Sprintf("#%d", n)
		}
		fmt.Fprintf(&b, "#%d blocked by %s", issueNumber, strings.Join(refs, ", "))
	}
	if cyclePath != nil {
		parts := make([]string, len(cyclePath))
		for i, n := range cyclePath {
			parts[i] = fmt.Sprintf("#%d", n)
		}
		fmt.Fprintf(&b, " (dependency cycle detected: %s)", strings.Join(parts, " -> "))
	}
	return b.String()
}
