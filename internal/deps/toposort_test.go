package deps

import (
	"testing"

	"github.com/issuebot/issuebot/internal/store"
)

func qi(repoID int64, number int, blockers ...int) QueuedIssue {
	return QueuedIssue{
		Issue:    &store.Issue{RepoID: repoID, IssueNumber: number},
		Blockers: blockers,
	}
}

func numbersOf(issues []QueuedIssue) []int {
	out := make([]int, len(issues))
	for i, qi := range issues {
		out[i] = qi.Issue.IssueNumber
	}
	return out
}

func assertOrder(t *testing.T, got []QueuedIssue, want []int) {
	t.Helper()
	nums := numbersOf(got)
	if len(nums) != len(want) {
		t.Fatalf("got %v, want %v", nums, want)
	}
	for i := range want {
		if nums[i] != want[i] {
			t.Fatalf("got %v, want %v", nums, want)
		}
	}
}

func TestTopologicalSortBlockersFirst(t *testing.T) {
	issues := []QueuedIssue{
		qi(1, 20, 10),
		qi(1, 10),
	}
	assertOrder(t, TopologicalSort(issues), []int{10, 20})
}

func TestTopologicalSortAscendingTieBreak(t *testing.T) {
	// No edges at all: pure ascending number order.
	issues := []QueuedIssue{
		qi(1, 30),
		qi(1, 10),
		qi(1, 20),
	}
	assertOrder(t, TopologicalSort(issues), []int{10, 20, 30})
}

func TestTopologicalSortChain(t *testing.T) {
	// 3 <- 2 <- 1 despite ascending numbers preferring 1 first.
	issues := []QueuedIssue{
		qi(1, 1, 2),
		qi(1, 2, 3),
		qi(1, 3),
	}
	assertOrder(t, TopologicalSort(issues), []int{3, 2, 1})
}

func TestTopologicalSortIgnoresExternalBlockers(t *testing.T) {
	// 99 is not in the input set; its edge must not gate #5.
	issues := []QueuedIssue{
		qi(1, 5, 99),
		qi(1, 2),
	}
	assertOrder(t, TopologicalSort(issues), []int{2, 5})
}

func TestTopologicalSortCycleTailAppended(t *testing.T) {
	// 7 <-> 8 cycle plus free-standing 9: the cycle members come after the
	// sortable prefix, in ascending order.
	issues := []QueuedIssue{
		qi(1, 8, 7),
		qi(1, 7, 8),
		qi(1, 9),
	}
	assertOrder(t, TopologicalSort(issues), []int{9, 7, 8})
}

func TestTopologicalSortReposIsolated(t *testing.T) {
	// Same numbers in different repos are distinct nodes; repo 2's #10 does
	// not satisfy repo 1's blocker edge.
	issues := []QueuedIssue{
		qi(1, 20, 10),
		qi(2, 10),
	}
	// No edge retained (repo 1 has no #10 in set): ascending order.
	assertOrder(t, TopologicalSort(issues), []int{10, 20})
}

func TestTopologicalSortSelfEdgeIgnored(t *testing.T) {
	issues := []QueuedIssue{
		qi(1, 4, 4),
		qi(1, 3),
	}
	assertOrder(t, TopologicalSort(issues), []int{3, 4})
}

func TestTopologicalSortEmptyAndSingle(t *testing.T) {
	if got := TopologicalSort(nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
	single := []QueuedIssue{qi(1, 1)}
	assertOrder(t, TopologicalSort(single), []int{1})
}
