package deps

import (
	"container/heap"
	"sort"

	"github.com/issuebot/issuebot/internal/store"
)

// QueuedIssue pairs a tracked issue with its known blockers for dispatch
// ordering. Blockers come from the resolution performed in the same poll
// cycle, or from the stored CSV for carried-over rows.
type QueuedIssue struct {
	Issue    *store.Issue
	Blockers []int
}

type issueKey struct {
	repoID int64
	number int
}

// TopologicalSort orders queued issues so blockers dispatch before the
// issues they block. Kahn's algorithm restricted to the input set: edges to
// issues outside the set (external or already-resolved blockers) are
// ignored. Ready ties break by ascending issue number. If a cycle survives
// among the inputs, the unsortable tail is appended in ascending number
// order rather than dropped.
func TopologicalSort(issues []QueuedIssue) []QueuedIssue {
	if len(issues) <= 1 {
		return issues
	}

	inSet := make(map[issueKey]QueuedIssue, len(issues))
	for _, qi := range issues {
		inSet[key(qi)] = qi
	}

	indegree := make(map[issueKey]int, len(issues))
	dependents := make(map[issueKey][]issueKey)
	for _, qi := range issues {
		k := key(qi)
		if _, ok := indegree[k]; !ok {
			indegree[k] = 0
		}
		for _, b := range qi.Blockers {
			bk := issueKey{repoID: qi.Issue.RepoID, number: b}
			if _, ok := inSet[bk]; !ok || bk == k {
				continue
			}
			dependents[bk] = append(dependents[bk], k)
			indegree[k]++
		}
	}

	ready := &issueHeap{}
	heap.Init(ready)
	for _, qi := range issues {
		if indegree[key(qi)] == 0 {
			heap.Push(ready, qi)
		}
	}

	ordered := make([]QueuedIssue, 0, len(issues))
	placed := make(map[issueKey]bool, len(issues))
	for ready.Len() > 0 {
		qi := heap.Pop(ready).(QueuedIssue)
		k := key(qi)
		ordered = append(ordered, qi)
		placed[k] = true
		for _, dk := range dependents[k] {
			indegree[dk]--
			if indegree[dk] == 0 {
				heap.Push(ready, inSet[dk])
			}
		}
	}

	if len(ordered) < len(issues) {
		var tail []QueuedIssue
		for _, qi := range issues {
			if !placed[key(qi)] {
				tail = append(tail, qi)
			}
		}
		sort.Slice(tail, func(i, j int) bool { return lessByNumber(tail[i], tail[j]) })
		ordered = append(ordered, tail...)
	}
	return ordered
}

func key(qi QueuedIssue) issueKey {
	return issueKey{repoID: qi.Issue.RepoID, number: qi.Issue.IssueNumber}
}

func lessByNumber(a, b QueuedIssue) bool {
	if a.Issue.IssueNumber != b.Issue.IssueNumber {
		return a.Issue.IssueNumber < b.Issue.IssueNumber
	}
	return a.Issue.RepoID < b.Issue.RepoID
}

// issueHeap is a min-heap of queued issues by ascending issue number.
type issueHeap []QueuedIssue

func (h issueHeap) Len() int            { return len(h) }
func (h issueHeap) Less(i, j int) bool  { return lessByNumber(h[i], h[j]) }
func (h issueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *issueHeap) Push(x interface{}) { *h = append(*h, x.(QueuedIssue)) }

func (h *issueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
