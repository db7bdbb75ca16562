package engine

import "sync"

const lockShards = 32

type lockKey struct {
	repoID int64
	number int
}

// issueLocks is a sharded map of per-issue mutexes. Locks are created on
// first use and never removed; the population is bounded by the number of
// tracked issues.
type issueLocks struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu sync.Mutex
	m  map[lockKey]*sync.Mutex
}

func newIssueLocks() *issueLocks {
	l := &issueLocks{}
	for i := range l.shards {
		l.shards[i].m = make(map[lockKey]*sync.Mutex)
	}
	return l
}

// lockFor returns the mutex serializing workflows for one issue.
func (l *issueLocks) lockFor(repoID int64, issueNumber int) *sync.Mutex {
	k := lockKey{repoID: repoID, number: issueNumber}
	s := &l.shards[shardIndex(k)]

	s.mu.Lock()
	defer s.mu.Unlock()
	if mu, ok := s.m[k]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.m[k] = mu
	return mu
}

func shardIndex(k lockKey) int {
	h := uint64(k.repoID)*31 + uint64(k.number)
	return int(h % lockShards)
}
