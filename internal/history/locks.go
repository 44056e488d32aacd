package history

import (
	"hash/fnv"
	"sync"
)

// lockShards is the number of mutexes user ids are hashed onto.
const lockShards = 64

// userLocks serializes writes per user. Two users may share a shard; that
// only costs throughput, never correctness.
type userLocks struct {
	shards [lockShards]sync.Mutex
}

// lock acquires the shard for userID and returns its unlock function.
func (l *userLocks) lock(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &l.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu.Unlock
}
