package snapshot

import (
	"hash/fnv"
	"sync"
)

// stripeCount is the fixed number of lock shards. Keys hash into a shard,
// which caps memory at a constant regardless of how many task IDs the
// engine ever sees. Distinct keys usually land on distinct shards, so
// snapshot I/O for different tasks proceeds concurrently while access to
// the same task's snapshot is serialized.
const stripeCount = 64

// stripedLocks provides per-key mutual exclusion over a bounded set of
// mutexes.
type stripedLocks struct {
	shards [stripeCount]sync.Mutex
}

func (s *stripedLocks) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.shards[h.Sum32()%stripeCount]
}

// Lock acquires the shard mutex for the given key.
func (s *stripedLocks) Lock(key string) {
	s.shard(key).Lock()
}

// Unlock releases the shard mutex for the given key.
func (s *stripedLocks) Unlock(key string) {
	s.shard(key).Unlock()
}
