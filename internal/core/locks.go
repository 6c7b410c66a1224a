package core

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// keyLocks serializes writers per (bucket, key) through a fixed set of
// striped mutexes. Striping bounds memory no matter how many keys a
// deployment holds; unrelated keys rarely share a stripe.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

// lock acquires the stripe covering (bucket, key) and returns its
// release function.
func (l *keyLocks) lock(bucket, key string) func() {
	h := fnv.New32a()
	h.Write([]byte(bucket))
	h.Write([]byte{0})
	h.Write([]byte(key))
	stripe := &l.stripes[h.Sum32()%lockStripes]
	stripe.Lock()
	return stripe.Unlock
}

// bucketLocks hands out one RWMutex per bucket for configuration
// reads/writes. Entries are never reaped; bucket counts stay small.
type bucketLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newBucketLocks() *bucketLocks {
	return &bucketLocks{locks: make(map[string]*sync.RWMutex)}
}

func (b *bucketLocks) get(bucket string) *sync.RWMutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.locks[bucket]; ok {
		return l
	}
	l := &sync.RWMutex{}
	b.locks[bucket] = l
	return l
}

// lock write-locks a bucket's configuration and returns the release.
func (b *bucketLocks) lock(bucket string) func() {
	l := b.get(bucket)
	l.Lock()
	return l.Unlock
}

// rlock read-locks a bucket's configuration and returns the release.
func (b *bucketLocks) rlock(bucket string) func() {
	l := b.get(bucket)
	l.RLock()
	return l.RUnlock
}
