package db

import "sync"

// keyedLock hands out one mutex per key so heartbeats for different
// buckets proceed in parallel while heartbeats for the same bucket are
// fully serialized. Entries are reference-counted and removed when the
// last holder releases, so the map does not grow with bucket churn.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]*lockEntry)}
}

// lock acquires the mutex for key and returns the release function.
func (k *keyedLock) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
