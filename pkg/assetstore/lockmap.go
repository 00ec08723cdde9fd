package assetstore

import "sync"

// lockMap provides per-key mutual exclusion. The service uses one keyed by
// asset ID to serialize ledger appends with current-pointer updates, and
// the content store uses one keyed by content hash to make the
// exists-check-and-create on a blob atomic.
//
// Entries are reference counted and removed once the last holder unlocks,
// so the map stays bounded by the number of in-flight operations.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockMap() *lockMap {
	return &lockMap{locks: make(map[string]*lockEntry)}
}

func (l *lockMap) Lock(key string) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

func (l *lockMap) Unlock(key string) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		l.mu.Unlock()
		panic("assetstore: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}
