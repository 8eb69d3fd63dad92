package syncengine

import "sync"

// keyedLocks is an explicit registry of per-file mutexes. A caller
// acquiring a key blocks until any in-flight holder of the same key
// releases; distinct keys never contend. Entries are refcounted so the
// registry does not grow with every file ever synced.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until the key's lock is held and returns the release
// function. Callers must defer the release so every exit path, panics
// included, unlocks.
func (k *keyedLocks) Acquire(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
