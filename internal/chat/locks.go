package chat

import "sync"

// lockTable provides per-conversation mutual exclusion so the
// append-then-fan-out sequence is atomic per chat while independent chats
// proceed in parallel. Entries are reference counted and removed once the
// last holder releases, keeping the table bounded by in-flight operations.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for the key and returns its release func.
func (t *lockTable) Lock(key string) func() {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &lockEntry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}
