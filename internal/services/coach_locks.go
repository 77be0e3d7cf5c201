package services

import (
	"slices"
	"sync"
)

// coachLocks serializes scheduling writes per coach inside one process. The
// Postgres advisory lock does the same across processes.
type coachLocks struct {
	mu    sync.Mutex
	locks map[int64]*coachLock
}

type coachLock struct {
	mu   sync.Mutex
	refs int
}

func newCoachLocks() *coachLocks {
	return &coachLocks{locks: make(map[int64]*coachLock)}
}

// lock acquires every coach's lock in ascending id order and returns the
// matching unlock.
func (l *coachLocks) lock(coachIDs ...int64) func() {
	ids := slices.Clone(coachIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	held := make([]*coachLock, 0, len(ids))
	for _, id := range ids {
		l.mu.Lock()
		entry, ok := l.locks[id]
		if !ok {
			entry = &coachLock{}
			l.locks[id] = entry
		}
		entry.refs++
		l.mu.Unlock()

		entry.mu.Lock()
		held = append(held, entry)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		l.mu.Lock()
		for i, id := range ids {
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, id)
			}
		}
		l.mu.Unlock()
	}
}
