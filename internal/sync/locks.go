package sync

import (
	stdsync "sync"

	"github.com/tandemapp/tandem-go/internal/entity"
)

// entityLocks serializes remote writes per entity. Cycle workers and the
// conflict resolution write path share one instance, which is what makes
// "at most one in-flight write per entity" hold across both.
type entityLocks struct {
	mu   stdsync.Mutex
	held map[entity.Ref]*entityLock
}

type entityLock struct {
	mu   stdsync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{held: make(map[entity.Ref]*entityLock)}
}

// lock acquires the entity's mutex, creating it on first use, and returns
// the release func. Entries are dropped once the last holder releases so
// the map does not grow with the lifetime set of entities.
func (l *entityLocks) lock(ref entity.Ref) (unlock func()) {
	l.mu.Lock()

	el := l.held[ref]
	if el == nil {
		el = &entityLock{}
		l.held[ref] = el
	}

	el.refs++
	l.mu.Unlock()

	el.mu.Lock()

	return func() {
		el.mu.Unlock()

		l.mu.Lock()
		el.refs--

		if el.refs == 0 {
			delete(l.held, ref)
		}
		l.mu.Unlock()
	}
}
