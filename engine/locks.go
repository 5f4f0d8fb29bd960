package engine

import "sync"

// OpKind names a mutating operation class.
type OpKind string

const (
	// OpIndex is an indexing run (streamed or batch).
	OpIndex OpKind = "index"
	// OpReset is a server-side index reset.
	OpReset OpKind = "reset"
)

// opLocks serializes mutating operations per repository. At most one
// operation of any kind may run against a repository at a time; a second
// attempt fails fast instead of queueing. Operations on different
// repositories never contend.
type opLocks struct {
	mu     sync.Mutex
	active map[int64]OpKind
}

func newOpLocks() *opLocks {
	return &opLocks{active: make(map[int64]OpKind)}
}

// tryAcquire claims the repository for the given operation. It returns
// false without blocking when any operation already holds it.
func (l *opLocks) tryAcquire(repoID int64, kind OpKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[repoID]; busy {
		return false
	}
	l.active[repoID] = kind
	return true
}

// release frees the repository, but only if the given kind holds it.
func (l *opLocks) release(repoID int64, kind OpKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[repoID] == kind {
		delete(l.active, repoID)
	}
}

// activeKind reports which operation currently holds the repository.
func (l *opLocks) activeKind(repoID int64) (OpKind, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kind, ok := l.active[repoID]
	return kind, ok
}
