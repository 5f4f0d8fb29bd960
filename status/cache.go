package status

import (
	"sort"
	"sync"
)

// entry is the mutable cache record for one repository. All fields are
// guarded by the cache mutex; readers only ever see copies.
type entry struct {
	repo        Repository
	hasCounters bool
	totalKnown  bool
	counters    Counters
	filesLoaded bool
	files       []FileStatus
}

// Cache is the in-memory view of per-repository indexing progress. It is
// safe for concurrent use. Every mutation on an entry is applied under a
// single lock acquisition, so readers never observe a half-updated entry.
type Cache struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	subs    map[int]chan int64
	nextSub int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[int64]*entry),
		subs:    make(map[int]chan int64),
	}
}

// ensure returns the entry for repoID, creating an empty one if needed.
// Callers must hold the write lock.
func (c *Cache) ensure(repoID int64) *entry {
	e, ok := c.entries[repoID]
	if !ok {
		e = &entry{repo: Repository{ID: repoID}}
		c.entries[repoID] = e
	}
	return e
}

// Track registers a repository, preserving any progress already recorded
// for it (e.g. from stream deltas that arrived before the listing).
func (c *Cache) Track(repo Repository) {
	c.mu.Lock()
	e := c.ensure(repo.ID)
	e.repo = repo
	c.mu.Unlock()
	c.notify(repo.ID)
}

// Repositories returns the tracked repositories sorted by full name.
func (c *Cache) Repositories() []Repository {
	c.mu.RLock()
	repos := make([]Repository, 0, len(c.entries))
	for _, e := range c.entries {
		repos = append(repos, e.repo)
	}
	c.mu.RUnlock()

	sort.Slice(repos, func(i, j int) bool {
		return repos[i].FullName() < repos[j].FullName()
	})
	return repos
}

// Get returns a snapshot of the entry for repoID. The snapshot shares no
// memory with the cache; mutating it has no effect on other readers.
func (c *Cache) Get(repoID int64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[repoID]
	if !ok {
		return Entry{}, false
	}
	snap := Entry{Repo: e.repo, TotalKnown: e.totalKnown}
	if e.hasCounters {
		counters := e.counters
		snap.Counters = &counters
	}
	if e.filesLoaded {
		snap.Files = make([]FileStatus, len(e.files))
		copy(snap.Files, e.files)
	}
	return snap, true
}

// MergeCounters records server-reported aggregate counts for repoID.
// Out-of-range values are clamped rather than rejected: total is floored
// at zero and indexed is clamped into [0, total]. Server counts are
// authoritative and overwrite anything accumulated from deltas, including
// a zero summary.
func (c *Cache) MergeCounters(repoID int64, counters Counters) {
	c.mu.Lock()
	e := c.ensure(repoID)
	if counters.Total < 0 {
		counters.Total = 0
	}
	if counters.Indexed < 0 {
		counters.Indexed = 0
	}
	if counters.Indexed > counters.Total {
		counters.Indexed = counters.Total
	}
	e.counters = counters
	e.hasCounters = true
	e.totalKnown = true
	c.mu.Unlock()
	c.notify(repoID)
}

// MergeFiles replaces the per-file list for repoID. When the entry already
// carries counters they are preserved untouched; the file list and the
// aggregate counts may legitimately disagree while the backend pipeline is
// in flight, and the summary endpoint is the authority on counts. Only
// when no counters exist yet are they derived from the list itself.
func (c *Cache) MergeFiles(repoID int64, files []FileStatus) {
	c.mu.Lock()
	e := c.ensure(repoID)
	e.files = make([]FileStatus, len(files))
	copy(e.files, files)
	e.filesLoaded = true
	if !e.hasCounters {
		e.counters = Counters{Total: len(files), Indexed: IndexedCount(files)}
		e.hasCounters = true
		e.totalKnown = true
	}
	c.mu.Unlock()
	c.notify(repoID)
}

// ApplyDelta adjusts the indexed count of repoID in response to one
// streamed per-file event. When the file list is loaded and names the
// path, the delta is applied through the file's state transition, which
// makes repeated deltas for the same path idempotent. Counts never leave
// the [0, total] range; a delta that would overshoot is clamped, never an
// error. A positive total reported by the server is required before
// clamping against total kicks in; until then only the zero floor applies.
func (c *Cache) ApplyDelta(repoID int64, path string, delta int) {
	c.mu.Lock()
	e := c.ensure(repoID)
	if !e.hasCounters {
		e.hasCounters = true
		e.counters = Counters{}
	}

	apply := delta
	if e.filesLoaded && path != "" {
		if i := findFile(e.files, path); i >= 0 {
			apply = 0
			if delta > 0 && e.files[i].State != StateIndexed {
				e.files[i].State = StateIndexed
				apply = delta
			} else if delta < 0 && e.files[i].State == StateIndexed {
				e.files[i].State = StateNotIndexed
				apply = delta
			}
		}
	}

	e.counters.Indexed += apply
	if e.counters.Indexed < 0 {
		e.counters.Indexed = 0
	}
	if e.totalKnown && e.counters.Indexed > e.counters.Total {
		e.counters.Indexed = e.counters.Total
	}
	if !e.totalKnown && e.counters.Indexed > e.counters.Total {
		// Placeholder total grows with progress until a summary lands.
		e.counters.Total = e.counters.Indexed
	}
	c.mu.Unlock()
	c.notify(repoID)
}

// ClearIndexed resets the indexed count of repoID to zero and flips every
// loaded file to not-indexed, preserving the known total. This is the
// optimistic local effect of a confirmed server-side index reset.
func (c *Cache) ClearIndexed(repoID int64) {
	c.mu.Lock()
	e := c.ensure(repoID)
	if e.hasCounters {
		e.counters.Indexed = 0
	}
	for i := range e.files {
		e.files[i].State = StateNotIndexed
	}
	c.mu.Unlock()
	c.notify(repoID)
}

// Subscribe returns a channel that receives the repository ID of every
// entry that changes, plus a cancel function that must be called to stop
// delivery. Notifications are dropped rather than blocking a mutation if
// the subscriber falls behind.
func (c *Cache) Subscribe() (<-chan int64, func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan int64, 64)
	c.subs[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Cache) notify(repoID int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- repoID:
		default:
		}
	}
}

func findFile(files []FileStatus, path string) int {
	for i := range files {
		if files[i].Path == path {
			return i
		}
	}
	return -1
}
