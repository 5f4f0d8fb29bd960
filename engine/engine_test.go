package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Kartavya904/brainsync/brain"
	"github.com/Kartavya904/brainsync/status"
)

// fakeBrain is a scripted stand-in for the brain service. Repositories,
// counts, and file lists are mutable between calls so tests can model the
// server moving underneath the engine.
type fakeBrain struct {
	mu       sync.Mutex
	repos    []status.Repository
	counts   map[int64]status.Counters
	files    map[int64][]status.FileStatus
	stream   map[int64][]string // raw SSE frames per repository
	failList bool
	deleted  map[int64]bool
	failDel  map[int64]bool

	summaryCalls map[int64]int
}

func newFakeBrain() *fakeBrain {
	return &fakeBrain{
		counts:       make(map[int64]status.Counters),
		files:        make(map[int64][]status.FileStatus),
		stream:       make(map[int64][]string),
		deleted:      make(map[int64]bool),
		failDel:      make(map[int64]bool),
		summaryCalls: make(map[int64]int),
	}
}

var (
	summaryRe = regexp.MustCompile(`^/repos/(\d+)/files/summary$`)
	filesRe   = regexp.MustCompile(`^/repos/(\d+)/files$`)
	indexRe   = regexp.MustCompile(`^/repos/(\d+)/index$`)
	streamRe  = regexp.MustCompile(`^/repos/(\d+)/index/stream$`)
)

func (f *fakeBrain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/repos":
		if f.failList {
			http.Error(w, `{"detail": "backend down"}`, http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(f.repos)

	case summaryRe.MatchString(r.URL.Path):
		id := pathID(summaryRe, r.URL.Path)
		f.summaryCalls[id]++
		json.NewEncoder(w).Encode(map[string]any{
			"repo":   status.Repository{ID: id},
			"counts": f.counts[id],
		})

	case filesRe.MatchString(r.URL.Path):
		id := pathID(filesRe, r.URL.Path)
		json.NewEncoder(w).Encode(brain.Detail{
			Repo:  status.Repository{ID: id},
			Files: f.files[id],
		})

	case streamRe.MatchString(r.URL.Path):
		id := pathID(streamRe, r.URL.Path)
		frames := f.stream[id]
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		}
		f.mu.Lock()

	case indexRe.MatchString(r.URL.Path) && r.Method == http.MethodDelete:
		id := pathID(indexRe, r.URL.Path)
		if f.failDel[id] {
			http.Error(w, `{"detail": "delete failed"}`, http.StatusInternalServerError)
			return
		}
		f.deleted[id] = true
		json.NewEncoder(w).Encode(map[string]any{"ok": true})

	case indexRe.MatchString(r.URL.Path) && r.Method == http.MethodPost:
		id := pathID(indexRe, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"repo":   status.Repository{ID: id},
			"counts": brain.BatchCounts{Considered: 2, FilesWritten: 2},
		})

	default:
		http.NotFound(w, r)
	}
}

func pathID(re *regexp.Regexp, path string) int64 {
	m := re.FindStringSubmatch(path)
	id, _ := strconv.ParseInt(m[1], 10, 64)
	return id
}

func sseFrame(event, data string) string {
	if data == "" {
		return fmt.Sprintf("event: %s\n\n", event)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

func newTestEngine(t *testing.T, f *fakeBrain, opts ...Option) *Engine {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	client, err := brain.NewClient(brain.WithEndpoint(srv.URL), brain.WithToken("t"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	opts = append([]Option{WithLogger(t.Logf)}, opts...)
	return New(client, status.NewCache(), opts...)
}

// waitForCounters blocks until the cache entry for repoID carries the
// wanted counters, using the cache subscription.
func waitForCounters(t *testing.T, c *status.Cache, repoID int64, want status.Counters) {
	t.Helper()
	ch, cancel := c.Subscribe()
	defer cancel()
	deadline := time.After(5 * time.Second)
	for {
		if entry, ok := c.Get(repoID); ok && entry.Counters != nil && *entry.Counters == want {
			return
		}
		select {
		case <-ch:
		case <-deadline:
			entry, _ := c.Get(repoID)
			t.Fatalf("timed out waiting for counters %+v, have %+v", want, entry.Counters)
		}
	}
}

func TestLoadAllPopulatesCache(t *testing.T) {
	f := newFakeBrain()
	f.repos = []status.Repository{
		{ID: 1, Owner: "acme", Name: "api"},
		{ID: 2, Owner: "acme", Name: "web"},
	}
	f.counts[1] = status.Counters{Total: 10, Indexed: 3}
	f.counts[2] = status.Counters{Total: 5, Indexed: 5}
	f.files[1] = []status.FileStatus{{Path: "a.go", State: status.StateIndexed}}

	e := newTestEngine(t, f)
	repos, err := e.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(repos) != 2 {
		t.Fatalf("got %d repositories, want 2", len(repos))
	}

	waitForCounters(t, e.Cache(), 1, status.Counters{Total: 10, Indexed: 3})
	waitForCounters(t, e.Cache(), 2, status.Counters{Total: 5, Indexed: 5})

	// Repo 1 is within the eager prefetch window, so its file list lands too.
	deadline := time.After(5 * time.Second)
	ch, cancel := e.Cache().Subscribe()
	defer cancel()
	for {
		if entry, _ := e.Cache().Get(1); len(entry.Files) == 1 {
			break
		}
		select {
		case <-ch:
		case <-deadline:
			t.Fatal("timed out waiting for eager file detail")
		}
	}
}

func TestLoadAllListFailure(t *testing.T) {
	f := newFakeBrain()
	f.failList = true
	e := newTestEngine(t, f)

	if _, err := e.LoadAll(context.Background()); err == nil {
		t.Fatal("expected error when listing fails")
	}
	if repos := e.Cache().Repositories(); len(repos) != 0 {
		t.Errorf("cache must stay empty on list failure, has %d entries", len(repos))
	}
}

func TestStartIndexStreamsAndReconciles(t *testing.T) {
	f := newFakeBrain()
	f.repos = []status.Repository{{ID: 1, Owner: "acme", Name: "api"}}
	f.counts[1] = status.Counters{Total: 3, Indexed: 3}
	f.files[1] = []status.FileStatus{
		{Path: "a.go", State: status.StateIndexed},
		{Path: "b.go", State: status.StateIndexed},
		{Path: "c.bin", State: status.StateNotIndexed},
	}
	f.stream[1] = []string{
		sseFrame("start", `{}`),
		sseFrame("file-written", `{"path": "a.go"}`),
		sseFrame("file-written", `{"path": "b.go"}`),
		sseFrame("file-skip", `{"path": "c.bin", "reason": "binary"}`),
		sseFrame("done", `{}`),
	}

	e := newTestEngine(t, f)
	e.Cache().Track(f.repos[0])

	var events []brain.Event
	done, err := e.StartIndex(context.Background(), 1, 10, func(ev brain.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("StartIndex failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run to finish")
	}

	if len(events) != 5 {
		t.Errorf("observed %d events, want 5", len(events))
	}
	entry, _ := e.Cache().Get(1)
	if entry.Counters == nil || *entry.Counters != (status.Counters{Total: 3, Indexed: 3}) {
		t.Errorf("counters = %+v, want reconciled {3 3}", entry.Counters)
	}
	if len(entry.Files) != 3 {
		t.Errorf("files = %d, want reconciled list of 3", len(entry.Files))
	}
	if _, busy := e.ActiveOperation(1); busy {
		t.Error("lock must be released after the run")
	}
}

func TestStartIndexBusy(t *testing.T) {
	f := newFakeBrain()
	f.stream[1] = []string{sseFrame("start", `{}`), sseFrame("done", `{}`)}
	e := newTestEngine(t, f)

	if !e.locks.tryAcquire(1, OpReset) {
		t.Fatal("setup acquire failed")
	}
	if _, err := e.StartIndex(context.Background(), 1, 0, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	if err := e.Reset(context.Background(), 1); !errors.Is(err, ErrBusy) {
		t.Errorf("Reset err = %v, want ErrBusy", err)
	}
	if _, err := e.IndexBatch(context.Background(), 1, 0); !errors.Is(err, ErrBusy) {
		t.Errorf("IndexBatch err = %v, want ErrBusy", err)
	}
	e.locks.release(1, OpReset)
}

func TestStartIndexBrokenStreamKeepsPartialProgress(t *testing.T) {
	f := newFakeBrain()
	f.counts[1] = status.Counters{Total: 5, Indexed: 0}
	f.stream[1] = []string{
		sseFrame("start", `{}`),
		sseFrame("file-written", `{"path": "a.go"}`),
		// Connection drops here, no done event.
	}

	e := newTestEngine(t, f)
	e.Cache().MergeCounters(1, status.Counters{Total: 5, Indexed: 0})

	done, err := e.StartIndex(context.Background(), 1, 0, nil)
	if err != nil {
		t.Fatalf("StartIndex failed: %v", err)
	}
	<-done

	entry, _ := e.Cache().Get(1)
	if entry.Counters.Indexed != 1 {
		t.Errorf("indexed = %d, want partial progress kept", entry.Counters.Indexed)
	}
	if _, busy := e.ActiveOperation(1); busy {
		t.Error("lock must be released after a broken stream")
	}

	// No reconcile happened: the summary endpoint was never re-read.
	f.mu.Lock()
	calls := f.summaryCalls[1]
	f.mu.Unlock()
	if calls != 0 {
		t.Errorf("summary read %d times after broken stream, want 0", calls)
	}
}

func TestIndexBatchReconciles(t *testing.T) {
	f := newFakeBrain()
	f.counts[1] = status.Counters{Total: 2, Indexed: 2}
	f.files[1] = []status.FileStatus{
		{Path: "a.go", State: status.StateIndexed},
		{Path: "b.go", State: status.StateIndexed},
	}
	e := newTestEngine(t, f)

	counts, err := e.IndexBatch(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("IndexBatch failed: %v", err)
	}
	if counts.FilesWritten != 2 {
		t.Errorf("files_written = %d, want 2", counts.FilesWritten)
	}
	entry, _ := e.Cache().Get(1)
	if entry.Counters == nil || entry.Counters.Indexed != 2 {
		t.Errorf("entry = %+v, want reconciled counters", entry)
	}
}

func TestResetOptimisticEffect(t *testing.T) {
	f := newFakeBrain()
	f.counts[1] = status.Counters{Total: 4, Indexed: 0}
	e := newTestEngine(t, f)
	e.Cache().MergeCounters(1, status.Counters{Total: 4, Indexed: 3})
	e.Cache().MergeFiles(1, []status.FileStatus{{Path: "a.go", State: status.StateIndexed}})

	if err := e.Reset(context.Background(), 1); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if !f.deleted[1] {
		t.Error("expected server-side delete")
	}
	entry, _ := e.Cache().Get(1)
	if entry.Counters.Indexed != 0 || entry.Counters.Total != 4 {
		t.Errorf("counters = %+v, want {4 0}", *entry.Counters)
	}
	if entry.Files[0].State != status.StateNotIndexed {
		t.Error("files must flip to not-indexed on reset")
	}
}

func TestResetFailClosed(t *testing.T) {
	f := newFakeBrain()
	f.failDel[1] = true
	e := newTestEngine(t, f)
	e.Cache().MergeCounters(1, status.Counters{Total: 4, Indexed: 3})

	if err := e.Reset(context.Background(), 1); err == nil {
		t.Fatal("expected error when delete fails")
	}
	entry, _ := e.Cache().Get(1)
	if entry.Counters.Indexed != 3 {
		t.Errorf("indexed = %d, cache must be untouched on failed delete", entry.Counters.Indexed)
	}
	if _, busy := e.ActiveOperation(1); busy {
		t.Error("lock must be released after a failed reset")
	}
}

func TestResetFetchesSummaryWhenTotalUnknown(t *testing.T) {
	f := newFakeBrain()
	f.counts[1] = status.Counters{Total: 7, Indexed: 0}
	e := newTestEngine(t, f)
	e.Cache().ApplyDelta(1, "a.go", +1) // progress without an authoritative total

	if err := e.Reset(context.Background(), 1); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	entry, _ := e.Cache().Get(1)
	if !entry.TotalKnown || entry.Counters.Total != 7 {
		t.Errorf("entry = %+v, want authoritative total 7 after reset", entry)
	}
}

func TestOperationsOnDifferentReposDoNotContend(t *testing.T) {
	f := newFakeBrain()
	f.stream[2] = []string{sseFrame("start", `{}`), sseFrame("done", `{}`)}
	e := newTestEngine(t, f)

	if !e.locks.tryAcquire(1, OpIndex) {
		t.Fatal("setup acquire failed")
	}
	defer e.locks.release(1, OpIndex)

	done, err := e.StartIndex(context.Background(), 2, 0, nil)
	if err != nil {
		t.Fatalf("StartIndex on free repository failed: %v", err)
	}
	<-done
}
