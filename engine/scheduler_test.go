package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Kartavya904/brainsync/brain"
	"github.com/Kartavya904/brainsync/status"
)

func TestRefreshMergesSummaries(t *testing.T) {
	f := newFakeBrain()
	f.counts[1] = status.Counters{Total: 10, Indexed: 6}
	f.counts[2] = status.Counters{Total: 4, Indexed: 1}
	e := newTestEngine(t, f)
	e.Cache().Track(status.Repository{ID: 1, Owner: "acme", Name: "api"})
	e.Cache().Track(status.Repository{ID: 2, Owner: "acme", Name: "web"})

	if !e.Refresh(context.Background()) {
		t.Fatal("expected refresh cycle to run")
	}
	entry, _ := e.Cache().Get(1)
	if entry.Counters == nil || entry.Counters.Indexed != 6 {
		t.Errorf("repo 1 = %+v, want indexed 6", entry.Counters)
	}
	entry, _ = e.Cache().Get(2)
	if entry.Counters == nil || entry.Counters.Total != 4 {
		t.Errorf("repo 2 = %+v, want total 4", entry.Counters)
	}
}

func TestRefreshReentrancyGuard(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		<-block
		json.NewEncoder(w).Encode(map[string]any{
			"repo":   status.Repository{ID: 1},
			"counts": status.Counters{Total: 1, Indexed: 1},
		})
	}))
	defer srv.Close()
	client, err := brain.NewClient(brain.WithEndpoint(srv.URL), brain.WithToken("t"))
	if err != nil {
		t.Fatal(err)
	}
	e := New(client, status.NewCache(), WithLogger(t.Logf))
	e.Cache().Track(status.Repository{ID: 1, Owner: "acme", Name: "api"})

	first := make(chan bool)
	go func() { first <- e.Refresh(context.Background()) }()

	<-entered
	if e.Refresh(context.Background()) {
		t.Error("overlapping refresh must be a no-op")
	}
	close(block)

	select {
	case ran := <-first:
		if !ran {
			t.Error("first refresh must report having run")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first refresh")
	}
}

func TestRunSchedulerCancels(t *testing.T) {
	f := newFakeBrain()
	e := newTestEngine(t, f, WithRefreshInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		e.RunScheduler(ctx)
		close(stopped)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
}

func TestRunSchedulerTicks(t *testing.T) {
	f := newFakeBrain()
	f.repos = []status.Repository{{ID: 1, Owner: "acme", Name: "api"}}
	f.counts[1] = status.Counters{Total: 2, Indexed: 2}
	e := newTestEngine(t, f, WithRefreshInterval(10*time.Millisecond))
	e.Cache().Track(f.repos[0])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.RunScheduler(ctx)

	waitForCounters(t, e.Cache(), 1, status.Counters{Total: 2, Indexed: 2})
}
