package brain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// sseHandler writes the given event/data pairs as a server-sent-events
// response, flushing after each event.
func sseHandler(t *testing.T, events [][2]string, delay time.Duration) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, ev := range events {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-r.Context().Done():
					return
				}
			}
			fmt.Fprintf(w, "event: %s\n", ev[0])
			if ev[1] != "" {
				fmt.Fprintf(w, "data: %s\n", ev[1])
			}
			fmt.Fprint(w, "\n")
			flusher.Flush()
		}
	})
}

func collect(t *testing.T, s *IndexStream) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out consuming stream")
		}
	}
}

func TestIndexStreamNormalizesEvents(t *testing.T) {
	c, _ := newTestClient(t, sseHandler(t, [][2]string{
		{"start", `{"repo": "acme/api", "limit": 3}`},
		{"file-start", `{"path": "a.go"}`},
		{"file-chunked", `{"path": "a.go", "chunks": 4}`},
		{"file-embedded", `{"path": "a.go"}`},
		{"file-written", `{"path": "a.go"}`},
		{"file-skip", `{"path": "b.bin", "reason": "binary"}`},
		{"progress", `{"done": 2, "total": 3}`},
		{"error", `{"path": "c.go", "message": "embed failed"}`},
		{"done", `{"indexed": 1}`},
	}, 0))

	s, err := c.OpenIndexStream(context.Background(), 42, 3)
	if err != nil {
		t.Fatalf("OpenIndexStream failed: %v", err)
	}
	got := collect(t, s)

	want := []Event{
		{Kind: EventStart},
		{Kind: EventFile, Path: "a.go", OK: true},
		{Kind: EventFile, Path: "b.bin", OK: false, Reason: "binary"},
		{Kind: EventFile, Path: "c.go", OK: false, Reason: "embed failed"},
		{Kind: EventDone},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v after done, want nil", err)
	}
	if !s.Done() {
		t.Error("expected Done after done event")
	}
}

func TestIndexStreamBrokenConnection(t *testing.T) {
	c, _ := newTestClient(t, sseHandler(t, [][2]string{
		{"start", ""},
		{"file-written", `{"path": "a.go"}`},
		// No done: server drops the connection here.
	}, 0))

	s, err := c.OpenIndexStream(context.Background(), 42, 0)
	if err != nil {
		t.Fatalf("OpenIndexStream failed: %v", err)
	}
	got := collect(t, s)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if s.Err() == nil {
		t.Error("expected error for stream ending without done")
	}
	if s.Done() {
		t.Error("Done must be false without a done event")
	}
}

func TestIndexStreamIdleTimeout(t *testing.T) {
	c, _ := newTestClient(t, sseHandler(t, [][2]string{
		{"start", ""},
		{"file-written", `{"path": "a.go"}`}, // arrives after the idle window
	}, 300*time.Millisecond))
	c.idleTimeout = 100 * time.Millisecond

	s, err := c.OpenIndexStream(context.Background(), 42, 0)
	if err != nil {
		t.Fatalf("OpenIndexStream failed: %v", err)
	}
	collect(t, s)
	if !errors.Is(s.Err(), ErrStreamStalled) {
		t.Errorf("Err = %v, want ErrStreamStalled", s.Err())
	}
}

func TestIndexStreamClose(t *testing.T) {
	c, _ := newTestClient(t, sseHandler(t, [][2]string{
		{"start", ""},
		{"file-written", `{"path": "a.go"}`},
		{"file-written", `{"path": "b.go"}`},
	}, 100*time.Millisecond))

	s, err := c.OpenIndexStream(context.Background(), 42, 0)
	if err != nil {
		t.Fatalf("OpenIndexStream failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	collect(t, s)
	if !errors.Is(s.Err(), ErrStreamClosed) {
		t.Errorf("Err = %v, want ErrStreamClosed", s.Err())
	}
}

func TestIndexStreamRejectedRequest(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "invalid token"}`, http.StatusUnauthorized)
	}))

	if _, err := c.OpenIndexStream(context.Background(), 42, 0); err == nil {
		t.Fatal("expected error for rejected stream request")
	}
}

func TestIndexStreamLimitClamped(t *testing.T) {
	var gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
	}))
	defer srv.Close()
	c, err := NewClient(WithEndpoint(srv.URL), WithToken("t"))
	if err != nil {
		t.Fatal(err)
	}

	s, err := c.OpenIndexStream(context.Background(), 1, -5)
	if err != nil {
		t.Fatal(err)
	}
	collect(t, s)
	if gotLimit != "50" {
		t.Errorf("limit = %q, want default 50", gotLimit)
	}
}
