package brain

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// EventKind classifies normalized index stream events.
type EventKind int

const (
	// EventStart is emitted once when the server begins the run.
	EventStart EventKind = iota
	// EventFile reports the outcome for a single file.
	EventFile
	// EventDone is emitted once when the run completed normally.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventFile:
		return "file"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one normalized progress event from an index stream. The server
// emits a richer vocabulary (file-start, file-chunked, file-embedded,
// progress); only terminal per-file outcomes and run boundaries are
// surfaced, everything else is folded away.
type Event struct {
	Kind EventKind
	Path string
	OK   bool
	// Reason carries the skip reason or error message for failed files.
	Reason string
}

var (
	// ErrStreamStalled reports that the stream produced no bytes for
	// longer than the configured idle timeout.
	ErrStreamStalled = errors.New("index stream stalled")
	// ErrStreamClosed reports that the consumer closed the stream before
	// the server finished.
	ErrStreamClosed = errors.New("index stream closed by consumer")
)

// IndexStream is a live server-sent-events connection reporting indexing
// progress for one repository. Consume Events until it is closed, then
// inspect Err: a nil Err means the run ended with a done event, anything
// else means the stream broke mid-run.
type IndexStream struct {
	events chan Event
	cancel context.CancelFunc

	closeOnce sync.Once

	mu   sync.Mutex
	err  error
	done bool
}

// Events returns the event channel. It is closed when the stream ends for
// any reason.
func (s *IndexStream) Events() <-chan Event {
	return s.events
}

// Err returns why the stream ended, or nil after a normal done event. It
// is meaningful only after Events is closed.
func (s *IndexStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	return s.err
}

// Done reports whether the server signalled normal completion.
func (s *IndexStream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Close tears the connection down. Safe to call multiple times and
// concurrently with event consumption; after Close the event channel
// drains and closes, and Err reports ErrStreamClosed unless the stream
// had already finished.
func (s *IndexStream) Close() error {
	s.closeOnce.Do(func() {
		s.fail(ErrStreamClosed)
		s.cancel()
	})
	return nil
}

func (s *IndexStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil && !s.done {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *IndexStream) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

// OpenIndexStream starts an indexing run of up to limit files (clamped to
// [1, 1000], 0 means the server default) and returns the live progress
// stream. The connection carries no overall deadline; instead an idle
// timer tears it down if the server stays silent longer than the
// configured stream idle timeout.
func (c *Client) OpenIndexStream(ctx context.Context, repoID int64, limit int) (*IndexStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	path := fmt.Sprintf("/repos/%d/index/stream?limit=%d", repoID, clampLimit(limit))
	req, err := c.newRequest(streamCtx, http.MethodGet, path, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// Unary timeout would kill a healthy long stream.
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open index stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := decodeError(resp)
		resp.Body.Close()
		cancel()
		return nil, err
	}

	s := &IndexStream{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go s.consume(streamCtx, resp.Body, c.idleTimeout)
	return s, nil
}

type streamPayload struct {
	Path    string `json:"path"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (s *IndexStream) consume(ctx context.Context, body io.ReadCloser, idle time.Duration) {
	defer close(s.events)
	defer body.Close()

	// The idle timer fires when no bytes arrive for a full idle window;
	// cancelling the context unblocks the pending read.
	watchdog := time.AfterFunc(idle, func() {
		s.fail(ErrStreamStalled)
		s.cancel()
	})
	defer watchdog.Stop()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName, data string
	for scanner.Scan() {
		watchdog.Reset(idle)
		line := scanner.Text()
		switch {
		case line == "":
			if ev, ok := normalizeEvent(eventName, data); ok {
				select {
				case s.events <- ev:
				case <-ctx.Done():
					s.fail(ctx.Err())
					return
				}
			}
			if eventName == "done" {
				s.finish()
				return
			}
			eventName, data = "", ""
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, ":"):
			// Comment line, used by servers as keep-alive. Resets the
			// watchdog like any other traffic.
		}
	}

	if err := scanner.Err(); err != nil {
		s.fail(fmt.Errorf("index stream read failed: %w", err))
	} else {
		s.fail(io.ErrUnexpectedEOF)
	}
}

// normalizeEvent folds the server's event vocabulary into the three kinds
// consumers act on. file-written means the file is durably indexed;
// file-skip and per-file error both mean the file did not land.
func normalizeEvent(name, data string) (Event, bool) {
	var p streamPayload
	if data != "" {
		// Malformed payloads degrade to an event without a path.
		_ = json.Unmarshal([]byte(data), &p)
	}
	switch name {
	case "start":
		return Event{Kind: EventStart}, true
	case "done":
		return Event{Kind: EventDone}, true
	case "file-written":
		return Event{Kind: EventFile, Path: p.Path, OK: true}, true
	case "file-skip":
		return Event{Kind: EventFile, Path: p.Path, OK: false, Reason: p.Reason}, true
	case "error":
		if p.Path == "" {
			return Event{}, false
		}
		return Event{Kind: EventFile, Path: p.Path, OK: false, Reason: p.Message}, true
	default:
		// file-start, file-chunked, file-embedded, progress: informational.
		return Event{}, false
	}
}
