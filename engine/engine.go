// Package engine keeps the local status cache consistent with the brain
// service: it drives the bulk load, consumes live index streams, guards
// mutating operations with per-repository locks, and schedules periodic
// refreshes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kartavya904/brainsync/brain"
	"github.com/Kartavya904/brainsync/status"
)

const (
	defaultEagerPrefetch   = 3
	defaultRefreshInterval = 3 * time.Minute
	summaryConcurrency     = 8
)

// ErrBusy reports that another mutating operation already holds the
// repository. The caller should surface it and not retry automatically.
var ErrBusy = errors.New("another operation is already running for this repository")

// Engine coordinates reads and mutations against one brain service.
type Engine struct {
	client *brain.Client
	cache  *status.Cache
	locks  *opLocks

	prefetch        int
	refreshInterval time.Duration
	indexLimit      int
	refreshing      chan struct{}
	logf            func(format string, args ...any)
}

// Option configures the engine.
type Option func(*Engine)

// WithEagerPrefetch sets how many repositories get their file detail
// loaded eagerly during LoadAll (default 3).
func WithEagerPrefetch(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.prefetch = n
		}
	}
}

// WithRefreshInterval sets the background refresh cadence (default 3m).
func WithRefreshInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.refreshInterval = d
		}
	}
}

// WithIndexLimit sets the default per-run file limit for StartIndex and
// IndexBatch when the caller passes 0.
func WithIndexLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.indexLimit = n
		}
	}
}

// WithLogger replaces the log function (default log.Printf).
func WithLogger(logf func(format string, args ...any)) Option {
	return func(e *Engine) {
		if logf != nil {
			e.logf = logf
		}
	}
}

// New creates an engine over the given client and cache.
func New(client *brain.Client, cache *status.Cache, opts ...Option) *Engine {
	e := &Engine{
		client:          client,
		cache:           cache,
		locks:           newOpLocks(),
		prefetch:        defaultEagerPrefetch,
		refreshInterval: defaultRefreshInterval,
		indexLimit:      brain.DefaultIndexLimit,
		refreshing:      make(chan struct{}, 1),
		logf:            log.Printf,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cache exposes the status cache backing this engine.
func (e *Engine) Cache() *status.Cache {
	return e.cache
}

// ActiveOperation reports the mutating operation currently holding the
// repository, if any.
func (e *Engine) ActiveOperation(repoID int64) (OpKind, bool) {
	return e.locks.activeKind(repoID)
}

// LoadAll lists every repository, tracks each in the cache, then fans out
// in the background: a summary read per repository, plus an eager file
// detail read for the first few. It returns as soon as the listing is in;
// summaries and details land asynchronously and are observable through
// the cache subscription. Per-repository read failures are logged and
// skipped, only the listing itself is fatal.
func (e *Engine) LoadAll(ctx context.Context) ([]status.Repository, error) {
	repos, err := e.client.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load repositories: %w", err)
	}
	for _, repo := range repos {
		e.cache.Track(repo)
	}

	go e.loadSummaries(ctx, repos)

	eager := repos
	if len(eager) > e.prefetch {
		eager = eager[:e.prefetch]
	}
	go e.loadDetails(ctx, eager)

	return repos, nil
}

func (e *Engine) loadSummaries(ctx context.Context, repos []status.Repository) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for _, repo := range repos {
		g.Go(func() error {
			counts, err := e.client.FileSummary(gctx, repo.ID)
			if err != nil {
				e.logf("Warning: summary read failed for %s: %v", repo.FullName(), err)
				return nil
			}
			e.cache.MergeCounters(repo.ID, counts)
			return nil
		})
	}
	g.Wait()
}

func (e *Engine) loadDetails(ctx context.Context, repos []status.Repository) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for _, repo := range repos {
		g.Go(func() error {
			detail, err := e.client.FileDetail(gctx, repo.ID)
			if err != nil {
				e.logf("Warning: detail read failed for %s: %v", repo.FullName(), err)
				return nil
			}
			e.cache.MergeFiles(repo.ID, detail.Files)
			return nil
		})
	}
	g.Wait()
}

// LoadDetail reads the per-file list for one repository synchronously and
// merges it into the cache.
func (e *Engine) LoadDetail(ctx context.Context, repoID int64) (status.Entry, error) {
	detail, err := e.client.FileDetail(ctx, repoID)
	if err != nil {
		return status.Entry{}, err
	}
	e.cache.Track(detail.Repo)
	e.cache.MergeFiles(repoID, detail.Files)
	entry, _ := e.cache.Get(repoID)
	return entry, nil
}

// StartIndex opens a live indexing run for the repository and consumes it
// in the background. Each file outcome updates the cache as it streams
// in; a normal done event triggers a reconciling re-read of detail and
// summary before the returned channel closes. A broken stream releases
// the lock and keeps the partial progress without reconciling; the caller
// decides whether to retry. onEvent, if non-nil, observes every
// normalized event before the cache is updated.
//
// It fails fast with ErrBusy when any operation already holds the
// repository.
func (e *Engine) StartIndex(ctx context.Context, repoID int64, limit int, onEvent func(brain.Event)) (<-chan struct{}, error) {
	if !e.locks.tryAcquire(repoID, OpIndex) {
		return nil, ErrBusy
	}
	if limit <= 0 {
		limit = e.indexLimit
	}
	stream, err := e.client.OpenIndexStream(ctx, repoID, limit)
	if err != nil {
		e.locks.release(repoID, OpIndex)
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer e.locks.release(repoID, OpIndex)
		e.consumeStream(ctx, repoID, stream, onEvent)
	}()
	return done, nil
}

func (e *Engine) consumeStream(ctx context.Context, repoID int64, stream *brain.IndexStream, onEvent func(brain.Event)) {
	for ev := range stream.Events() {
		if onEvent != nil {
			onEvent(ev)
		}
		switch ev.Kind {
		case brain.EventFile:
			if ev.OK {
				e.cache.ApplyDelta(repoID, ev.Path, +1)
			}
		}
	}

	if err := stream.Err(); err != nil {
		// Partial progress stays in the cache; the next refresh or an
		// explicit retry reconciles it.
		e.logf("Warning: index stream for repo %d ended early: %v", repoID, err)
		return
	}
	e.reconcile(ctx, repoID)
}

// reconcile re-reads detail then summary so the cache converges on server
// truth after a run.
func (e *Engine) reconcile(ctx context.Context, repoID int64) {
	if detail, err := e.client.FileDetail(ctx, repoID); err != nil {
		e.logf("Warning: reconcile detail read failed for repo %d: %v", repoID, err)
	} else {
		e.cache.MergeFiles(repoID, detail.Files)
	}
	if counts, err := e.client.FileSummary(ctx, repoID); err != nil {
		e.logf("Warning: reconcile summary read failed for repo %d: %v", repoID, err)
	} else {
		e.cache.MergeCounters(repoID, counts)
	}
}

// IndexBatch runs one synchronous indexing batch and reconciles the cache
// afterwards. Same locking discipline as StartIndex.
func (e *Engine) IndexBatch(ctx context.Context, repoID int64, limit int) (brain.BatchCounts, error) {
	if !e.locks.tryAcquire(repoID, OpIndex) {
		return brain.BatchCounts{}, ErrBusy
	}
	defer e.locks.release(repoID, OpIndex)

	if limit <= 0 {
		limit = e.indexLimit
	}
	counts, err := e.client.IndexBatch(ctx, repoID, limit)
	if err != nil {
		return brain.BatchCounts{}, err
	}
	e.reconcile(ctx, repoID)
	return counts, nil
}

// Reset deletes the repository's index on the server, then applies the
// optimistic local effect: indexed drops to zero, the total stays. The
// local effect is applied only after the server confirms the delete; a
// failed delete leaves the cache untouched. Callers are expected to have
// confirmed the action with the user.
func (e *Engine) Reset(ctx context.Context, repoID int64) error {
	if !e.locks.tryAcquire(repoID, OpReset) {
		return ErrBusy
	}
	defer e.locks.release(repoID, OpReset)

	if err := e.client.DeleteIndex(ctx, repoID); err != nil {
		return err
	}
	e.cache.ClearIndexed(repoID)

	// A repository reset before any summary landed still deserves a real
	// total; best effort, the background refresh covers failures.
	if entry, ok := e.cache.Get(repoID); !ok || !entry.TotalKnown {
		counts, err := e.client.FileSummary(ctx, repoID)
		if err != nil {
			e.logf("Warning: summary read after reset failed for repo %d: %v", repoID, err)
			return nil
		}
		e.cache.MergeCounters(repoID, counts)
	}
	return nil
}
