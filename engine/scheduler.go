package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunScheduler refreshes summary counts for every tracked repository on a
// fixed interval until ctx is cancelled. It returns promptly on
// cancellation and never fires an overlapping cycle.
func (e *Engine) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(e.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Refresh(ctx)
		}
	}
}

// Refresh re-reads the summary counts of every tracked repository and
// merges them into the cache. A call while another refresh cycle is in
// flight is a no-op, so a slow cycle never stacks behind itself. It
// reports whether a cycle actually ran.
func (e *Engine) Refresh(ctx context.Context) bool {
	select {
	case e.refreshing <- struct{}{}:
	default:
		return false
	}
	defer func() { <-e.refreshing }()

	repos := e.cache.Repositories()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for _, repo := range repos {
		g.Go(func() error {
			counts, err := e.client.FileSummary(gctx, repo.ID)
			if err != nil {
				e.logf("Warning: refresh failed for %s: %v", repo.FullName(), err)
				return nil
			}
			e.cache.MergeCounters(repo.ID, counts)
			return nil
		})
	}
	g.Wait()
	return true
}
