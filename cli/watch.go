package cli

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kartavya904/brainsync/brain"
	"github.com/Kartavya904/brainsync/config"
	"github.com/Kartavya904/brainsync/engine"
	"github.com/Kartavya904/brainsync/status"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow indexing status continuously",
	Long: `Loads all repositories and keeps the view fresh: summary counts are
re-read on a fixed interval and every change is printed as it lands.
Edits to the config file (e.g. a rotated token) take effect live.

Runs until interrupted.`,
	RunE: runWatch,
}

var watchInterval time.Duration

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 0, "refresh interval (0 = configured default)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchInterval > 0 {
		cfg.Sync.RefreshIntervalSec = int(watchInterval.Seconds())
	}

	// The token is re-read from the latest config snapshot on every
	// request, so a rotation picked up by the file watcher applies
	// without rebuilding the client.
	var current atomic.Pointer[config.Config]
	current.Store(cfg)
	client, err := brain.NewClient(
		brain.WithEndpoint(cfg.ResolveEndpoint()),
		brain.WithTokenSource(func() string { return current.Load().ResolveToken() }),
		brain.WithRequestTimeout(cfg.RequestTimeout()),
		brain.WithStreamIdleTimeout(cfg.StreamIdleTimeout()),
	)
	if err != nil {
		return err
	}
	eng := engine.New(client, status.NewCache(),
		engine.WithEagerPrefetch(cfg.Sync.EagerPrefetch),
		engine.WithRefreshInterval(cfg.RefreshInterval()),
		engine.WithIndexLimit(cfg.Sync.IndexLimit),
	)
	ctx := cmd.Context()

	updates, err := config.Watch(ctx, flagConfig)
	if err != nil {
		log.Printf("Warning: config watching disabled: %v", err)
	} else {
		go func() {
			for fresh := range updates {
				current.Store(fresh)
				log.Printf("Config reloaded")
			}
		}()
	}

	repos, err := eng.LoadAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Watching %d repositories (refresh every %s). Ctrl+C to stop.\n",
		len(repos), cfg.RefreshInterval())

	go eng.RunScheduler(ctx)

	changes, cancel := eng.Cache().Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case repoID, ok := <-changes:
			if !ok {
				return nil
			}
			entry, ok := eng.Cache().Get(repoID)
			if !ok || entry.Counters == nil {
				continue
			}
			fmt.Printf("[%s] %-36s %d/%d (%s)\n",
				time.Now().Format("15:04:05"), entry.Repo.FullName(),
				entry.Counters.Indexed, entry.Counters.Total, progressLabel(*entry.Counters))
		}
	}
}
