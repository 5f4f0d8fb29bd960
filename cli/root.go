// Package cli implements the brainsync command line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kartavya904/brainsync/brain"
	"github.com/Kartavya904/brainsync/config"
	"github.com/Kartavya904/brainsync/engine"
	"github.com/Kartavya904/brainsync/status"
)

var (
	flagConfig   string
	flagEndpoint string
)

var rootCmd = &cobra.Command{
	Use:   "brainsync",
	Short: "Keep a local view of brain indexing status in sync",
	Long: `brainsync mirrors the indexing status of your repositories from the
brain service: which files are indexed, which are not, and live progress
while an indexing run streams.

Credentials come from the config file (brainsync init) or the BRAIN_TOKEN
environment variable.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "brain service endpoint (overrides config)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagEndpoint != "" {
		cfg.Server.Endpoint = flagEndpoint
	}
	return cfg, nil
}

func newClient(cfg *config.Config) (*brain.Client, error) {
	return brain.NewClient(
		brain.WithEndpoint(cfg.ResolveEndpoint()),
		brain.WithToken(cfg.ResolveToken()),
		brain.WithRequestTimeout(cfg.RequestTimeout()),
		brain.WithStreamIdleTimeout(cfg.StreamIdleTimeout()),
	)
}

func newEngine(cfg *config.Config) (*engine.Engine, *brain.Client, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	eng := engine.New(client, status.NewCache(),
		engine.WithEagerPrefetch(cfg.Sync.EagerPrefetch),
		engine.WithRefreshInterval(cfg.RefreshInterval()),
		engine.WithIndexLimit(cfg.Sync.IndexLimit),
	)
	return eng, client, nil
}

// resolveRepo turns a CLI argument (numeric ID or owner/name) into a
// tracked repository.
func resolveRepo(ctx context.Context, client *brain.Client, arg string) (status.Repository, error) {
	repos, err := client.ListRepositories(ctx)
	if err != nil {
		return status.Repository{}, err
	}
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		for _, r := range repos {
			if r.ID == id {
				return r, nil
			}
		}
		return status.Repository{}, fmt.Errorf("no repository with ID %d", id)
	}
	for _, r := range repos {
		if strings.EqualFold(r.FullName(), arg) {
			return r, nil
		}
	}
	return status.Repository{}, fmt.Errorf("no repository named %q (try 'brainsync repos')", arg)
}
