package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kartavya904/brainsync/brain"
	"github.com/Kartavya904/brainsync/engine"
	"github.com/Kartavya904/brainsync/status"
)

var statusCmd = &cobra.Command{
	Use:   "status [repository]",
	Short: "Show indexing status for all repositories or one",
	Long: `Shows how many files of each repository are indexed. With a repository
argument (owner/name or numeric ID) and --files, lists the per-file
indexing state as well.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	statusFiles bool
	statusJSON  bool
	statusTOON  bool
)

func init() {
	statusCmd.Flags().BoolVar(&statusFiles, "files", false, "list per-file states (single repository only)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	statusCmd.Flags().BoolVar(&statusTOON, "toon", false, "output as TOON (token-efficient, for LLM consumption)")
	statusCmd.MarkFlagsMutuallyExclusive("json", "toon")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, client, err := newEngine(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if len(args) == 1 {
		return statusForRepo(ctx, eng, client, args[0])
	}

	repos, err := eng.LoadAll(ctx)
	if err != nil {
		return err
	}
	waitForSummaries(ctx, eng, repos, 15*time.Second)

	entries := make([]status.Entry, 0, len(repos))
	for _, repo := range eng.Cache().Repositories() {
		entry, _ := eng.Cache().Get(repo.ID)
		entries = append(entries, entry)
	}

	if statusJSON || statusTOON {
		rows := make([]statusRow, len(entries))
		for i, entry := range entries {
			rows[i] = entryRow(entry)
		}
		out, err := encodeOutput(rows, outputFormat(statusJSON, statusTOON))
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(renderStatusTable(entries))
	return nil
}

func statusForRepo(ctx context.Context, eng *engine.Engine, client *brain.Client, arg string) error {
	repo, err := resolveRepo(ctx, client, arg)
	if err != nil {
		return err
	}
	eng.Cache().Track(repo)

	entry, err := eng.LoadDetail(ctx, repo.ID)
	if err != nil {
		return err
	}

	if statusJSON || statusTOON {
		payload := struct {
			statusRow
			Files []status.FileStatus `json:"files,omitempty"`
		}{statusRow: entryRow(entry)}
		if statusFiles {
			payload.Files = entry.Files
		}
		out, err := encodeOutput(payload, outputFormat(statusJSON, statusTOON))
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	fmt.Print(renderStatusTable([]status.Entry{entry}))
	if statusFiles {
		fmt.Print(renderFileList(entry.Files))
	}
	return nil
}

func outputFormat(wantJSON, wantTOON bool) string {
	if wantTOON {
		return "toon"
	}
	if wantJSON {
		return "json"
	}
	return "table"
}

// waitForSummaries blocks until every listed repository has counters in
// the cache, or the timeout elapses. The bulk load delivers summaries
// asynchronously; one-shot commands want them before printing.
func waitForSummaries(ctx context.Context, eng *engine.Engine, repos []status.Repository, timeout time.Duration) {
	pending := make(map[int64]bool, len(repos))
	for _, r := range repos {
		pending[r.ID] = true
	}
	prune := func() {
		for id := range pending {
			if entry, ok := eng.Cache().Get(id); ok && entry.Counters != nil {
				delete(pending, id)
			}
		}
	}

	ch, cancel := eng.Cache().Subscribe()
	defer cancel()
	prune()
	deadline := time.After(timeout)
	for len(pending) > 0 {
		select {
		case <-ch:
			prune()
		case <-deadline:
			return
		case <-ctx.Done():
			return
		}
	}
}
