package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Kartavya904/brainsync/brain"
	"github.com/Kartavya904/brainsync/engine"
	"github.com/Kartavya904/brainsync/status"
)

var indexCmd = &cobra.Command{
	Use:   "index <repository>",
	Short: "Run an indexing batch with live progress",
	Long: `Asks the brain service to index up to --limit not-yet-indexed files of
the repository and follows the run live. Per-file results stream in as
the backend pipeline processes them; when the run completes, the local
view is reconciled against the server.

With --batch the run executes synchronously on the server without
streaming, which suits scripts and cron jobs.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

var (
	indexLimit int
	indexBatch bool
	indexPlain bool
)

func init() {
	indexCmd.Flags().IntVarP(&indexLimit, "limit", "l", 0, "max files per run, 1-1000 (0 = configured default)")
	indexCmd.Flags().BoolVar(&indexBatch, "batch", false, "run synchronously without streaming")
	indexCmd.Flags().BoolVar(&indexPlain, "plain", false, "line-based progress output instead of the interactive UI")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, client, err := newEngine(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	repo, err := resolveRepo(ctx, client, args[0])
	if err != nil {
		return err
	}
	eng.Cache().Track(repo)

	if indexBatch {
		counts, err := eng.IndexBatch(ctx, repo.ID, indexLimit)
		if err != nil {
			if errors.Is(err, engine.ErrBusy) {
				return fmt.Errorf("%s: %w", repo.FullName(), err)
			}
			return err
		}
		fmt.Printf("Indexed %s: %d written, %d considered, %d errors\n",
			repo.FullName(), counts.FilesWritten, counts.Considered, counts.Errors)
		printEntry(eng, repo.ID)
		return nil
	}

	// Know the total up front so progress has a denominator.
	if counts, err := client.FileSummary(ctx, repo.ID); err == nil {
		eng.Cache().MergeCounters(repo.ID, counts)
	}

	events := make(chan brain.Event, 64)
	done, err := eng.StartIndex(ctx, repo.ID, indexLimit, func(ev brain.Event) {
		events <- ev
	})
	if err != nil {
		if errors.Is(err, engine.ErrBusy) {
			return fmt.Errorf("%s: %w", repo.FullName(), err)
		}
		return err
	}
	go func() {
		<-done
		close(events)
	}()

	entry, _ := eng.Cache().Get(repo.ID)
	if indexPlain || !isatty.IsTerminal(os.Stdout.Fd()) {
		runIndexPlain(repo, events)
	} else if err := runIndexUI(repo, entry, events); err != nil {
		return err
	}
	// The UI may have been quit mid-run; keep the consumer drained so the
	// run can finish and release its lock.
	go func() {
		for range events {
		}
	}()
	<-done

	printEntry(eng, repo.ID)
	return nil
}

func runIndexPlain(repo status.Repository, events <-chan brain.Event) {
	for ev := range events {
		switch ev.Kind {
		case brain.EventStart:
			fmt.Printf("Indexing %s...\n", repo.FullName())
		case brain.EventFile:
			if ev.OK {
				fmt.Printf("  %s %s\n", okStyle.Render("✓"), ev.Path)
			} else {
				fmt.Printf("  %s %s (%s)\n", errStyle.Render("✗"), ev.Path, ev.Reason)
			}
		case brain.EventDone:
			fmt.Println("Run complete.")
		}
	}
}

func printEntry(eng *engine.Engine, repoID int64) {
	entry, ok := eng.Cache().Get(repoID)
	if !ok || entry.Counters == nil {
		return
	}
	fmt.Printf("%s: %d/%d files indexed (%s)\n",
		entry.Repo.FullName(), entry.Counters.Indexed, entry.Counters.Total, progressLabel(*entry.Counters))
}
