package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kartavya904/brainsync/status"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-pull indexing summaries for all repositories",
	Long: `Runs one refresh cycle: fetches the repository list, re-pulls the
file summary for each repository and prints the updated status table.
This is the same cycle the watch command runs on a timer.`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

var (
	refreshJSON bool
	refreshTOON bool
)

func init() {
	refreshCmd.Flags().BoolVar(&refreshJSON, "json", false, "output as JSON")
	refreshCmd.Flags().BoolVar(&refreshTOON, "toon", false, "output as TOON (token-efficient, for LLM consumption)")
	refreshCmd.MarkFlagsMutuallyExclusive("json", "toon")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, client, err := newEngine(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	repos, err := client.ListRepositories(ctx)
	if err != nil {
		return fmt.Errorf("failed to list repositories: %w", err)
	}
	for _, repo := range repos {
		eng.Cache().Track(repo)
	}

	if !eng.Refresh(ctx) {
		return fmt.Errorf("a refresh cycle is already running")
	}

	entries := make([]status.Entry, 0, len(repos))
	for _, repo := range eng.Cache().Repositories() {
		entry, _ := eng.Cache().Get(repo.ID)
		entries = append(entries, entry)
	}

	if refreshJSON || refreshTOON {
		rows := make([]statusRow, len(entries))
		for i, entry := range entries {
			rows[i] = entryRow(entry)
		}
		out, err := encodeOutput(rows, outputFormat(refreshJSON, refreshTOON))
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(renderStatusTable(entries))
	return nil
}
