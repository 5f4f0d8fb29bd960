package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kartavya904/brainsync/engine"
)

var resetCmd = &cobra.Command{
	Use:   "reset <repository>",
	Short: "Delete a repository's index on the server",
	Long: `Deletes all indexed data for the repository on the brain service. The
local view drops to zero indexed files only after the server confirms
the delete. This cannot be undone; re-indexing starts from scratch.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

var resetYes bool

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
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

	if !resetYes {
		fmt.Printf("Delete the entire index of %s? This cannot be undone. [y/N]: ", repo.FullName())
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := eng.Reset(ctx, repo.ID); err != nil {
		if errors.Is(err, engine.ErrBusy) {
			return fmt.Errorf("%s: %w", repo.FullName(), err)
		}
		return err
	}
	fmt.Printf("Index of %s deleted.\n", repo.FullName())
	printEntry(eng, repo.ID)
	return nil
}
