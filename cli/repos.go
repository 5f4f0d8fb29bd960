package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories known to the brain service",
	RunE:  runRepos,
}

var (
	reposJSON bool
	reposTOON bool
)

func init() {
	reposCmd.Flags().BoolVar(&reposJSON, "json", false, "output as JSON")
	reposCmd.Flags().BoolVar(&reposTOON, "toon", false, "output as TOON (token-efficient, for LLM consumption)")
	reposCmd.MarkFlagsMutuallyExclusive("json", "toon")
	rootCmd.AddCommand(reposCmd)
}

func runRepos(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	repos, err := client.ListRepositories(cmd.Context())
	if err != nil {
		return err
	}

	if reposJSON || reposTOON {
		format := "json"
		if reposTOON {
			format = "toon"
		}
		out, err := encodeOutput(repos, format)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	if len(repos) == 0 {
		fmt.Println("No repositories registered.")
		return nil
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-12s %-36s %s", "ID", "REPOSITORY", "BRANCH")))
	for _, r := range repos {
		fmt.Printf("%-12d %-36s %s\n", r.ID, r.FullName(), r.DefaultBranch)
	}
	return nil
}
