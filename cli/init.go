package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kartavya904/brainsync/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the brainsync configuration file",
	Long: `Creates the configuration file with the brain service endpoint and API
token. The token can also be supplied at runtime via BRAIN_TOKEN, in
which case it does not need to be persisted.`,
	RunE: runInit,
}

var (
	initEndpoint string
	initToken    string
	initForce    bool
)

func init() {
	initCmd.Flags().StringVar(&initEndpoint, "server", "", "brain service endpoint")
	initCmd.Flags().StringVar(&initToken, "token", "", "API token to persist (omit to rely on BRAIN_TOKEN)")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := flagConfig
	if path == "" {
		var err error
		path, err = config.GetConfigPath()
		if err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		fmt.Printf("Config already exists at %s. Overwrite? [y/N]: ", path)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if initEndpoint != "" {
		cfg.Server.Endpoint = initEndpoint
	}
	cfg.Server.Token = initToken

	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", path)
	if initToken == "" && os.Getenv(config.TokenEnvVar) == "" {
		fmt.Printf("No token configured. Set %s or re-run with --token.\n", config.TokenEnvVar)
	}
	return nil
}
