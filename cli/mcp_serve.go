package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kartavya904/brainsync/mcp"
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve",
	Short: "Start the MCP server (stdio)",
	Long: `Starts a Model Context Protocol server over stdio, exposing indexing
status and indexing runs as tools for AI agents.

Add to your MCP client configuration:
  {
    "mcpServers": {
      "brainsync": {
        "command": "brainsync",
        "args": ["mcp-serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	rootCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, client, err := newEngine(cfg)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(eng, client)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return server.Serve()
}
