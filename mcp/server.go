// Package mcp provides an MCP (Model Context Protocol) server for
// brainsync. This lets AI agents query indexing status and drive indexing
// runs as native tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alpkeskin/gotoon"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Kartavya904/brainsync/brain"
	"github.com/Kartavya904/brainsync/engine"
	"github.com/Kartavya904/brainsync/status"
)

// Server wraps the MCP server around one sync engine. The engine's cache
// and per-repository locks are shared across tool calls, so an agent
// issuing overlapping mutations hits the same fail-fast behavior as the
// CLI.
type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	client    *brain.Client
}

// RepoStatus is the MCP output shape for one repository's progress.
type RepoStatus struct {
	ID      int64  `json:"github_id"`
	Repo    string `json:"repo"`
	Total   int    `json:"total"`
	Indexed int    `json:"indexed"`
	Pending bool   `json:"pending,omitempty"`
}

// RunSummary is the MCP output shape for a completed indexing run.
type RunSummary struct {
	Repo        string `json:"repo"`
	FilesOK     int    `json:"files_ok"`
	FilesFailed int    `json:"files_failed"`
	Completed   bool   `json:"completed"`
	Error       string `json:"error,omitempty"`
	Total       int    `json:"total"`
	Indexed     int    `json:"indexed"`
}

// encodeOutput encodes data in the specified format (json or toon).
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "toon":
		return gotoon.Encode(data)
	default: // "json"
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
}

// NewServer creates a new MCP server for brainsync.
func NewServer(eng *engine.Engine, client *brain.Client) (*Server, error) {
	s := &Server{
		engine: eng,
		client: client,
	}

	s.mcpServer = server.NewMCPServer(
		"brainsync",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s, nil
}

// registerTools registers all brainsync tools with the MCP server.
func (s *Server) registerTools() {
	listTool := mcp.NewTool("brainsync_list_repos",
		mcp.WithDescription("List repositories registered with the brain service together with their indexing progress (total vs indexed file counts)."),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(listTool, s.handleListRepos)

	statusTool := mcp.NewTool("brainsync_repo_status",
		mcp.WithDescription("Get indexing status for one repository: aggregate counts and optionally the per-file indexed/not-indexed list."),
		mcp.WithNumber("repo_id",
			mcp.Required(),
			mcp.Description("Repository ID (github_id) as returned by brainsync_list_repos"),
		),
		mcp.WithBoolean("files",
			mcp.Description("Include the per-file state list (default: false)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleRepoStatus)

	indexTool := mcp.NewTool("brainsync_start_index",
		mcp.WithDescription("Start an indexing run for a repository and wait for it to finish. Returns per-run counts. Fails fast if another operation is already running for the repository."),
		mcp.WithNumber("repo_id",
			mcp.Required(),
			mcp.Description("Repository ID (github_id) as returned by brainsync_list_repos"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum files to index this run, 1-1000 (default: 50)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(indexTool, s.handleStartIndex)

	resetTool := mcp.NewTool("brainsync_reset_index",
		mcp.WithDescription("Delete all indexed data for a repository on the brain service. Destructive and not undoable; requires confirm=true."),
		mcp.WithNumber("repo_id",
			mcp.Required(),
			mcp.Description("Repository ID (github_id) as returned by brainsync_list_repos"),
		),
		mcp.WithBoolean("confirm",
			mcp.Description("Must be true to actually delete (default: false)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(resetTool, s.handleResetIndex)
}

// handleListRepos handles the brainsync_list_repos tool call.
func (s *Server) handleListRepos(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	repos, err := s.client.ListRepositories(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list repositories: %v", err)), nil
	}

	rows := make([]RepoStatus, 0, len(repos))
	for _, repo := range repos {
		s.engine.Cache().Track(repo)
		row := RepoStatus{ID: repo.ID, Repo: repo.FullName(), Pending: true}
		counts, err := s.client.FileSummary(ctx, repo.ID)
		if err == nil {
			s.engine.Cache().MergeCounters(repo.ID, counts)
			row.Total = counts.Total
			row.Indexed = counts.Indexed
			row.Pending = false
		}
		rows = append(rows, row)
	}

	output, err := encodeOutput(rows, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

// handleRepoStatus handles the brainsync_repo_status tool call.
func (s *Server) handleRepoStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID := int64(request.GetInt("repo_id", 0))
	if repoID == 0 {
		return mcp.NewToolResultError("repo_id parameter is required"), nil
	}
	withFiles := request.GetBool("files", false)
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	counts, err := s.client.FileSummary(ctx, repoID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read summary: %v", err)), nil
	}
	s.engine.Cache().MergeCounters(repoID, counts)

	result := struct {
		RepoStatus
		Files []status.FileStatus `json:"files,omitempty"`
	}{
		RepoStatus: RepoStatus{ID: repoID, Total: counts.Total, Indexed: counts.Indexed},
	}
	if withFiles {
		detail, err := s.client.FileDetail(ctx, repoID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read file detail: %v", err)), nil
		}
		s.engine.Cache().MergeFiles(repoID, detail.Files)
		result.Repo = detail.Repo.FullName()
		result.Files = detail.Files
	}

	output, err := encodeOutput(result, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

// handleStartIndex handles the brainsync_start_index tool call.
func (s *Server) handleStartIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID := int64(request.GetInt("repo_id", 0))
	if repoID == 0 {
		return mcp.NewToolResultError("repo_id parameter is required"), nil
	}
	limit := request.GetInt("limit", 0)
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	summary := RunSummary{Repo: fmt.Sprintf("%d", repoID)}
	done, err := s.engine.StartIndex(ctx, repoID, limit, func(ev brain.Event) {
		switch ev.Kind {
		case brain.EventFile:
			if ev.OK {
				summary.FilesOK++
			} else {
				summary.FilesFailed++
			}
		case brain.EventDone:
			summary.Completed = true
		}
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start indexing: %v", err)), nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return mcp.NewToolResultError("indexing run cancelled"), nil
	}

	if !summary.Completed {
		summary.Error = "stream ended before the run completed; partial progress kept"
	}
	if entry, ok := s.engine.Cache().Get(repoID); ok {
		summary.Repo = entry.Repo.FullName()
		if entry.Counters != nil {
			summary.Total = entry.Counters.Total
			summary.Indexed = entry.Counters.Indexed
		}
	}

	output, err := encodeOutput(summary, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

// handleResetIndex handles the brainsync_reset_index tool call.
func (s *Server) handleResetIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID := int64(request.GetInt("repo_id", 0))
	if repoID == 0 {
		return mcp.NewToolResultError("repo_id parameter is required"), nil
	}
	if !request.GetBool("confirm", false) {
		return mcp.NewToolResultError("reset deletes the entire index for this repository and cannot be undone; pass confirm=true to proceed"), nil
	}
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	if err := s.engine.Reset(ctx, repoID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reset failed: %v", err)), nil
	}

	result := RepoStatus{ID: repoID}
	if entry, ok := s.engine.Cache().Get(repoID); ok {
		result.Repo = entry.Repo.FullName()
		if entry.Counters != nil {
			result.Total = entry.Counters.Total
			result.Indexed = entry.Counters.Indexed
		}
	}
	output, err := encodeOutput(result, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}
