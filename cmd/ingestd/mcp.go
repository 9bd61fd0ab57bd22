package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ingestd/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Long: `Serve the ingestd tools over the Model Context Protocol on stdin/stdout.

Logs go to stderr. The search and ingest tools are always registered; the
table tools only when a relational store is configured.

Example MCP client configuration:
  {"command": "ingestd", "args": ["mcp"]}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, appOptions{stderrLogs: true}, runMCP)
	},
}

func runMCP(ctx context.Context, a *app) error {
	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "ingestd",
		Version: version,
		Logger:  a.logger,
	}, a.mcpServices())
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}
	return srv.Run(ctx)
}

// mcpServices wires the configured components into the MCP tools.
func (a *app) mcpServices() mcp.Services {
	s := mcp.Services{
		Retriever: a.retriever,
		Ingestor:  a.documents,
		Redactor:  a.redactor,
	}
	if a.sql != nil {
		s.SQL = a.sql
	}
	if a.indexer != nil {
		s.Indexer = a.indexer
	}
	if a.testcases != nil {
		s.TestCases = a.testcases
	}
	return s
}
