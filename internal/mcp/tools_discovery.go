package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Text or regular expression matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"Restrict to one category (search, tables, workitems, ingest, discovery)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type toolInfo struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	DeferLoading bool     `json:"defer_loading"`
	Keywords     []string `json:"keywords,omitempty"`
	Score        int      `json:"score,omitempty"`
	MatchReason  string   `json:"match_reason,omitempty"`
}

type toolSearchOutput struct {
	Query      string     `json:"query"`
	Results    []toolInfo `json:"results"`
	Count      int        `json:"count"`
	TotalTools int        `json:"total_tools"`
}

type toolListInput struct {
	Category     string `json:"category,omitempty" jsonschema:"Restrict to one category"`
	DeferredOnly bool   `json:"deferred_only,omitempty" jsonschema:"Only list tools meant to be discovered on demand"`
}

type toolListOutput struct {
	Tools []toolInfo `json:"tools"`
	Count int        `json:"count"`
}

func infoFor(t *ToolMetadata) toolInfo {
	return toolInfo{
		Name:         t.Name,
		Description:  t.Description,
		Category:     string(t.Category),
		DeferLoading: t.DeferLoading,
		Keywords:     t.Keywords,
	}
}

func (s *Server) registerDiscoveryTools() error {
	err := addTool(s, &ToolMetadata{
		Name:        "tool_search",
		Description: "Search the available tools by name, description or keyword.",
		Category:    CategoryDiscovery,
		Keywords:    []string{"discover", "find", "help"},
	}, func(ctx context.Context, req *mcp.CallToolRequest, args toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
		if args.Query == "" {
			return nil, toolSearchOutput{}, fmt.Errorf("%w: query is required", errInvalidArgument)
		}
		limit := args.Limit
		if limit <= 0 {
			limit = 5
		}

		found := s.registry.Search(args.Query, ToolCategory(args.Category))
		if len(found) > limit {
			found = found[:limit]
		}

		out := toolSearchOutput{
			Query:      args.Query,
			Results:    make([]toolInfo, 0, len(found)),
			TotalTools: s.registry.Count(),
		}
		names := make([]string, 0, len(found))
		for _, r := range found {
			info := infoFor(r.Tool)
			info.Score = r.Score
			info.MatchReason = r.MatchReason
			out.Results = append(out.Results, info)
			names = append(names, r.Tool.Name)
		}
		out.Count = len(out.Results)

		if len(names) == 0 {
			return textResult("No tools found matching: %s", args.Query), out, nil
		}
		return textResult("Found %d tool(s) for query '%s': %s", len(names), args.Query, strings.Join(names, ", ")), out, nil
	})
	if err != nil {
		return err
	}

	return addTool(s, &ToolMetadata{
		Name:        "tool_list",
		Description: "List the available tools with their metadata.",
		Category:    CategoryDiscovery,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args toolListInput) (*mcp.CallToolResult, toolListOutput, error) {
		out := toolListOutput{Tools: []toolInfo{}}
		for _, t := range s.registry.List(ToolCategory(args.Category)) {
			if args.DeferredOnly && !t.DeferLoading {
				continue
			}
			out.Tools = append(out.Tools, infoFor(t))
		}
		out.Count = len(out.Tools)
		return textResult("Found %d tools", out.Count), out, nil
	})
}
