package mcp

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ToolCategory groups tools for discovery.
type ToolCategory string

const (
	// CategorySearch is for semantic retrieval tools.
	CategorySearch ToolCategory = "search"
	// CategoryTables is for relational table tools.
	CategoryTables ToolCategory = "tables"
	// CategoryWorkItems is for work-item context tools.
	CategoryWorkItems ToolCategory = "workitems"
	// CategoryIngest is for ingestion tools.
	CategoryIngest ToolCategory = "ingest"
	// CategoryDiscovery is for tool_search and tool_list.
	CategoryDiscovery ToolCategory = "discovery"
)

// ToolMetadata describes a registered MCP tool.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`

	// DeferLoading marks tools a client should discover through tool_search
	// rather than load up front.
	DeferLoading bool `json:"defer_loading"`

	Keywords []string `json:"keywords,omitempty"`
}

func (m *ToolMetadata) validate() error {
	switch {
	case m == nil:
		return errors.New("tool metadata is required")
	case m.Name == "":
		return errors.New("tool name is required")
	case m.Description == "":
		return errors.New("tool description is required")
	case m.Category == "":
		return errors.New("tool category is required")
	}
	return nil
}

// ToolRegistry holds the metadata of every registered tool.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetadata)}
}

// Register adds a tool. Names are unique.
func (r *ToolRegistry) Register(tool *ToolMetadata) error {
	if err := tool.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name]; ok {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get returns the metadata of the named tool.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns tools sorted by name. An empty category lists all.
func (r *ToolRegistry) List(category ToolCategory) []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		if category == "" || tool.Category == category {
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SearchResult is a tool matched by Search.
type SearchResult struct {
	Tool *ToolMetadata `json:"tool"`

	// Score is 3 for an exact name match, 2 for a name match and 1 for a
	// description or keyword match.
	Score       int    `json:"score"`
	MatchReason string `json:"match_reason"`
}

// Search matches query case-insensitively against names, descriptions and
// keywords. A query that compiles as a regular expression is also applied
// as one. Results are ordered by score, then name.
func (r *ToolRegistry) Search(query string, category ToolCategory) []SearchResult {
	if query == "" {
		return nil
	}
	q := strings.ToLower(query)
	re, err := regexp.Compile("(?i)" + query)
	if err != nil {
		re = nil
	}
	matches := func(s string) bool {
		return strings.Contains(strings.ToLower(s), q) || (re != nil && re.MatchString(s))
	}

	var results []SearchResult
	for _, tool := range r.List(category) {
		switch {
		case strings.ToLower(tool.Name) == q:
			results = append(results, SearchResult{Tool: tool, Score: 3, MatchReason: "exact name match"})
		case matches(tool.Name):
			results = append(results, SearchResult{Tool: tool, Score: 2, MatchReason: "name match"})
		case matches(tool.Description):
			results = append(results, SearchResult{Tool: tool, Score: 1, MatchReason: "description match"})
		default:
			for _, kw := range tool.Keywords {
				if matches(kw) {
					results = append(results, SearchResult{Tool: tool, Score: 1, MatchReason: "keyword match"})
					break
				}
			}
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
