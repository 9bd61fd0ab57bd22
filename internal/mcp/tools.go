package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
	"github.com/fyrsmithlabs/ingestd/internal/ingest"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/tableindex"
	"github.com/fyrsmithlabs/ingestd/internal/testcases"
	"github.com/fyrsmithlabs/ingestd/internal/vectorindex"
)

// defaultMaxRows caps sql_query results when max_rows is not given.
const defaultMaxRows = 100

// textKey is the metadata key holding a chunk's full text.
const textKey = "text"

// registerTools registers the tools of each configured service, then the
// discovery tools.
func (s *Server) registerTools() error {
	if s.services.Retriever != nil {
		if err := s.registerSearchTools(); err != nil {
			return err
		}
	} else {
		s.logger.Info("retrieval not configured, skipping search tools")
	}
	if err := s.registerTableTools(); err != nil {
		return err
	}
	if s.services.Ingestor != nil {
		if err := s.registerIngestTools(); err != nil {
			return err
		}
	}
	if s.services.TestCases != nil {
		if err := s.registerTestCaseTools(); err != nil {
			return err
		}
	}
	return s.registerDiscoveryTools()
}

// addTool registers metadata and the handler together.
func addTool[In, Out any](s *Server, meta *ToolMetadata, h mcp.ToolHandlerFor[In, Out]) error {
	if err := s.registry.Register(meta); err != nil {
		return err
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        meta.Name,
		Description: meta.Description,
		Meta:        mcp.Meta{"category": string(meta.Category), "defer_loading": meta.DeferLoading},
	}, h)
	return nil
}

// track starts the metrics of one invocation. The returned func records the
// outcome.
func (s *Server) track(ctx context.Context, tool string) func(error) {
	var category ToolCategory
	if meta, ok := s.registry.Get(tool); ok {
		category = meta.Category
	}
	c := s.metrics.begin(ctx, tool, category)
	return func(err error) {
		c.end(err)
		if err != nil {
			s.logger.Warn("tool failed", zap.String("tool", tool), zap.Error(err))
		}
	}
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

// ===== SEARCH TOOLS =====

type vectorSearchInput struct {
	Query         string   `json:"query" jsonschema:"Natural language search text"`
	TopK          int      `json:"top_k,omitempty" jsonschema:"Maximum chunks to return (default: 5)"`
	Namespaces    []string `json:"namespaces,omitempty" jsonschema:"Namespaces to search (default: the configured namespaces)"`
	AllNamespaces bool     `json:"all_namespaces,omitempty" jsonschema:"Search every namespace in the index"`
	Project       string   `json:"project,omitempty" jsonschema:"Restrict to chunks tagged with this project"`
	Labels        []string `json:"labels,omitempty" jsonschema:"Match chunks carrying any of these labels"`
	Components    []string `json:"components,omitempty" jsonschema:"Match chunks carrying any of these components"`
	Source        string   `json:"source,omitempty" jsonschema:"Restrict to chunks from this source"`
	Strategy      string   `json:"strategy,omitempty" jsonschema:"Filter strategy: project_and_any_label_or_component, project_and_labels_only or labels_or_components_only"`
}

type chunkOutput struct {
	ID        string         `json:"chunk_id"`
	Text      string         `json:"text"`
	Source    string         `json:"source"`
	Namespace string         `json:"namespace"`
	Score     float32        `json:"score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type vectorSearchOutput struct {
	Matches          []chunkOutput `json:"matches" jsonschema:"Matching chunks, best first"`
	Count            int           `json:"count" jsonschema:"Number of matches"`
	Queried          []string      `json:"queried" jsonschema:"Namespaces that were queried"`
	FailedNamespaces []string      `json:"failed_namespaces,omitempty" jsonschema:"Namespaces whose query failed"`
}

type workItemSearchInput struct {
	Label string `json:"label" jsonschema:"Label to fuzzy-match against work item labels"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"Chunks to retrieve per work item (default: 5)"`
}

type workItemOutput struct {
	Key              string        `json:"key"`
	Summary          string        `json:"summary"`
	Status           string        `json:"status,omitempty"`
	Labels           []string      `json:"labels"`
	Components       []string      `json:"components,omitempty"`
	Query            string        `json:"query"`
	Matches          []chunkOutput `json:"matches"`
	FailedNamespaces []string      `json:"failed_namespaces,omitempty"`
}

type workItemSearchOutput struct {
	Label string           `json:"label"`
	Items []workItemOutput `json:"items"`
	Count int              `json:"count"`
}

func (s *Server) chunks(in []retrieval.Chunk) []chunkOutput {
	out := make([]chunkOutput, len(in))
	for i, c := range in {
		out[i] = chunkOutput{
			ID:        c.ID,
			Text:      s.scrub(c.Text),
			Source:    c.Source,
			Namespace: c.Namespace,
			Score:     c.Score,
			Metadata:  c.Metadata,
		}
		if _, ok := c.Metadata[textKey]; ok {
			md := make(map[string]any, len(c.Metadata))
			for k, v := range c.Metadata {
				md[k] = v
			}
			md[textKey] = out[i].Text
			out[i].Metadata = md
		}
	}
	return out
}

func failedNamespaces(failures []vectorindex.NamespaceFailure) []string {
	var out []string
	for _, f := range failures {
		out = append(out, f.Namespace)
	}
	return out
}

func (s *Server) registerSearchTools() error {
	err := addTool(s, &ToolMetadata{
		Name:        "vector_search",
		Description: "Semantic search over ingested documents, table rows and READMEs. Queries namespaces in parallel and merges the best matches.",
		Category:    CategorySearch,
		Keywords:    []string{"search", "retrieve", "similar", "rag"},
	}, func(ctx context.Context, req *mcp.CallToolRequest, args vectorSearchInput) (*mcp.CallToolResult, vectorSearchOutput, error) {
		var toolErr error
		done := s.track(ctx, "vector_search")
		defer func() { done(toolErr) }()

		var strategy filter.Strategy
		if args.Strategy != "" {
			st, err := filter.ParseStrategy(args.Strategy)
			if err != nil {
				toolErr = fmt.Errorf("%w: %v", errInvalidArgument, err)
				return nil, vectorSearchOutput{}, toolErr
			}
			strategy = st
		}

		res, err := s.services.Retriever.Search(ctx, retrieval.Request{
			Text:             args.Query,
			TopK:             args.TopK,
			Namespaces:       args.Namespaces,
			AllNamespaces:    args.AllNamespaces,
			Project:          args.Project,
			Labels:           args.Labels,
			Components:       args.Components,
			RestrictToSource: args.Source,
			Strategy:         strategy,
		})
		if err != nil {
			toolErr = fmt.Errorf("vector search failed: %w", err)
			return nil, vectorSearchOutput{}, toolErr
		}

		out := vectorSearchOutput{
			Matches:          s.chunks(res.Chunks),
			Count:            len(res.Chunks),
			Queried:          res.Queried,
			FailedNamespaces: failedNamespaces(res.Failures),
		}
		if out.Queried == nil {
			out.Queried = []string{}
		}
		return textResult("Found %d matches across %d namespaces", out.Count, len(out.Queried)), out, nil
	})
	if err != nil {
		return err
	}

	return addTool(s, &ToolMetadata{
		Name:         "workitem_search",
		Description:  "Find work items whose labels fuzzy-match a label and retrieve related context for each.",
		Category:     CategoryWorkItems,
		DeferLoading: true,
		Keywords:     []string{"jira", "github", "issue", "ticket", "label"},
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workItemSearchInput) (*mcp.CallToolResult, workItemSearchOutput, error) {
		var toolErr error
		done := s.track(ctx, "workitem_search")
		defer func() { done(toolErr) }()

		if args.Label == "" {
			toolErr = fmt.Errorf("%w: label is required", errInvalidArgument)
			return nil, workItemSearchOutput{}, toolErr
		}

		lc, err := s.services.Retriever.ContextForLabel(ctx, args.Label, args.TopK)
		if err != nil {
			toolErr = fmt.Errorf("work item search failed: %w", err)
			return nil, workItemSearchOutput{}, toolErr
		}

		out := workItemSearchOutput{Label: lc.Label, Items: make([]workItemOutput, 0, len(lc.Items))}
		for _, ic := range lc.Items {
			labels := ic.Item.Labels
			if labels == nil {
				labels = []string{}
			}
			out.Items = append(out.Items, workItemOutput{
				Key:              ic.Item.Key,
				Summary:          ic.Item.Summary,
				Status:           ic.Item.Status,
				Labels:           labels,
				Components:       ic.Item.Components,
				Query:            ic.Query,
				Matches:          s.chunks(ic.Chunks),
				FailedNamespaces: failedNamespaces(ic.Failures),
			})
		}
		out.Count = len(out.Items)
		return textResult("Found %d work items matching label %q", out.Count, args.Label), out, nil
	})
}

// ===== TABLE TOOLS =====

type listTablesInput struct{}

type listTablesOutput struct {
	Tables []string `json:"tables"`
	Count  int      `json:"count"`
}

type indexTablesInput struct {
	Table         string   `json:"table,omitempty" jsonschema:"Index only this table (default: every table)"`
	Namespace     string   `json:"namespace,omitempty" jsonschema:"Target namespace (default: postgresql-data)"`
	ChunkSize     int      `json:"chunk_size,omitempty" jsonschema:"Rows per vector (default: 5)"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Maximum rows read per table (default: all)"`
	ExcludeTables []string `json:"exclude_tables,omitempty" jsonschema:"Tables to skip when indexing every table"`
}

type indexTablesOutput struct {
	Status          string                   `json:"status"`
	Namespace       string                   `json:"namespace"`
	TablesProcessed int                      `json:"tables_processed"`
	TotalRows       int                      `json:"total_rows"`
	TotalVectors    int                      `json:"total_vectors"`
	Results         []tableindex.TableResult `json:"results"`
}

type sqlQueryInput struct {
	SQL      string `json:"sql,omitempty" jsonschema:"A read-only SELECT statement"`
	Question string `json:"question,omitempty" jsonschema:"A natural language question to turn into SQL"`
	MaxRows  int    `json:"max_rows,omitempty" jsonschema:"Maximum rows returned for sql (default: 100)"`
}

type sqlQueryOutput struct {
	SQL       string           `json:"sql"`
	Rows      int              `json:"rows"`
	Truncated bool             `json:"truncated,omitempty"`
	Data      []map[string]any `json:"data"`
	Context   string           `json:"context,omitempty"`
}

func (s *Server) registerTableTools() error {
	if s.services.SQL != nil {
		err := addTool(s, &ToolMetadata{
			Name:        "list_tables",
			Description: "List the tables of the relational store.",
			Category:    CategoryTables,
			Keywords:    []string{"sql", "schema", "database"},
		}, func(ctx context.Context, req *mcp.CallToolRequest, _ listTablesInput) (*mcp.CallToolResult, listTablesOutput, error) {
			var toolErr error
			done := s.track(ctx, "list_tables")
			defer func() { done(toolErr) }()

			tables, err := s.services.SQL.Tables(ctx)
			if err != nil {
				toolErr = fmt.Errorf("listing tables failed: %w", err)
				return nil, listTablesOutput{}, toolErr
			}
			if tables == nil {
				tables = []string{}
			}
			return textResult("Found %d tables", len(tables)), listTablesOutput{Tables: tables, Count: len(tables)}, nil
		})
		if err != nil {
			return err
		}

		err = addTool(s, &ToolMetadata{
			Name:         "sql_query",
			Description:  "Run a read-only SELECT against the relational store, or have the language model write one for a question.",
			Category:     CategoryTables,
			DeferLoading: true,
			Keywords:     []string{"sql", "select", "database", "rows"},
		}, s.handleSQLQuery)
		if err != nil {
			return err
		}
	}

	if s.services.Indexer == nil {
		return nil
	}
	return addTool(s, &ToolMetadata{
		Name:         "index_tables",
		Description:  "Index relational table rows into the vector index, one vector per batch of rows.",
		Category:     CategoryTables,
		DeferLoading: true,
		Keywords:     []string{"index", "embed", "rows", "postgresql"},
	}, func(ctx context.Context, req *mcp.CallToolRequest, args indexTablesInput) (*mcp.CallToolResult, indexTablesOutput, error) {
		var toolErr error
		done := s.track(ctx, "index_tables")
		defer func() { done(toolErr) }()

		if args.Table != "" {
			r := s.services.Indexer.IndexTable(ctx, args.Table, tableindex.Options{
				Namespace: args.Namespace,
				ChunkSize: args.ChunkSize,
				Limit:     args.Limit,
			})
			if r.Status == tableindex.StatusError {
				toolErr = fmt.Errorf("indexing %s failed: %s", args.Table, r.Error)
				return nil, indexTablesOutput{}, toolErr
			}
			out := indexTablesOutput{
				Status:          r.Status,
				Namespace:       r.Namespace,
				TablesProcessed: 1,
				TotalRows:       r.RowsProcessed,
				TotalVectors:    r.VectorsUpserted,
				Results:         []tableindex.TableResult{r},
			}
			return textResult("Indexed %d rows of %s into %d vectors", r.RowsProcessed, args.Table, r.VectorsUpserted), out, nil
		}

		res, err := s.services.Indexer.IndexAllTables(ctx, tableindex.AllOptions{
			Namespace:     args.Namespace,
			ChunkSize:     args.ChunkSize,
			LimitPerTable: args.Limit,
			ExcludeTables: args.ExcludeTables,
		})
		if err != nil {
			toolErr = fmt.Errorf("indexing tables failed: %w", err)
			return nil, indexTablesOutput{}, toolErr
		}
		out := indexTablesOutput{
			Status:          res.Status,
			Namespace:       res.Namespace,
			TablesProcessed: res.TablesProcessed,
			TotalRows:       res.TotalRows,
			TotalVectors:    res.TotalVectors,
			Results:         res.TableResults,
		}
		return textResult("Indexed %d tables: %d rows into %d vectors", res.TablesProcessed, res.TotalRows, res.TotalVectors), out, nil
	})
}

func (s *Server) handleSQLQuery(ctx context.Context, req *mcp.CallToolRequest, args sqlQueryInput) (*mcp.CallToolResult, sqlQueryOutput, error) {
	var toolErr error
	done := s.track(ctx, "sql_query")
	defer func() { done(toolErr) }()

	switch {
	case (args.SQL == "") == (args.Question == ""):
		toolErr = fmt.Errorf("%w: exactly one of sql or question is required", errInvalidArgument)
		return nil, sqlQueryOutput{}, toolErr

	case args.Question != "":
		if s.services.Retriever == nil {
			toolErr = retrieval.ErrNoLLM
			return nil, sqlQueryOutput{}, toolErr
		}
		res, err := s.services.Retriever.SQLContext(ctx, args.Question)
		if err != nil {
			toolErr = fmt.Errorf("sql generation failed: %w", err)
			return nil, sqlQueryOutput{}, toolErr
		}
		out := sqlQueryOutput{SQL: res.SQL, Rows: res.Rows, Data: res.Data, Context: s.scrub(res.Context)}
		if out.Data == nil {
			out.Data = []map[string]any{}
		}
		return textResult("%s\n\n%s", res.SQL, out.Context), out, nil
	}

	rows, err := s.services.SQL.Query(ctx, args.SQL)
	if err != nil {
		toolErr = fmt.Errorf("sql query failed: %w", err)
		return nil, sqlQueryOutput{}, toolErr
	}
	maxRows := args.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	out := sqlQueryOutput{SQL: args.SQL, Rows: len(rows), Data: make([]map[string]any, 0, min(len(rows), maxRows))}
	for i, r := range rows {
		if i == maxRows {
			out.Truncated = true
			break
		}
		out.Data = append(out.Data, r.Map())
	}
	return textResult("Query returned %d rows", out.Rows), out, nil
}

// ===== INGEST TOOLS =====

type ingestTextInput struct {
	Filename   string         `json:"filename" jsonschema:"Name recorded as the document source"`
	Text       string         `json:"text" jsonschema:"Document text"`
	Namespace  string         `json:"namespace,omitempty" jsonschema:"Target namespace (default: mongodb-files)"`
	Project    string         `json:"project,omitempty" jsonschema:"Project tag stored with every chunk"`
	Labels     []string       `json:"labels,omitempty" jsonschema:"Labels stored with every chunk"`
	Components []string       `json:"components,omitempty" jsonschema:"Components stored with every chunk"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"Additional metadata stored with every chunk"`
}

func (s *Server) registerIngestTools() error {
	return addTool(s, &ToolMetadata{
		Name:         "ingest_text",
		Description:  "Chunk, embed and index a text document so later searches can find it.",
		Category:     CategoryIngest,
		DeferLoading: true,
		Keywords:     []string{"ingest", "upload", "index", "document"},
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ingestTextInput) (*mcp.CallToolResult, ingest.Result, error) {
		var toolErr error
		done := s.track(ctx, "ingest_text")
		defer func() { done(toolErr) }()

		if args.Filename == "" || args.Text == "" {
			toolErr = fmt.Errorf("%w: filename and text are required", errInvalidArgument)
			return nil, ingest.Result{}, toolErr
		}

		md := make(map[string]any, len(args.Metadata)+3)
		for k, v := range args.Metadata {
			md[k] = v
		}
		if args.Project != "" {
			md["project"] = args.Project
		}
		if len(args.Labels) > 0 {
			md["labels"] = args.Labels
		}
		if len(args.Components) > 0 {
			md["components"] = args.Components
		}

		res, err := s.services.Ingestor.IngestText(ctx, args.Filename, args.Text, md, args.Namespace)
		if err != nil {
			toolErr = fmt.Errorf("ingesting %s failed: %w", args.Filename, err)
			return nil, ingest.Result{}, toolErr
		}
		return textResult("Ingested %s: %d chunks into %s", res.Filename, res.Chunks, res.Namespace), *res, nil
	})
}

// ===== TEST CASE TOOLS =====

type generateTestCasesInput struct {
	Label      string `json:"label" jsonschema:"Label to fuzzy-match against work item labels"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum stories to process (default: 1)"`
	TopK       int    `json:"top_k,omitempty" jsonschema:"Chunks retrieved per story"`
	FixVersion string `json:"fix_version,omitempty" jsonschema:"Fix version stamped on every case"`
}

type storyOutput struct {
	Key        string               `json:"jira_key"`
	Status     string               `json:"status"`
	Count      int                  `json:"testcases_count"`
	OutputFile string               `json:"output_file,omitempty"`
	TestCases  []testcases.TestCase `json:"test_cases"`
	Error      string               `json:"error,omitempty"`
}

type generateTestCasesOutput struct {
	Label   string        `json:"label"`
	Success bool          `json:"success"`
	Stories []storyOutput `json:"stories"`
	Total   int           `json:"total"`
}

func (s *Server) registerTestCaseTools() error {
	return addTool(s, &ToolMetadata{
		Name:         "generate_testcases",
		Description:  "Generate grounded test cases for the work items matching a label and write one CSV per story.",
		Category:     CategoryWorkItems,
		DeferLoading: true,
		Keywords:     []string{"test", "qa", "csv", "story", "acceptance"},
	}, func(ctx context.Context, req *mcp.CallToolRequest, args generateTestCasesInput) (*mcp.CallToolResult, generateTestCasesOutput, error) {
		var toolErr error
		done := s.track(ctx, "generate_testcases")
		defer func() { done(toolErr) }()

		if args.Label == "" {
			toolErr = fmt.Errorf("%w: label is required", errInvalidArgument)
			return nil, generateTestCasesOutput{}, toolErr
		}
		if args.Limit < 0 || args.TopK < 0 {
			toolErr = fmt.Errorf("%w: limit and top_k must not be negative", errInvalidArgument)
			return nil, generateTestCasesOutput{}, toolErr
		}

		res, err := s.services.TestCases.Generate(ctx, testcases.Request{
			Label:      args.Label,
			Limit:      args.Limit,
			TopK:       args.TopK,
			FixVersion: args.FixVersion,
		})
		if err != nil {
			toolErr = fmt.Errorf("test case generation failed: %w", err)
			return nil, generateTestCasesOutput{}, toolErr
		}

		out := generateTestCasesOutput{Label: res.Label, Success: res.Success, Stories: make([]storyOutput, 0, len(res.Results))}
		for _, r := range res.Results {
			out.Stories = append(out.Stories, storyOutput{
				Key:        r.Key,
				Status:     r.Status,
				Count:      r.Count,
				OutputFile: r.OutputFile,
				TestCases:  r.TestCases,
				Error:      r.Error,
			})
			out.Total += r.Count
		}
		return textResult("Generated %d test cases for %d stories matching label %q", out.Total, len(out.Stories), args.Label), out, nil
	})
}
