package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/ingest"
	"github.com/fyrsmithlabs/ingestd/internal/redact"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/sqlstore"
	"github.com/fyrsmithlabs/ingestd/internal/tableindex"
	"github.com/fyrsmithlabs/ingestd/internal/testcases"
)

// errInvalidArgument wraps tool argument errors.
var errInvalidArgument = errors.New("invalid argument")

// Retriever runs semantic retrieval. *retrieval.Service implements it.
type Retriever interface {
	Search(ctx context.Context, req retrieval.Request) (*retrieval.SearchResult, error)
	ContextForLabel(ctx context.Context, label string, topK int) (*retrieval.LabelContext, error)
	SQLContext(ctx context.Context, question string) (*retrieval.SQLResult, error)
}

// SQLStore lists tables and runs read-only queries. *sqlstore.Store
// implements it.
type SQLStore interface {
	Tables(ctx context.Context) ([]string, error)
	Query(ctx context.Context, statement string) ([]sqlstore.Row, error)
}

// TableIndexer indexes relational tables. *tableindex.Indexer implements it.
type TableIndexer interface {
	IndexTable(ctx context.Context, table string, opts tableindex.Options) tableindex.TableResult
	IndexAllTables(ctx context.Context, opts tableindex.AllOptions) (*tableindex.IndexAllResult, error)
}

// TextIngestor ingests raw text. *ingest.DocumentIngestor implements it.
type TextIngestor interface {
	IngestText(ctx context.Context, filename, text string, metadata map[string]any, namespace string) (*ingest.Result, error)
}

// TestCaseGenerator derives test cases for work items.
// *testcases.Generator implements it.
type TestCaseGenerator interface {
	Generate(ctx context.Context, req testcases.Request) (*testcases.Result, error)
}

// Services back the tools. Tools whose service is nil are not registered.
type Services struct {
	Retriever Retriever
	SQL       SQLStore
	Indexer   TableIndexer
	Ingestor  TextIngestor
	TestCases TestCaseGenerator

	// Redactor scrubs text returned to clients. Nil disables scrubbing.
	Redactor *redact.Redactor
}

// Server is an MCP server over the ingestd services.
type Server struct {
	mcp      *mcp.Server
	services Services
	registry *ToolRegistry
	metrics  *Metrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ingestd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ingestd",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server and registers the tools of every
// configured service.
func NewServer(cfg *Config, services Services) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "ingestd"
	}
	if services.Retriever == nil && services.SQL == nil && services.Indexer == nil && services.Ingestor == nil &&
		services.TestCases == nil {
		return nil, fmt.Errorf("at least one service is required")
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		services: services,
		registry: NewToolRegistry(),
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Registry returns the metadata of the registered tools.
func (s *Server) Registry() *ToolRegistry {
	return s.registry
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", zap.Int("tools", s.registry.Count()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on transport. It is used with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}

// scrub redacts secrets from text sent back to a client.
func (s *Server) scrub(text string) string {
	return s.services.Redactor.Redact(text).Text
}
