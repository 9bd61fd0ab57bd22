// Package http serves the ingestd REST API.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/docstore"
	"github.com/fyrsmithlabs/ingestd/internal/ingest"
	"github.com/fyrsmithlabs/ingestd/internal/logging"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/tableindex"
	"github.com/fyrsmithlabs/ingestd/internal/testcases"
)

// apiPrefix is the mount point of the versioned API.
const apiPrefix = "/api/v1"

// DocumentIngestor ingests uploads. *ingest.DocumentIngestor implements it.
type DocumentIngestor interface {
	Ingest(ctx context.Context, doc ingest.Document, namespace string) (*ingest.Result, error)
}

// DocumentStore serves stored uploads. *docstore.Store implements it.
type DocumentStore interface {
	Get(ctx context.Context, id string) ([]byte, *docstore.FileInfo, error)
	List(ctx context.Context, nameContains string, limit int) ([]docstore.FileInfo, error)
	Delete(ctx context.Context, id string) error
}

// TableIndexer indexes relational tables. *tableindex.Indexer implements it.
type TableIndexer interface {
	IndexTable(ctx context.Context, table string, opts tableindex.Options) tableindex.TableResult
	IndexAllTables(ctx context.Context, opts tableindex.AllOptions) (*tableindex.IndexAllResult, error)
}

// TableLister lists relational tables. *sqlstore.Store implements it.
type TableLister interface {
	Tables(ctx context.Context) ([]string, error)
}

// Retriever answers queries. *retrieval.Service implements it.
type Retriever interface {
	Search(ctx context.Context, req retrieval.Request) (*retrieval.SearchResult, error)
	Answer(ctx context.Context, question string, opts retrieval.AnswerOptions) (*retrieval.AnswerResult, error)
	ContextForLabel(ctx context.Context, label string, topK int) (*retrieval.LabelContext, error)
}

// TestCaseGenerator derives test cases for the work items of a label.
// *testcases.Generator implements it.
type TestCaseGenerator interface {
	Generate(ctx context.Context, req testcases.Request) (*testcases.Result, error)
}

// Namespaces lists and deletes namespaces. *vectorindex.Gateway implements
// it.
type Namespaces interface {
	ListNamespaces(ctx context.Context) ([]string, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Services are the backends behind the routes. A nil field makes its
// routes answer 503.
type Services struct {
	Ingestor   DocumentIngestor
	Documents  DocumentStore
	Tables     TableLister
	Indexer    TableIndexer
	Retriever  Retriever
	Namespaces Namespaces
	TestCases  TestCaseGenerator
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	APIToken    string
	MaxUploadMB int
	Version     string
}

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	services Services
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server.
func NewServer(services Services, logger *zap.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8088,
		}
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 32
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(requestContext)
	e.Use(accessLog(logging.New(logger)))

	s := &Server{
		echo:     e,
		services: services,
		logger:   logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// requestContext copies the request ID into the request context so logs
// written by the services carry it.
func requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		}
		return next(c)
	}
}

func accessLog(log *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group(apiPrefix)
	if s.config.APIToken != "" {
		v1.Use(middleware.KeyAuth(func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIToken)) == 1, nil
		}))
	}

	v1.GET("/status", s.handleStatus)

	v1.POST("/documents", s.handleUploadDocument)
	v1.GET("/documents", s.handleListDocuments)
	v1.GET("/documents/:id", s.handleDownloadDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)

	v1.GET("/tables", s.handleListTables)
	v1.POST("/tables/index", s.handleIndexAllTables)
	v1.POST("/tables/:name/index", s.handleIndexTable)

	v1.POST("/query", s.handleQuery)
	v1.POST("/answer", s.handleAnswer)
	v1.GET("/workitems", s.handleWorkItems)
	v1.POST("/testcases", s.handleGenerateTestCases)

	v1.DELETE("/namespaces/:ns", s.handleDeleteNamespace)
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// unavailable is returned by routes whose backend is not configured.
func unavailable(what string) error {
	return echo.NewHTTPError(http.StatusServiceUnavailable, what+" not configured")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
