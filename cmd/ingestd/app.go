package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/config"
	"github.com/fyrsmithlabs/ingestd/internal/docparse"
	"github.com/fyrsmithlabs/ingestd/internal/docstore"
	"github.com/fyrsmithlabs/ingestd/internal/embeddings"
	"github.com/fyrsmithlabs/ingestd/internal/events"
	"github.com/fyrsmithlabs/ingestd/internal/filter"
	"github.com/fyrsmithlabs/ingestd/internal/ingest"
	"github.com/fyrsmithlabs/ingestd/internal/llm"
	"github.com/fyrsmithlabs/ingestd/internal/logging"
	"github.com/fyrsmithlabs/ingestd/internal/pipeline"
	"github.com/fyrsmithlabs/ingestd/internal/redact"
	"github.com/fyrsmithlabs/ingestd/internal/reposource"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/sqlstore"
	"github.com/fyrsmithlabs/ingestd/internal/tableindex"
	"github.com/fyrsmithlabs/ingestd/internal/telemetry"
	"github.com/fyrsmithlabs/ingestd/internal/testcases"
	"github.com/fyrsmithlabs/ingestd/internal/vectorindex"
	"github.com/fyrsmithlabs/ingestd/internal/vectorstore"
	"github.com/fyrsmithlabs/ingestd/internal/workitems"
)

// appOptions tune component construction per command.
type appOptions struct {
	// stderrLogs keeps stdout free for the MCP stdio transport.
	stderrLogs bool
}

// app holds every component built from configuration. Optional components
// are nil when their configuration is absent.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry

	vectors  vectorstore.Service
	gateway  *vectorindex.Gateway
	embedder embeddings.Provider
	redactor *redact.Redactor
	events   *events.Publisher
	docs     *docstore.Store

	documents *ingest.DocumentIngestor
	repos     *ingest.RepoIngestor
	retriever *retrieval.Service

	// Optional.
	sql       *sqlstore.Store
	indexer   *tableindex.Indexer
	items     workitems.Source
	llm       *llm.Client
	testcases *testcases.Generator

	closers []func() error
}

// newApp loads configuration and builds the components in dependency
// order. On error, everything built so far is closed.
func newApp(ctx context.Context, opts appOptions) (_ *app, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version), telemetry.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.onClose(func() error {
		return a.telemetry.Shutdown(context.Background())
	})

	if err := a.initIndex(ctx); err != nil {
		return nil, err
	}
	if err := a.initIngest(); err != nil {
		return nil, err
	}
	if err := a.initSQL(ctx); err != nil {
		return nil, err
	}
	a.initRetrieval(ctx)

	logger.Info("ingestd initialized",
		zap.String("version", version),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("index", cfg.VectorStore.Index),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Bool("sql", a.sql != nil),
		zap.Bool("work_items", a.items != nil),
		zap.Bool("llm", a.llm != nil),
		zap.Bool("events", a.events != nil),
	)
	return a, nil
}

// newLogger maps the logging section onto a logging.Config.
func newLogger(lc config.LoggingConfig, opts appOptions) (*zap.Logger, error) {
	cfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}
	cfg.Level = level
	if lc.Format != "" {
		cfg.Format = lc.Format
	}
	cfg.Output.OTEL = lc.OTEL
	cfg.Output.Stderr = opts.stderrLogs

	var provider log.LoggerProvider
	if lc.OTEL {
		provider = global.GetLoggerProvider()
	}
	logger, err := logging.NewLogger(cfg, provider)
	if err != nil {
		return nil, err
	}
	return logger.Underlying(), nil
}

// initIndex builds the vector store, the gateway and the embedder, and
// makes sure the index exists with the configured dimension.
func (a *app) initIndex(ctx context.Context) error {
	cfg := a.cfg

	svc, err := vectorstore.NewService(cfg.VectorStore, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	a.vectors = svc
	a.onClose(svc.Close)

	a.gateway, err = vectorindex.New(svc, vectorindex.Config{
		Index:          cfg.VectorStore.Index,
		MaxConcurrency: cfg.Retrieval.MaxConcurrency,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create vector index gateway: %w", err)
	}

	metric, err := vectorstore.ParseMetric(cfg.VectorStore.Metric)
	if err != nil {
		return err
	}
	if err := a.gateway.EnsureIndex(ctx, cfg.VectorStore.Dimension, metric); err != nil {
		return fmt.Errorf("failed to ensure index %q: %w", cfg.VectorStore.Index, err)
	}

	a.embedder, err = embeddings.NewProvider(cfg.Embeddings, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.onClose(a.embedder.Close)

	a.logger.Info("vector index ready",
		zap.String("index", cfg.VectorStore.Index),
		zap.Int("dimension", cfg.VectorStore.Dimension),
		zap.String("metric", string(metric)),
	)
	return nil
}

// initIngest builds the document store, the redactor, the event publisher
// and the document and repository ingestors.
func (a *app) initIngest() error {
	cfg := a.cfg

	var err error
	a.docs, err = docstore.Open(cfg.DocStore.Path, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	a.onClose(a.docs.Close)

	a.redactor, err = redact.New(cfg.Redaction, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create redactor: %w", err)
	}

	a.events, err = events.Connect(cfg.Events, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect events: %w", err)
	}
	if a.events != nil {
		a.onClose(a.events.Close)
	}

	a.documents = ingest.NewDocumentIngestor(
		a.docs,
		docparse.New(),
		pipeline.New(a.embedder, a.logger),
		a.gateway,
		ingest.WithRedactor(a.redactor),
		ingest.WithEvents(a.events),
		ingest.WithDefaults(cfg.Ingest.Namespace, cfg.Ingest.Source),
		ingest.WithLogger(a.logger),
	)

	a.repos = ingest.NewRepoIngestor(
		reposource.NewReader(cfg.GitHub.Token.Value(), a.logger),
		a.documents,
		cfg.Ingest.RepoNamespace,
		a.logger,
	)
	return nil
}

// initSQL opens the relational store when a DSN is configured.
func (a *app) initSQL(ctx context.Context) error {
	if !a.cfg.SQL.DSN.IsSet() {
		a.logger.Info("relational store not configured; table indexing disabled")
		return nil
	}

	store, err := sqlstore.Open(ctx, a.cfg.SQL.Driver, a.cfg.SQL.DSN.Value(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to open relational store: %w", err)
	}
	a.sql = store
	a.onClose(store.Close)
	a.indexer = tableindex.New(store, a.embedder, a.gateway, a.logger)
	return nil
}

// initRetrieval builds the retrieval service with the optional work-item
// source, language model and relational store.
func (a *app) initRetrieval(ctx context.Context) {
	cfg := a.cfg

	opts := []retrieval.Option{retrieval.WithLogger(a.logger)}

	if items := a.workItemSource(ctx); items != nil {
		a.items = items
		opts = append(opts, retrieval.WithWorkItems(items))
	}

	client, err := llm.New(cfg.LLM, a.logger)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		a.logger.Info("language model not configured; answers and SQL context disabled")
	case err != nil:
		a.logger.Warn("failed to create language model client", zap.Error(err))
	default:
		a.llm = client
		opts = append(opts, retrieval.WithLLM(client))
	}

	if a.sql != nil {
		opts = append(opts, retrieval.WithSQL(a.sql))
	}

	a.retriever = retrieval.New(a.embedder, a.gateway, retrieval.Config{
		Namespaces:          cfg.Retrieval.Namespaces,
		TopK:                cfg.Retrieval.TopK,
		CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
		LabelThreshold:      int(cfg.Retrieval.LabelThreshold),
		Strategy:            filter.Strategy(cfg.Retrieval.Strategy),
	}, opts...)

	if a.llm != nil && a.items != nil {
		a.testcases = testcases.New(a.retriever, a.llm, testcases.Config{
			OutputDir:   cfg.TestCases.OutputDir,
			FixVersion:  cfg.TestCases.FixVersion,
			Limit:       cfg.TestCases.Limit,
			TopK:        cfg.Retrieval.TopK,
			Concurrency: cfg.TestCases.Concurrency,
		}, a.logger)
	}
}

// workItemSource prefers Jira and falls back to GitHub issues. It returns
// nil when neither is configured.
func (a *app) workItemSource(ctx context.Context) workitems.Source {
	cfg := a.cfg

	if cfg.Jira.BaseURL != "" && cfg.Jira.Token.IsSet() {
		src, err := workitems.NewJiraSource(workitems.JiraConfig{
			BaseURL:    cfg.Jira.BaseURL,
			Email:      cfg.Jira.Email,
			Token:      cfg.Jira.Token.Value(),
			JQL:        cfg.Jira.JQL,
			MaxResults: cfg.Jira.MaxResults,
			RateLimit:  cfg.Jira.RateLimit,
		}, a.logger)
		if err == nil {
			a.logger.Info("work items from jira",
				zap.String("base_url", cfg.Jira.BaseURL),
				logging.Secret("jira_token", cfg.Jira.Token),
			)
			return src
		}
		a.logger.Warn("failed to create jira source", zap.Error(err))
	}

	if cfg.GitHub.Token.IsSet() && cfg.GitHub.Query != "" {
		src, err := workitems.NewGitHubSource(ctx, workitems.GitHubConfig{
			Token:      cfg.GitHub.Token.Value(),
			Query:      cfg.GitHub.Query,
			MaxResults: cfg.GitHub.MaxResults,
		}, a.logger)
		if err == nil {
			a.logger.Info("work items from github",
				zap.String("query", cfg.GitHub.Query),
				logging.Secret("github_token", cfg.GitHub.Token),
			)
			return src
		}
		a.logger.Warn("failed to create github source", zap.Error(err))
	}

	return nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases components in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close component", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync() // Best-effort sync on shutdown
}

// shutdownContext bounds graceful shutdown of servers.
func (a *app) shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Or(10*time.Second))
}
