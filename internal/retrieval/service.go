// Package retrieval answers questions from the vector index: plain
// semantic search, work-item label context, LLM answers and SQL context.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/embeddings"
	"github.com/fyrsmithlabs/ingestd/internal/filter"
	"github.com/fyrsmithlabs/ingestd/internal/labelmatch"
	"github.com/fyrsmithlabs/ingestd/internal/llm"
	"github.com/fyrsmithlabs/ingestd/internal/sqlstore"
	"github.com/fyrsmithlabs/ingestd/internal/vectorindex"
	"github.com/fyrsmithlabs/ingestd/internal/workitems"
)

var tracer = otel.Tracer("ingestd.retrieval")

const (
	DefaultTopK                = 5
	DefaultCandidateMultiplier = 3

	// NoAnswer is returned as the answer when no chunk carries text.
	NoAnswer = "No relevant information found."
)

var (
	// ErrEmptyQuery is returned for blank query text or labels.
	ErrEmptyQuery = errors.New("query text is empty")

	// ErrNoWorkItems is returned when no work item matches a label.
	ErrNoWorkItems = errors.New("no work items match label")

	// ErrNoLLM is returned by Answer and SQLContext without a Completer.
	ErrNoLLM = errors.New("no language model configured")

	// ErrNoSQL is returned by SQLContext without a relational store.
	ErrNoSQL = errors.New("no relational store configured")

	// ErrNoWorkItemSource is returned by ContextForLabel without a Source.
	ErrNoWorkItemSource = errors.New("no work-item source configured")
)

// Index runs scatter-gather queries. *vectorindex.Gateway implements it.
type Index interface {
	ScatterGatherQuery(ctx context.Context, vector []float32, topK int, sel vectorindex.Selection) (*vectorindex.ScatterReport, error)
}

// SQLSource lists tables and runs guarded SELECTs. *sqlstore.Store
// implements it.
type SQLSource interface {
	Tables(ctx context.Context) ([]string, error)
	Query(ctx context.Context, statement string) ([]sqlstore.Row, error)
}

// Config tunes retrieval.
type Config struct {
	// Namespaces are queried when a request names none. Empty means every
	// namespace of the index.
	Namespaces          []string
	TopK                int
	CandidateMultiplier int
	LabelThreshold      int
	Strategy            filter.Strategy
}

// Service composes the embedder, the index and the optional collaborators.
type Service struct {
	embedder embeddings.Embedder
	index    Index
	items    workitems.Source
	llm      llm.Completer
	sql      SQLSource
	cfg      Config
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithWorkItems enables ContextForLabel.
func WithWorkItems(src workitems.Source) Option {
	return func(s *Service) { s.items = src }
}

// WithLLM enables Answer and SQLContext.
func WithLLM(c llm.Completer) Option {
	return func(s *Service) { s.llm = c }
}

// WithSQL enables SQLContext.
func WithSQL(src SQLSource) Option {
	return func(s *Service) { s.sql = src }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service.
func New(embedder embeddings.Embedder, index Index, cfg Config, opts ...Option) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = DefaultCandidateMultiplier
	}
	if cfg.LabelThreshold <= 0 {
		cfg.LabelThreshold = labelmatch.DefaultThreshold
	}
	if cfg.Strategy == "" {
		cfg.Strategy = filter.DefaultStrategy
	}
	s := &Service{embedder: embedder, index: index, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chunk is a retrieved chunk with its provenance.
type Chunk struct {
	ID        string         `json:"chunk_id"`
	Text      string         `json:"text"`
	Source    string         `json:"source"`
	Namespace string         `json:"namespace"`
	Score     float32        `json:"score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Request is a semantic search. Project, Labels and Components, when set,
// become a metadata filter via filter.Build.
type Request struct {
	Text          string
	TopK          int
	Namespaces    []string
	AllNamespaces bool

	Project          string
	Labels           []string
	Components       []string
	RestrictToSource string
	Strategy         filter.Strategy

	// Filter overrides the work-item fields when set.
	Filter filter.Expression
}

// SearchResult holds merged chunks plus per-namespace failures.
type SearchResult struct {
	Chunks   []Chunk                        `json:"chunks"`
	Queried  []string                       `json:"queried"`
	Failures []vectorindex.NamespaceFailure `json:"failures,omitempty"`
}

// Search embeds req.Text and scatter-gathers it. At most TopK chunks are
// returned.
func (s *Service) Search(ctx context.Context, req Request) (*SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Service.Search")
	defer span.End()

	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyQuery
	}
	topK := s.topK(req.TopK)
	span.SetAttributes(attribute.Int("top_k", topK))

	vectors, err := s.embedder.Embed(ctx, []string{req.Text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	res, err := s.scatter(ctx, vectors[0], topK, topK, s.selection(req))
	if err != nil {
		return nil, err
	}
	queriesTotal.WithLabelValues("search").Inc()
	return res, nil
}

func (s *Service) topK(k int) int {
	if k > 0 {
		return k
	}
	return s.cfg.TopK
}

func (s *Service) selection(req Request) vectorindex.Selection {
	sel := vectorindex.Selection{Namespaces: req.Namespaces, All: req.AllNamespaces, Filter: req.Filter}
	if len(sel.Namespaces) == 0 && !sel.All {
		sel.Namespaces = s.cfg.Namespaces
		sel.All = len(sel.Namespaces) == 0
	}
	if sel.Filter == nil {
		strategy := req.Strategy
		if strategy == "" {
			strategy = s.cfg.Strategy
		}
		sel.Filter = filter.Build(filter.Params{
			Project:          req.Project,
			Labels:           req.Labels,
			Components:       req.Components,
			RestrictToSource: req.RestrictToSource,
			Strategy:         strategy,
		})
	}
	return sel
}

// scatter queries perNamespace candidates per namespace and keeps the best
// keep chunks overall.
func (s *Service) scatter(ctx context.Context, vector []float32, perNamespace, keep int, sel vectorindex.Selection) (*SearchResult, error) {
	report, err := s.index.ScatterGatherQuery(ctx, vector, perNamespace, sel)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	if n := len(report.Failures); n > 0 {
		namespaceFailures.Add(float64(n))
	}

	matches := report.Matches
	if len(matches) > keep {
		matches = matches[:keep]
	}
	chunks := make([]Chunk, len(matches))
	for i, m := range matches {
		chunks[i] = toChunk(m)
	}
	return &SearchResult{Chunks: chunks, Queried: report.Queried, Failures: report.Failures}, nil
}

// toChunk lifts text and source out of the metadata. text_preview stands in
// for text on table vectors.
func toChunk(m vectorindex.Match) Chunk {
	c := Chunk{ID: m.ID, Namespace: m.Namespace, Score: m.Score, Source: "unknown"}
	rest := make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		switch k {
		case "text":
			c.Text, _ = v.(string)
		case "source":
			if src, ok := v.(string); ok && src != "" {
				c.Source = src
			}
		default:
			rest[k] = v
		}
	}
	if c.Text == "" {
		if preview, ok := m.Metadata["text_preview"].(string); ok {
			c.Text = preview
		}
	}
	if len(rest) > 0 {
		c.Metadata = rest
	}
	return c
}
