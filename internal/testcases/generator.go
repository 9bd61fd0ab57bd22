package testcases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ingestd/internal/llm"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/workitems"
)

var tracer = otel.Tracer("ingestd.testcases")

var (
	storiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingestd",
		Subsystem: "testcases",
		Name:      "stories_total",
		Help:      "Stories processed by result: generated, empty or error.",
	}, []string{"result"})

	casesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestd",
		Subsystem: "testcases",
		Name:      "generated_total",
		Help:      "Test cases kept after normalization.",
	})
)

const (
	DefaultLimit       = 1
	DefaultOutputDir   = "output"
	DefaultConcurrency = 4
)

var (
	// ErrNoChunks is recorded on a story whose retrieval found nothing.
	ErrNoChunks = errors.New("no retrieved chunks for story")

	// ErrIncompleteContext is recorded when the model leaves the intent or
	// goal of a story empty.
	ErrIncompleteContext = errors.New("structured context is missing intent or goal")
)

// LabelRetriever fetches the work items matching a label with their
// retrieved chunks. *retrieval.Service implements it.
type LabelRetriever interface {
	ContextForLabel(ctx context.Context, label string, topK int) (*retrieval.LabelContext, error)
}

// Config holds generator defaults.
type Config struct {
	// OutputDir receives one CSV per story. Empty disables file output.
	OutputDir   string
	FixVersion  string
	Limit       int
	TopK        int
	Concurrency int
}

// Generator runs label retrieval, context reasoning and case generation.
type Generator struct {
	retriever LabelRetriever
	llm       llm.JSONCompleter
	cfg       Config
	logger    *zap.Logger
}

// New creates a Generator. Zero Limit and Concurrency take their defaults.
func New(retriever LabelRetriever, model llm.JSONCompleter, cfg Config, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Generator{retriever: retriever, llm: model, cfg: cfg, logger: logger}
}

// Request selects the stories to generate for.
type Request struct {
	Label      string `json:"label"`
	Limit      int    `json:"limit,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
	FixVersion string `json:"fix_version,omitempty"`
}

// Story statuses.
const (
	StatusGenerated = "generated"
	StatusEmpty     = "empty"
	StatusError     = "error"
)

// StoryResult is the outcome for one story. A story that fails carries its
// error and no cases; the other stories are unaffected. An empty story had
// nothing testable and still gets a header-only CSV.
type StoryResult struct {
	Key        string             `json:"jira_key"`
	Status     string             `json:"status"`
	Summary    string             `json:"summary,omitempty"`
	Count      int                `json:"testcases_count"`
	OutputFile string             `json:"output_file,omitempty"`
	Context    *StructuredContext `json:"structured_context,omitempty"`
	TestCases  []TestCase         `json:"test_cases"`
	Error      string             `json:"error,omitempty"`
}

// Result holds one StoryResult per processed story, in retrieval order.
// Success is false when any story ended in StatusError.
type Result struct {
	Label   string        `json:"label"`
	Success bool          `json:"success"`
	Results []StoryResult `json:"results"`
}

// Generate processes up to Limit stories matching req.Label. Retrieval
// errors, including retrieval.ErrNoWorkItems, are returned as is.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Generator.Generate")
	defer span.End()

	if g.llm == nil {
		return nil, retrieval.ErrNoLLM
	}
	if strings.TrimSpace(req.Label) == "" {
		return nil, retrieval.ErrEmptyQuery
	}
	limit := req.Limit
	if limit <= 0 {
		limit = g.cfg.Limit
	}
	topK := req.TopK
	if topK <= 0 {
		topK = g.cfg.TopK
	}
	fixVersion := req.FixVersion
	if fixVersion == "" {
		fixVersion = g.cfg.FixVersion
	}

	lc, err := g.retriever.ContextForLabel(ctx, req.Label, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}
	items := lc.Items[:min(limit, len(lc.Items))]
	span.SetAttributes(
		attribute.String("label", req.Label),
		attribute.Int("stories", len(items)),
	)

	out := &Result{Label: req.Label, Success: true, Results: make([]StoryResult, len(items))}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, ic := range items {
		eg.Go(func() error {
			out.Results[i] = g.story(egCtx, ic, fixVersion)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, r := range out.Results {
		if r.Status == StatusError {
			out.Success = false
		}
	}
	g.logger.Info("test cases generated",
		zap.String("label", req.Label),
		zap.Int("stories", len(out.Results)),
		zap.Bool("success", out.Success),
	)
	return out, nil
}

// story runs both model calls for one item and writes its CSV.
func (g *Generator) story(ctx context.Context, ic retrieval.ItemContext, fixVersion string) StoryResult {
	res := StoryResult{Key: ic.Item.Key, Summary: ic.Item.Summary, TestCases: []TestCase{}}
	logger := g.logger.With(zap.String("story", ic.Item.Key))

	cases, sc, err := g.generateStory(ctx, ic, fixVersion)
	res.Context = sc
	switch {
	case errors.Is(err, ErrNoChunks), errors.Is(err, ErrIncompleteContext):
		logger.Warn("no test cases for story", zap.Error(err))
		res.Status = StatusEmpty
		res.Error = err.Error()
	case err != nil:
		logger.Error("test case generation failed", zap.Error(err))
		res.Status = StatusError
		res.Error = err.Error()
		storiesTotal.WithLabelValues(StatusError).Inc()
		return res
	default:
		res.Status = StatusGenerated
		res.TestCases = cases
		res.Count = len(cases)
		casesTotal.Add(float64(len(cases)))
	}

	if g.cfg.OutputDir != "" {
		path, err := WriteFile(g.cfg.OutputDir, ic.Item.Key, res.TestCases)
		if err != nil {
			logger.Error("writing test cases failed", zap.Error(err))
			res.Status = StatusError
			res.Error = err.Error()
			storiesTotal.WithLabelValues(StatusError).Inc()
			return res
		}
		res.OutputFile = path
	}
	storiesTotal.WithLabelValues(res.Status).Inc()
	return res
}

func (g *Generator) generateStory(ctx context.Context, ic retrieval.ItemContext, fixVersion string) ([]TestCase, *StructuredContext, error) {
	if len(ic.Chunks) == 0 {
		return nil, nil, ErrNoChunks
	}

	sc, err := g.BuildContext(ctx, ic.Item, ic.Chunks)
	if err != nil {
		return nil, sc, err
	}
	cases, err := g.GenerateCases(ctx, ic.Item, sc, fixVersion)
	return cases, sc, err
}

// BuildContext asks the model for the structured context of item. Evidence
// that does not cite one of chunks is dropped.
func (g *Generator) BuildContext(ctx context.Context, item workitems.WorkItem, chunks []retrieval.Chunk) (*StructuredContext, error) {
	ctx, span := tracer.Start(ctx, "Generator.BuildContext")
	defer span.End()

	prompt, err := contextPrompt(item, chunks)
	if err != nil {
		return nil, err
	}
	var sc StructuredContext
	if err := llm.DecodeJSON(ctx, g.llm, contextSystem, prompt, contextMaxTokens, &sc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context reasoning failed")
		return nil, fmt.Errorf("building context for %s: %w", item.Key, err)
	}

	known := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		known[c.ID] = true
	}
	if dropped := sc.normalize(known); dropped > 0 {
		g.logger.Debug("dropped ungrounded evidence",
			zap.String("story", item.Key),
			zap.Int("refs", dropped),
		)
	}
	if !sc.complete() {
		return &sc, fmt.Errorf("%s: %w", item.Key, ErrIncompleteContext)
	}
	return &sc, nil
}

// GenerateCases asks the model for test cases derived from sc.
func (g *Generator) GenerateCases(ctx context.Context, item workitems.WorkItem, sc *StructuredContext, fixVersion string) ([]TestCase, error) {
	ctx, span := tracer.Start(ctx, "Generator.GenerateCases")
	defer span.End()

	prompt, err := casesPrompt(item, sc, fixVersion)
	if err != nil {
		return nil, err
	}
	var list testCaseList
	if err := llm.DecodeJSON(ctx, g.llm, casesSystem, prompt, casesMaxTokens, &list); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "case generation failed")
		return nil, fmt.Errorf("generating cases for %s: %w", item.Key, err)
	}

	cases := normalizeCases(item.Key, fixVersion, storyPriority(item.Priority), list.TestCases)
	span.SetAttributes(
		attribute.Int("proposed", len(list.TestCases)),
		attribute.Int("kept", len(cases)),
	)
	return cases, nil
}
