// Package vectorindex is the gateway between ingestion and the vector
// index service. It owns one named index, guards its dimension, and fans
// queries out across namespaces.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
	"github.com/fyrsmithlabs/ingestd/internal/vectorstore"
)

var tracer = otel.Tracer("ingestd.vectorindex")

// DefaultMaxConcurrency bounds concurrent namespace queries.
const DefaultMaxConcurrency = 8

// ErrNoNamespaces is returned by ScatterGatherQuery when the selection
// names no namespace and does not opt in to all of them.
var ErrNoNamespaces = errors.New("no namespaces selected")

// Match is a query hit tagged with the namespace it came from.
type Match struct {
	ID        string         `json:"id"`
	Score     float32        `json:"score"`
	Metadata  map[string]any `json:"metadata"`
	Namespace string         `json:"namespace"`
}

// Selection picks the namespaces a scatter-gather query visits. All
// enumerates every namespace of the index and ignores Namespaces.
type Selection struct {
	Namespaces []string
	All        bool
	Filter     filter.Expression
}

// NamespaceFailure records a namespace whose query failed.
type NamespaceFailure struct {
	Namespace string `json:"namespace"`
	Err       error  `json:"-"`
	Message   string `json:"error"`
}

// ScatterReport is the merged result of a scatter-gather query.
type ScatterReport struct {
	Matches  []Match            `json:"matches"`
	Queried  []string           `json:"queried"`
	Failures []NamespaceFailure `json:"failures,omitempty"`
}

// Config configures a Gateway.
type Config struct {
	Index          string
	MaxConcurrency int
}

// Gateway fronts a single index of a vectorstore.Service.
type Gateway struct {
	svc    vectorstore.Service
	index  string
	limit  int
	logger *zap.Logger
}

// New creates a gateway for cfg.Index.
func New(svc vectorstore.Service, cfg Config, logger *zap.Logger) (*Gateway, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: vector index service is required", vectorstore.ErrInvalidConfig)
	}
	if err := vectorstore.ValidateIndexName(cfg.Index); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}
	return &Gateway{svc: svc, index: cfg.Index, limit: limit, logger: logger}, nil
}

// Index returns the index name.
func (g *Gateway) Index() string { return g.index }

// EnsureIndex creates the index if it is missing. An existing index with a
// different dimension is an error wrapping vectorstore.ErrDimensionMismatch;
// it is never migrated.
func (g *Gateway) EnsureIndex(ctx context.Context, dimension int, metric vectorstore.Metric) error {
	ctx, span := tracer.Start(ctx, "Gateway.EnsureIndex")
	defer span.End()

	info, err := g.svc.DescribeIndex(ctx, g.index)
	switch {
	case err == nil:
		if info.Dimension != dimension {
			err := &vectorstore.DimensionError{Index: g.index, Existing: info.Dimension, Requested: dimension}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		return nil
	case !errors.Is(err, vectorstore.ErrIndexNotFound):
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("describing index %s: %w", g.index, err)
	}

	if err := g.svc.CreateIndex(ctx, g.index, dimension, metric); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating index %s: %w", g.index, err)
	}
	g.logger.Info("created vector index",
		zap.String("index", g.index),
		zap.Int("dimension", dimension),
		zap.String("metric", string(metric)),
	)
	return nil
}

// Upsert writes vectors into namespace and returns how many were submitted.
func (g *Gateway) Upsert(ctx context.Context, vectors []vectorstore.Vector, namespace string) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	if err := g.svc.Upsert(ctx, g.index, namespace, vectors); err != nil {
		return 0, err
	}
	g.logger.Debug("upserted vectors",
		zap.String("namespace", namespace),
		zap.Int("count", len(vectors)),
	)
	return len(vectors), nil
}

// Query returns up to topK matches from one namespace, best first.
func (g *Gateway) Query(ctx context.Context, vector []float32, topK int, namespace string, expr filter.Expression) ([]Match, error) {
	raw, err := g.svc.Query(ctx, g.index, namespace, vector, topK, expr)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, len(raw))
	for i, m := range raw {
		matches[i] = Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata, Namespace: namespace}
	}
	return matches, nil
}

// ListNamespaces returns the index's namespaces, sorted.
func (g *Gateway) ListNamespaces(ctx context.Context) ([]string, error) {
	return g.svc.ListNamespaces(ctx, g.index)
}

// DeleteNamespace removes every vector in namespace.
func (g *Gateway) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := g.svc.DeleteNamespace(ctx, g.index, namespace); err != nil {
		return err
	}
	g.logger.Info("deleted namespace", zap.String("namespace", namespace))
	return nil
}

// ScatterGatherQuery queries every selected namespace concurrently, waits
// for all of them, and merges the results by descending score. Ties keep
// namespace order, then per-namespace rank. A failing namespace is logged
// and reported in Failures; it never fails the call. The merged list is not
// truncated, so it holds up to topK matches per namespace.
func (g *Gateway) ScatterGatherQuery(ctx context.Context, vector []float32, topK int, sel Selection) (*ScatterReport, error) {
	ctx, span := tracer.Start(ctx, "Gateway.ScatterGatherQuery")
	defer span.End()

	namespaces := sel.Namespaces
	if sel.All {
		var err error
		namespaces, err = g.svc.ListNamespaces(ctx, g.index)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("listing namespaces: %w", err)
		}
	}
	namespaces = dedupe(namespaces)
	if len(namespaces) == 0 {
		if sel.All {
			return &ScatterReport{Matches: []Match{}, Queried: []string{}}, nil
		}
		return nil, ErrNoNamespaces
	}

	span.SetAttributes(
		attribute.Int("namespace_count", len(namespaces)),
		attribute.Int("top_k", topK),
	)

	results := make([][]Match, len(namespaces))
	errs := make([]error, len(namespaces))

	// Per-namespace errors are collected, not returned, so no sibling is
	// canceled.
	var group errgroup.Group
	group.SetLimit(g.limit)
	for i, ns := range namespaces {
		group.Go(func() error {
			results[i], errs[i] = g.Query(ctx, vector, topK, ns, sel.Filter)
			return nil
		})
	}
	_ = group.Wait()

	report := &ScatterReport{Queried: namespaces}
	var merged []Match
	for i, ns := range namespaces {
		if errs[i] != nil {
			g.logger.Warn("namespace query failed",
				zap.String("namespace", ns),
				zap.Error(errs[i]),
			)
			report.Failures = append(report.Failures, NamespaceFailure{
				Namespace: ns,
				Err:       errs[i],
				Message:   errs[i].Error(),
			})
			continue
		}
		merged = append(merged, results[i]...)
	}
	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Score > merged[b].Score
	})
	if merged == nil {
		merged = []Match{}
	}
	report.Matches = merged

	span.SetAttributes(
		attribute.Int("results_count", len(merged)),
		attribute.Int("failed_namespaces", len(report.Failures)),
	)
	span.SetStatus(codes.Ok, "success")
	return report, nil
}

func dedupe(namespaces []string) []string {
	seen := make(map[string]struct{}, len(namespaces))
	out := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		if _, ok := seen[ns]; ok || ns == "" {
			continue
		}
		seen[ns] = struct{}{}
		out = append(out, ns)
	}
	return out
}
