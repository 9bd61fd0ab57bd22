package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("ingestd.vectorstore.chromem")

// namespaceSeparator joins an index name and a namespace into a chromem
// collection name. Index names cannot contain it.
const namespaceSeparator = "::"

const (
	// specDocID is the registry document holding an index's dimension and metric.
	specDocID = "spec"

	// metadataKey stores the JSON-encoded vector metadata; chromem only
	// keeps string values.
	metadataKey = "_metadata"
)

var errPrecomputedOnly = errors.New("chromem: vectors must carry precomputed embeddings")

// ChromemConfig holds configuration for the chromem-go embedded index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the index
	// in memory only.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ChromemService implements Service on chromem-go.
//
// Every (index, namespace) pair is a separate collection named
// "<index>::<namespace>". The collection named after the index itself is a
// registry holding a single document with the index's dimension and metric.
// chromem has no metadata filter beyond string equality, so filter
// expressions are evaluated client-side after a similarity scan.
type ChromemService struct {
	db     *chromem.DB
	logger *zap.Logger
}

// NewChromemService opens (or creates) the chromem database.
func NewChromemService(config ChromemConfig, logger *zap.Logger) (*ChromemService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.Path == "" {
		logger.Info("chromem vector index initialized in memory")
		return &ChromemService{db: chromem.NewDB(), logger: logger}, nil
	}

	expandedPath, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expandedPath, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("chromem vector index initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
	)
	return &ChromemService{db: db, logger: logger}, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbedding keeps chromem from falling back to its OpenAI default.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errPrecomputedOnly
}

func namespaceCollection(index, namespace string) string {
	return index + namespaceSeparator + namespace
}

// CreateIndex registers the index. Only the cosine metric is supported.
// Creating an index that already exists with the same spec is a no-op.
func (s *ChromemService) CreateIndex(ctx context.Context, name string, dimension int, metric Metric) (err error) {
	ctx, c := startCall(ctx, chromemTracer, "ChromemService.CreateIndex", "chromem", "create_index",
		attribute.String("index", name),
		attribute.Int("dimension", dimension),
	)
	defer c.finish(&err)

	if err := ValidateIndexName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if metric == "" {
		metric = MetricCosine
	}
	if metric != MetricCosine {
		return fmt.Errorf("%w: chromem supports only %s, got %s", ErrUnsupportedMetric, MetricCosine, metric)
	}

	existing, err := s.describe(ctx, name)
	switch {
	case err == nil && existing.Dimension != dimension:
		return &DimensionError{Index: name, Existing: existing.Dimension, Requested: dimension}
	case err == nil:
		return nil
	case !errors.Is(err, ErrIndexNotFound):
		return err
	}

	registry, err := s.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("creating registry collection %s: %w", name, err)
	}
	err = registry.AddDocument(ctx, chromem.Document{
		ID:        specDocID,
		Content:   name,
		Embedding: []float32{1},
		Metadata: map[string]string{
			"dimension": strconv.Itoa(dimension),
			"metric":    string(metric),
		},
	})
	if err != nil {
		return fmt.Errorf("registering index %s: %w", name, err)
	}

	s.logger.Info("created chromem index",
		zap.String("index", name),
		zap.Int("dimension", dimension),
	)
	return nil
}

// DescribeIndex reads the registry document of the index.
func (s *ChromemService) DescribeIndex(ctx context.Context, name string) (info IndexInfo, err error) {
	ctx, c := startCall(ctx, chromemTracer, "ChromemService.DescribeIndex", "chromem", "describe_index",
		attribute.String("index", name))
	defer c.finish(&err)
	return s.describe(ctx, name)
}

func (s *ChromemService) describe(ctx context.Context, name string) (IndexInfo, error) {
	if err := ValidateIndexName(name); err != nil {
		return IndexInfo{}, err
	}
	registry := s.db.GetCollection(name, noEmbedding)
	if registry == nil || registry.Count() == 0 {
		return IndexInfo{}, ErrIndexNotFound
	}

	results, err := registry.QueryEmbedding(ctx, []float32{1}, 1, nil, nil)
	if err != nil {
		return IndexInfo{}, fmt.Errorf("reading index spec %s: %w", name, err)
	}
	if len(results) == 0 {
		return IndexInfo{}, ErrIndexNotFound
	}
	spec := results[0].Metadata
	dimension, err := strconv.Atoi(spec["dimension"])
	if err != nil {
		return IndexInfo{}, fmt.Errorf("corrupt index spec %s: %w", name, err)
	}
	return IndexInfo{Name: name, Dimension: dimension, Metric: Metric(spec["metric"])}, nil
}

// ListNamespaces returns the non-empty namespaces of the index, sorted.
func (s *ChromemService) ListNamespaces(ctx context.Context, name string) (namespaces []string, err error) {
	_, c := startCall(ctx, chromemTracer, "ChromemService.ListNamespaces", "chromem", "list_namespaces",
		attribute.String("index", name))
	defer c.finish(&err)

	if err := ValidateIndexName(name); err != nil {
		return nil, err
	}

	prefix := name + namespaceSeparator
	for collName, coll := range s.db.ListCollections() {
		if ns, ok := strings.CutPrefix(collName, prefix); ok && coll.Count() > 0 {
			namespaces = append(namespaces, ns)
		}
	}
	sort.Strings(namespaces)
	c.span.SetAttributes(attribute.Int("namespace_count", len(namespaces)))
	return namespaces, nil
}

// Upsert adds or overwrites vectors in the namespace collection.
func (s *ChromemService) Upsert(ctx context.Context, name, namespace string, vectors []Vector) (err error) {
	ctx, c := startCall(ctx, chromemTracer, "ChromemService.Upsert", "chromem", "upsert",
		attribute.String("index", name),
		attribute.String("namespace", namespace),
		attribute.Int("vector_count", len(vectors)),
	)
	defer c.finish(&err)

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	info, err := s.describe(ctx, name)
	if err != nil {
		return err
	}
	if err := checkDimensions(vectors, info.Dimension); err != nil {
		return err
	}

	docs := make([]chromem.Document, len(vectors))
	for i, v := range vectors {
		if docs[i], err = toDocument(v); err != nil {
			return err
		}
	}

	collection, err := s.db.GetOrCreateCollection(namespaceCollection(name, namespace), nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("getting namespace collection %s/%s: %w", name, namespace, err)
	}
	// Embeddings are precomputed, so one worker is enough.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents to %s/%s: %w", name, namespace, err)
	}

	vectorsWritten.WithLabelValues("chromem").Add(float64(len(vectors)))
	s.logger.Debug("upserted vectors to chromem",
		zap.String("index", name),
		zap.String("namespace", namespace),
		zap.Int("count", len(vectors)),
	)
	return nil
}

// Query scans the namespace collection by similarity. With a filter the
// whole collection is ranked and matches are evaluated client-side before
// truncating to topK.
func (s *ChromemService) Query(ctx context.Context, name, namespace string, vector []float32, topK int, expr filter.Expression) (matches []Match, err error) {
	ctx, c := startCall(ctx, chromemTracer, "ChromemService.Query", "chromem", "query",
		attribute.String("index", name),
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)
	defer c.finish(&err)

	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if _, err := s.describe(ctx, name); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	collection := s.db.GetCollection(namespaceCollection(name, namespace), noEmbedding)
	if collection == nil || collection.Count() == 0 {
		return []Match{}, nil
	}
	n := collection.Count()
	if expr == nil {
		n = min(topK, n)
	}

	results, err := collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s/%s: %w", name, namespace, err)
	}

	matches = make([]Match, 0, min(topK, len(results)))
	for _, r := range results {
		metadata, err := documentMetadata(r.ID, r.Metadata)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(expr, metadata) {
			continue
		}
		matches = append(matches, Match{ID: r.ID, Score: r.Similarity, Metadata: metadata})
		if len(matches) == topK {
			break
		}
	}
	c.span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// DeleteNamespace drops the namespace collection.
func (s *ChromemService) DeleteNamespace(ctx context.Context, name, namespace string) (err error) {
	_, c := startCall(ctx, chromemTracer, "ChromemService.DeleteNamespace", "chromem", "delete_namespace",
		attribute.String("index", name),
		attribute.String("namespace", namespace),
	)
	defer c.finish(&err)

	if err := ValidateIndexName(name); err != nil {
		return err
	}
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(namespaceCollection(name, namespace)); err != nil {
		return fmt.Errorf("deleting namespace %s/%s: %w", name, namespace, err)
	}

	s.logger.Info("deleted chromem namespace",
		zap.String("index", name),
		zap.String("namespace", namespace),
	)
	return nil
}

// toDocument JSON-encodes the metadata into the single string value chromem
// keeps. The "text" field doubles as the document content.
func toDocument(v Vector) (chromem.Document, error) {
	encoded, err := json.Marshal(v.Metadata)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("encoding metadata of %s: %w", v.ID, err)
	}
	content, _ := v.Metadata["text"].(string)
	return chromem.Document{
		ID:        v.ID,
		Content:   content,
		Embedding: v.Values,
		Metadata:  map[string]string{metadataKey: string(encoded)},
	}, nil
}

func documentMetadata(id string, stored map[string]string) (map[string]any, error) {
	metadata := map[string]any{}
	raw, ok := stored[metadataKey]
	if !ok {
		return metadata, nil
	}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata of %s: %w", id, err)
	}
	return metadata, nil
}

// Close is a no-op; persistent databases write through on every change.
func (s *ChromemService) Close() error {
	s.logger.Info("chromem vector index closed")
	return nil
}

var (
	_ Service = (*ChromemService)(nil)
	_ Service = (*QdrantService)(nil)
)
