// Package vectorstore defines the vector index service used by the gateway
// and provides Qdrant and chromem-go implementations of it.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
)

// Sentinel errors for vector index operations.
var (
	// ErrIndexNotFound is returned when the named index does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidIndexName indicates index name validation failure.
	ErrInvalidIndexName = errors.New("invalid index name")

	// ErrInvalidNamespace indicates namespace validation failure.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrUnsupportedMetric is returned for a distance metric the backend
	// cannot provide.
	ErrUnsupportedMetric = errors.New("unsupported metric")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector index")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the dimension the index was created with.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Metric is the similarity metric of an index.
type Metric string

// Supported metrics. Names follow the hosted-index convention.
const (
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
	MetricDotProduct Metric = "dotproduct"
)

// ParseMetric validates a metric name. The empty string maps to cosine.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(s)); m {
	case "":
		return MetricCosine, nil
	case MetricCosine, MetricEuclidean, MetricDotProduct:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMetric, s)
	}
}

// IndexInfo describes an existing index.
type IndexInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    Metric `json:"metric"`
}

// Vector is one embedding with its metadata, addressed by ID within a
// namespace.
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Match is one query hit. Higher scores are more similar.
type Match struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Service is a vector index service holding named indexes, each partitioned
// into namespaces.
//
// Implementations must be safe for concurrent use. Upserting an existing ID
// in a namespace replaces it.
type Service interface {
	// CreateIndex creates an index. Creating an index that already exists
	// is an error; callers check with DescribeIndex first.
	CreateIndex(ctx context.Context, name string, dimension int, metric Metric) error

	// DescribeIndex returns ErrIndexNotFound when the index does not exist.
	DescribeIndex(ctx context.Context, name string) (IndexInfo, error)

	// ListNamespaces returns the namespaces holding at least one vector,
	// sorted by name.
	ListNamespaces(ctx context.Context, name string) ([]string, error)

	// Upsert writes vectors into one namespace.
	Upsert(ctx context.Context, name, namespace string, vectors []Vector) error

	// Query returns up to topK nearest vectors in one namespace, best first,
	// restricted to those whose metadata satisfies expr (nil for all).
	Query(ctx context.Context, name, namespace string, vector []float32, topK int, expr filter.Expression) ([]Match, error)

	// DeleteNamespace removes every vector in a namespace.
	DeleteNamespace(ctx context.Context, name, namespace string) error

	// Close releases backend resources.
	Close() error
}

// indexNamePattern validates index names: lowercase letters, digits, '_' and
// '-', 1-64 characters.
var indexNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateIndexName validates an index name.
func ValidateIndexName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: index name cannot be empty", ErrInvalidIndexName)
	}
	if !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: index name must match %s, got %q", ErrInvalidIndexName, indexNamePattern, name)
	}
	return nil
}

// ValidateNamespace rejects empty namespaces and namespaces containing the
// separator used for chromem collection names.
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("%w: namespace cannot be empty", ErrInvalidNamespace)
	}
	if strings.Contains(namespace, namespaceSeparator) {
		return fmt.Errorf("%w: namespace must not contain %q", ErrInvalidNamespace, namespaceSeparator)
	}
	return nil
}

func checkDimensions(vectors []Vector, dimension int) error {
	for _, v := range vectors {
		if len(v.Values) != dimension {
			return fmt.Errorf("%w: vector %q has %d values, index expects %d",
				ErrDimensionMismatch, v.ID, len(v.Values), dimension)
		}
	}
	return nil
}

// DimensionError reports an index whose configured dimension differs from
// the requested one. Indexes are never migrated.
type DimensionError struct {
	Index     string
	Existing  int
	Requested int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("index %s has dimension %d, requested %d", e.Index, e.Existing, e.Requested)
}

// Unwrap makes DimensionError match ErrDimensionMismatch.
func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }
