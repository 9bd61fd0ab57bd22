package vectorstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("ingestd.vectorstore.qdrant")

// Payload keys reserved by the Qdrant backend.
const (
	payloadNamespace = "namespace"
	payloadID        = "id"
)

// pointIDSpace seeds the UUIDv5 point IDs derived from (namespace, id).
var pointIDSpace = uuid.MustParse("6f1c7f0e-2b7a-4c2e-9a39-5d1b7e0c9a41")

// upsertBatchSize bounds the number of points per Upsert call.
const upsertBatchSize = 100

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry.
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before opening circuit.
	// Default: 5
	CircuitBreakerThreshold int

	// NamespaceLimit caps the number of namespaces ListNamespaces reports.
	// Default: 10000
	NamespaceLimit uint64
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.NamespaceLimit == 0 {
		c.NamespaceLimit = 10000
	}
}

// QdrantService implements Service on Qdrant's native gRPC client.
//
// Each index is one collection. Namespaces are a keyword-indexed payload
// field, so a namespace query is a filtered search and namespace enumeration
// is a facet count over that field. Point IDs are UUIDv5 values derived
// from (namespace, id); the caller's ID is kept in the payload.
type QdrantService struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
	retry  *retrier

	// dimensions caches the vector size of each known index.
	dimensions sync.Map
}

// NewQdrantService connects to Qdrant and verifies the connection with a
// health check.
func NewQdrantService(config QdrantConfig, logger *zap.Logger) (*QdrantService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant vector index connected",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
	)
	return &QdrantService{
		client: client,
		config: config,
		logger: logger,
		retry:  newRetrier(config.MaxRetries, config.RetryBackoff, config.CircuitBreakerThreshold, logger),
	}, nil
}

// Close closes the gRPC connection.
func (s *QdrantService) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// CreateIndex creates a collection and the keyword index on the namespace
// payload field.
func (s *QdrantService) CreateIndex(ctx context.Context, name string, dimension int, metric Metric) (err error) {
	ctx, c := startCall(ctx, tracer, "QdrantService.CreateIndex", "qdrant", "create_index",
		attribute.String("index", name),
		attribute.Int("dimension", dimension),
		attribute.String("metric", string(metric)),
	)
	defer c.finish(&err)

	if err := ValidateIndexName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	distance, err := toDistance(metric)
	if err != nil {
		return err
	}

	err = s.retry.do(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: distance,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	err = s.retry.do(ctx, "create_namespace_index", func() error {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      payloadNamespace,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("indexing namespace field of %s: %w", name, err)
	}

	s.dimensions.Store(name, dimension)
	s.logger.Info("created qdrant collection",
		zap.String("index", name),
		zap.Int("dimension", dimension),
		zap.String("metric", string(metric)),
	)
	return nil
}

// DescribeIndex reports the configured dimension and metric of a collection.
func (s *QdrantService) DescribeIndex(ctx context.Context, name string) (info IndexInfo, err error) {
	ctx, c := startCall(ctx, tracer, "QdrantService.DescribeIndex", "qdrant", "describe_index",
		attribute.String("index", name))
	defer c.finish(&err)

	if err := ValidateIndexName(name); err != nil {
		return IndexInfo{}, err
	}

	var coll *qdrant.CollectionInfo
	err = s.retry.do(ctx, "get_collection_info", func() error {
		var err error
		coll, err = s.client.GetCollectionInfo(ctx, name)
		return err
	})
	switch {
	case isNotFound(err):
		return IndexInfo{}, ErrIndexNotFound
	case err != nil:
		return IndexInfo{}, fmt.Errorf("describing collection %s: %w", name, err)
	}

	params := coll.GetConfig().GetParams().GetVectorsConfig().GetParams()
	info = IndexInfo{
		Name:      name,
		Dimension: int(params.GetSize()),
		Metric:    fromDistance(params.GetDistance()),
	}
	s.dimensions.Store(name, info.Dimension)
	c.span.SetAttributes(attribute.Int("dimension", info.Dimension))
	return info, nil
}

// ListNamespaces facets the namespace payload field.
func (s *QdrantService) ListNamespaces(ctx context.Context, name string) (namespaces []string, err error) {
	ctx, c := startCall(ctx, tracer, "QdrantService.ListNamespaces", "qdrant", "list_namespaces",
		attribute.String("index", name))
	defer c.finish(&err)

	if err := ValidateIndexName(name); err != nil {
		return nil, err
	}

	err = s.retry.do(ctx, "facet_namespaces", func() error {
		hits, err := s.client.Facet(ctx, &qdrant.FacetCounts{
			CollectionName: name,
			Key:            payloadNamespace,
			Limit:          qdrant.PtrOf(s.config.NamespaceLimit),
		})
		if err != nil {
			return err
		}
		namespaces = namespaces[:0]
		for _, hit := range hits {
			if ns := hit.GetValue().GetStringValue(); ns != "" && hit.GetCount() > 0 {
				namespaces = append(namespaces, ns)
			}
		}
		return nil
	})
	switch {
	case isNotFound(err):
		return nil, ErrIndexNotFound
	case err != nil:
		return nil, fmt.Errorf("listing namespaces of %s: %w", name, err)
	}

	sort.Strings(namespaces)
	c.span.SetAttributes(attribute.Int("namespace_count", len(namespaces)))
	return namespaces, nil
}

// Upsert writes vectors in batches, waiting for each batch to be applied.
func (s *QdrantService) Upsert(ctx context.Context, name, namespace string, vectors []Vector) (err error) {
	ctx, c := startCall(ctx, tracer, "QdrantService.Upsert", "qdrant", "upsert",
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
	dimension, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}
	if err := checkDimensions(vectors, dimension); err != nil {
		return err
	}

	for batch := range slices.Chunk(vectors, upsertBatchSize) {
		points := make([]*qdrant.PointStruct, len(batch))
		for i, v := range batch {
			points[i] = toPoint(namespace, v)
		}
		err := s.retry.do(ctx, "upsert", func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Wait:           qdrant.PtrOf(true),
				Points:         points,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("upserting points to %s/%s: %w", name, namespace, err)
		}
	}

	vectorsWritten.WithLabelValues("qdrant").Add(float64(len(vectors)))
	return nil
}

// Query runs a filtered nearest-neighbour search restricted to a namespace.
func (s *QdrantService) Query(ctx context.Context, name, namespace string, vector []float32, topK int, expr filter.Expression) (matches []Match, err error) {
	ctx, c := startCall(ctx, tracer, "QdrantService.Query", "qdrant", "query",
		attribute.String("index", name),
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)
	defer c.finish(&err)

	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	var points []*qdrant.ScoredPoint
	err = s.retry.do(ctx, "query", func() error {
		var err error
		points, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         toQdrantFilter(namespace, expr),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s/%s: %w", name, namespace, err)
	}

	matches = make([]Match, len(points))
	for i, p := range points {
		matches[i] = fromPoint(p)
	}
	c.span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// DeleteNamespace deletes every point whose namespace payload matches.
func (s *QdrantService) DeleteNamespace(ctx context.Context, name, namespace string) (err error) {
	ctx, c := startCall(ctx, tracer, "QdrantService.DeleteNamespace", "qdrant", "delete_namespace",
		attribute.String("index", name),
		attribute.String("namespace", namespace),
	)
	defer c.finish(&err)

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	err = s.retry.do(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: toQdrantFilter(namespace, nil),
				},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting namespace %s/%s: %w", name, namespace, err)
	}

	s.logger.Info("deleted qdrant namespace",
		zap.String("index", name),
		zap.String("namespace", namespace),
	)
	return nil
}

func (s *QdrantService) dimension(ctx context.Context, name string) (int, error) {
	if d, ok := s.dimensions.Load(name); ok {
		return d.(int), nil
	}
	info, err := s.DescribeIndex(ctx, name)
	if err != nil {
		return 0, err
	}
	return info.Dimension, nil
}

// toPoint stores v under its derived point ID with the caller ID and the
// namespace in reserved payload keys.
func toPoint(namespace string, v Vector) *qdrant.PointStruct {
	payload := toPayload(v.Metadata)
	payload[payloadID] = qdrant.NewValueString(v.ID)
	payload[payloadNamespace] = qdrant.NewValueString(namespace)
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(PointID(namespace, v.ID)),
		Vectors: qdrant.NewVectors(v.Values...),
		Payload: payload,
	}
}

// fromPoint strips the reserved payload keys back out of a hit.
func fromPoint(p *qdrant.ScoredPoint) Match {
	metadata := fromPayload(p.GetPayload())
	id, _ := metadata[payloadID].(string)
	delete(metadata, payloadID)
	delete(metadata, payloadNamespace)
	return Match{ID: id, Score: p.GetScore(), Metadata: metadata}
}

// PointID derives the Qdrant point UUID for a vector ID within a namespace.
func PointID(namespace, id string) string {
	return uuid.NewSHA1(pointIDSpace, []byte(namespace+"/"+id)).String()
}

func toDistance(m Metric) (qdrant.Distance, error) {
	switch m {
	case MetricCosine, "":
		return qdrant.Distance_Cosine, nil
	case MetricEuclidean:
		return qdrant.Distance_Euclid, nil
	case MetricDotProduct:
		return qdrant.Distance_Dot, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMetric, m)
	}
}

func fromDistance(d qdrant.Distance) Metric {
	switch d {
	case qdrant.Distance_Euclid:
		return MetricEuclidean
	case qdrant.Distance_Dot:
		return MetricDotProduct
	default:
		return MetricCosine
	}
}

// toQdrantFilter restricts to namespace and, when expr is non-nil, to expr.
func toQdrantFilter(namespace string, expr filter.Expression) *qdrant.Filter {
	must := []*qdrant.Condition{keywordCondition(payloadNamespace, namespace)}
	if expr != nil {
		must = append(must, toCondition(expr))
	}
	return &qdrant.Filter{Must: must}
}

func toCondition(expr filter.Expression) *qdrant.Condition {
	switch e := expr.(type) {
	case filter.Leaf:
		if e.Op == filter.OpIn {
			return &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: e.Field,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keywords{
								Keywords: &qdrant.RepeatedStrings{Strings: e.Values()},
							},
						},
					},
				},
			}
		}
		values := e.Values()
		value := ""
		if len(values) > 0 {
			value = values[0]
		}
		return keywordCondition(e.Field, value)
	case filter.And:
		return nestedCondition(&qdrant.Filter{Must: toConditions(e.Children)})
	case filter.Or:
		return nestedCondition(&qdrant.Filter{Should: toConditions(e.Children)})
	default:
		panic(fmt.Sprintf("vectorstore: unknown filter expression %T", expr))
	}
}

func toConditions(children []filter.Expression) []*qdrant.Condition {
	out := make([]*qdrant.Condition, len(children))
	for i, c := range children {
		out[i] = toCondition(c)
	}
	return out
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func nestedCondition(f *qdrant.Filter) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Filter{Filter: f},
	}
}

// toPayload converts metadata into Qdrant values. Unsupported types are
// stored as their string form.
func toPayload(metadata map[string]any) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata)+2)
	for k, v := range metadata {
		if v == nil {
			continue
		}
		payload[k] = toValue(v)
	}
	return payload
}

func toValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int32:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case time.Time:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val.UTC().Format(time.RFC3339Nano)}}
	case []string:
		values := make([]*qdrant.Value, len(val))
		for i, s := range val {
			values[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	case []any:
		values := make([]*qdrant.Value, 0, len(val))
		for _, item := range val {
			if item != nil {
				values = append(values, toValue(item))
			}
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	case map[string]any:
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: toPayload(val)}}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprint(val)}}
	}
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if val, ok := fromValue(v); ok {
			out[k] = val
		}
	}
	return out
}

func fromValue(v *qdrant.Value) (any, bool) {
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue, true
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue, true
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue, true
	case *qdrant.Value_BoolValue:
		return val.BoolValue, true
	case *qdrant.Value_ListValue:
		items := make([]any, 0, len(val.ListValue.GetValues()))
		for _, item := range val.ListValue.GetValues() {
			if x, ok := fromValue(item); ok {
				items = append(items, x)
			}
		}
		return items, true
	case *qdrant.Value_StructValue:
		return fromPayload(val.StructValue.GetFields()), true
	default:
		return nil, false
	}
}
