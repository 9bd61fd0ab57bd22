package vectorindex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
	"github.com/fyrsmithlabs/ingestd/internal/telemetry"
	"github.com/fyrsmithlabs/ingestd/internal/vectorstore"
)

// fakeService serves canned per-namespace results.
type fakeService struct {
	mu         sync.Mutex
	info       *vectorstore.IndexInfo
	created    []vectorstore.IndexInfo
	results    map[string][]vectorstore.Match
	failures   map[string]error
	namespaces []string
	upserts    map[string]int
	deleted    []string
	delay      time.Duration
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
	filters    []filter.Expression
}

func (f *fakeService) CreateIndex(_ context.Context, name string, dimension int, metric vectorstore.Metric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := vectorstore.IndexInfo{Name: name, Dimension: dimension, Metric: metric}
	f.created = append(f.created, info)
	f.info = &info
	return nil
}

func (f *fakeService) DescribeIndex(context.Context, string) (vectorstore.IndexInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.info == nil {
		return vectorstore.IndexInfo{}, vectorstore.ErrIndexNotFound
	}
	return *f.info, nil
}

func (f *fakeService) ListNamespaces(context.Context, string) ([]string, error) {
	return f.namespaces, nil
}

func (f *fakeService) Upsert(_ context.Context, _, namespace string, vectors []vectorstore.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upserts == nil {
		f.upserts = map[string]int{}
	}
	f.upserts[namespace] += len(vectors)
	return nil
}

func (f *fakeService) Query(_ context.Context, _, namespace string, _ []float32, topK int, expr filter.Expression) ([]vectorstore.Match, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxFlight.Load()
		if n <= peak || f.maxFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.filters = append(f.filters, expr)
	f.mu.Unlock()

	if err := f.failures[namespace]; err != nil {
		return nil, err
	}
	res := f.results[namespace]
	if len(res) > topK {
		res = res[:topK]
	}
	return res, nil
}

func (f *fakeService) DeleteNamespace(_ context.Context, _, namespace string) error {
	f.deleted = append(f.deleted, namespace)
	return nil
}

func (f *fakeService) Close() error { return nil }

func newGateway(t *testing.T, svc vectorstore.Service, limit int) *Gateway {
	t.Helper()
	g, err := New(svc, Config{Index: "ingestd", MaxConcurrency: limit}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return g
}

func ids(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{Index: "ingestd"}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)

	_, err = New(&fakeService{}, Config{Index: "Not Valid"}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidIndexName)

	g, err := New(&fakeService{}, Config{Index: "ingestd"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxConcurrency, g.limit)
}

func TestEnsureIndex(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	g := newGateway(t, svc, 0)

	require.NoError(t, g.EnsureIndex(ctx, 384, vectorstore.MetricCosine))
	require.Len(t, svc.created, 1)
	assert.Equal(t, 384, svc.created[0].Dimension)

	// Existing index with matching dimension is left alone.
	require.NoError(t, g.EnsureIndex(ctx, 384, vectorstore.MetricCosine))
	assert.Len(t, svc.created, 1)

	err := g.EnsureIndex(ctx, 768, vectorstore.MetricCosine)
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "384")
	assert.Contains(t, err.Error(), "768")
	assert.Len(t, svc.created, 1)
}

func TestUpsertReturnsCount(t *testing.T) {
	svc := &fakeService{}
	g := newGateway(t, svc, 0)

	n, err := g.Upsert(context.Background(), []vectorstore.Vector{{ID: "a"}, {ID: "b"}}, "ns")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, svc.upserts["ns"])

	n, err = g.Upsert(context.Background(), nil, "ns")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueryTagsNamespace(t *testing.T) {
	svc := &fakeService{results: map[string][]vectorstore.Match{
		"A": {{ID: "a1", Score: 0.8}, {ID: "a2", Score: 0.5}},
	}}
	g := newGateway(t, svc, 0)

	matches, err := g.Query(context.Background(), []float32{1}, 1, "A", nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, Match{ID: "a1", Score: 0.8, Namespace: "A"}, matches[0])
}

func TestScatterGather_MergesAndIsolatesFailures(t *testing.T) {
	svc := &fakeService{
		results: map[string][]vectorstore.Match{
			"A": {{ID: "A", Score: 0.9}},
			"B": {{ID: "B", Score: 0.95}},
		},
		failures: map[string]error{"C": errors.New("namespace unavailable")},
	}
	g := newGateway(t, svc, 0)

	report, err := g.ScatterGatherQuery(context.Background(), []float32{1}, 5, Selection{Namespaces: []string{"A", "B", "C"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "A"}, ids(report.Matches))
	assert.Equal(t, "B", report.Matches[0].Namespace)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "C", report.Failures[0].Namespace)
	assert.Equal(t, "namespace unavailable", report.Failures[0].Message)
	assert.Equal(t, []string{"A", "B", "C"}, report.Queried)
}

func TestScatterGather_TiesKeepNamespaceOrder(t *testing.T) {
	svc := &fakeService{results: map[string][]vectorstore.Match{
		"x": {{ID: "x1", Score: 0.5}, {ID: "x2", Score: 0.5}},
		"y": {{ID: "y1", Score: 0.5}, {ID: "y2", Score: 0.7}},
	}}
	g := newGateway(t, svc, 0)

	report, err := g.ScatterGatherQuery(context.Background(), []float32{1}, 5, Selection{Namespaces: []string{"y", "x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"y2", "y1", "x1", "x2"}, ids(report.Matches))
}

func TestScatterGather_Selection(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{
		namespaces: []string{"mongodb-files", "postgresql-data"},
		results: map[string][]vectorstore.Match{
			"mongodb-files":   {{ID: "m", Score: 0.2}},
			"postgresql-data": {{ID: "p", Score: 0.4}},
		},
	}
	g := newGateway(t, svc, 0)

	_, err := g.ScatterGatherQuery(ctx, []float32{1}, 3, Selection{})
	assert.ErrorIs(t, err, ErrNoNamespaces)

	report, err := g.ScatterGatherQuery(ctx, []float32{1}, 3, Selection{All: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "m"}, ids(report.Matches))

	report, err = g.ScatterGatherQuery(ctx, []float32{1}, 3, Selection{Namespaces: []string{"mongodb-files", "mongodb-files"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"mongodb-files"}, report.Queried)

	svc.namespaces = nil
	report, err = g.ScatterGatherQuery(ctx, []float32{1}, 3, Selection{All: true})
	require.NoError(t, err)
	assert.Empty(t, report.Matches)
}

func TestScatterGather_PassesFilterToEveryNamespace(t *testing.T) {
	svc := &fakeService{}
	g := newGateway(t, svc, 0)

	expr := filter.Eq(filter.FieldSource, "postgresql")
	_, err := g.ScatterGatherQuery(context.Background(), []float32{1}, 3, Selection{Namespaces: []string{"a", "b"}, Filter: expr})
	require.NoError(t, err)

	require.Len(t, svc.filters, 2)
	for _, f := range svc.filters {
		assert.Equal(t, expr, f)
	}
}

func TestScatterGather_BoundsConcurrency(t *testing.T) {
	svc := &fakeService{delay: 20 * time.Millisecond}
	g := newGateway(t, svc, 2)

	_, err := g.ScatterGatherQuery(context.Background(), []float32{1}, 3, Selection{Namespaces: []string{"a", "b", "c", "d", "e"}})
	require.NoError(t, err)
	assert.LessOrEqual(t, svc.maxFlight.Load(), int32(2))
}

func TestDeleteNamespace(t *testing.T) {
	svc := &fakeService{}
	g := newGateway(t, svc, 0)
	require.NoError(t, g.DeleteNamespace(context.Background(), "github-repos"))
	assert.Equal(t, []string{"github-repos"}, svc.deleted)
}

func TestGateway_WithChromem(t *testing.T) {
	ctx := context.Background()
	svc, err := vectorstore.NewChromemService(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	g := newGateway(t, svc, 0)

	require.NoError(t, g.EnsureIndex(ctx, 2, vectorstore.MetricCosine))
	_, err = g.Upsert(ctx, []vectorstore.Vector{{ID: "near", Values: []float32{1, 0}}}, "one")
	require.NoError(t, err)
	_, err = g.Upsert(ctx, []vectorstore.Vector{{ID: "far", Values: []float32{0, 1}}}, "two")
	require.NoError(t, err)

	report, err := g.ScatterGatherQuery(ctx, []float32{1, 0.1}, 1, Selection{All: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "far"}, ids(report.Matches))
	assert.Equal(t, "one", report.Matches[0].Namespace)
}

func TestScatterGather_RecordsSpan(t *testing.T) {
	tel := telemetry.NewTestTelemetry().Install()
	svc := &fakeService{
		results:  map[string][]vectorstore.Match{"A": {{ID: "A", Score: 0.9}}},
		failures: map[string]error{"B": errors.New("namespace unavailable")},
	}
	g := newGateway(t, svc, 0)

	_, err := g.ScatterGatherQuery(context.Background(), []float32{1}, 3, Selection{Namespaces: []string{"A", "B"}})
	require.NoError(t, err)

	span := tel.RequireSpan(t, "Gateway.ScatterGatherQuery")
	for key, want := range map[string]any{
		"namespace_count":   int64(2),
		"top_k":             int64(3),
		"results_count":     int64(1),
		"failed_namespaces": int64(1),
	} {
		got, ok := telemetry.SpanAttr(span, key)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
}
