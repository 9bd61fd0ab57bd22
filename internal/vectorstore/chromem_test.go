package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
)

func newTestChromem(t *testing.T) *ChromemService {
	t.Helper()
	svc, err := NewChromemService(ChromemConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestChromem_CreateAndDescribe(t *testing.T) {
	ctx := context.Background()
	svc := newTestChromem(t)

	_, err := svc.DescribeIndex(ctx, "docs")
	require.ErrorIs(t, err, ErrIndexNotFound)

	require.NoError(t, svc.CreateIndex(ctx, "docs", 3, MetricCosine))

	info, err := svc.DescribeIndex(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, IndexInfo{Name: "docs", Dimension: 3, Metric: MetricCosine}, info)

	// Same spec again is a no-op.
	require.NoError(t, svc.CreateIndex(ctx, "docs", 3, MetricCosine))

	err = svc.CreateIndex(ctx, "docs", 4, MetricCosine)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	var dimErr *DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Existing)
	assert.Equal(t, 4, dimErr.Requested)
}

func TestChromem_CreateIndexValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestChromem(t)

	assert.ErrorIs(t, svc.CreateIndex(ctx, "docs", 3, MetricEuclidean), ErrUnsupportedMetric)
	assert.ErrorIs(t, svc.CreateIndex(ctx, "Bad Name", 3, MetricCosine), ErrInvalidIndexName)
	assert.ErrorIs(t, svc.CreateIndex(ctx, "docs", 0, MetricCosine), ErrInvalidConfig)
}

func seedChromem(t *testing.T, svc *ChromemService) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.CreateIndex(ctx, "docs", 3, MetricCosine))
	require.NoError(t, svc.Upsert(ctx, "docs", "mongodb-files", []Vector{
		{ID: "a", Values: []float32{1, 0, 0}, Metadata: map[string]any{"source": "mongodb", "project": "PAY", "labels": []string{"payments"}, "text": "alpha"}},
		{ID: "b", Values: []float32{0.9, 0.1, 0}, Metadata: map[string]any{"source": "mongodb", "project": "OPS", "labels": []string{"infra"}, "text": "beta"}},
		{ID: "c", Values: []float32{0, 1, 0}, Metadata: map[string]any{"source": "mongodb", "project": "PAY", "text": "gamma"}},
	}))
	require.NoError(t, svc.Upsert(ctx, "docs", "postgresql-data", []Vector{
		{ID: "pg_orders_0", Values: []float32{0, 0, 1}, Metadata: map[string]any{"source": "postgresql", "table_name": "orders"}},
	}))
}

func TestChromem_QueryRanksAndTruncates(t *testing.T) {
	ctx := context.Background()
	svc := newTestChromem(t)
	seedChromem(t, svc)

	matches, err := svc.Query(ctx, "docs", "mongodb-files", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "b", matches[1].ID)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
	assert.Equal(t, "alpha", matches[0].Metadata["text"])
	assert.Equal(t, []any{"payments"}, matches[0].Metadata["labels"])
}

func TestChromem_QueryTopKLargerThanNamespace(t *testing.T) {
	ctx := context.Background()
	svc := newTestChromem(t)
	seedChromem(t, svc)

	matches, err := svc.Query(ctx, "docs", "postgresql-data", []float32{0, 0, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "pg_orders_0", matches[0].ID)
}

func TestChromem_QueryWithFilter(t *testing.T) {
	ctx := context.Background()
	svc := newTestChromem(t)
	seedChromem(t, svc)

	expr := filter.Build(filter.Params{Project: "PAY", Labels: []string{"payments"}})
	matches, err := svc.Query(ctx, "docs", "mongodb-files", []float32{1, 0, 0}, 5, expr)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)

	matches, err = svc.Query(ctx, "docs", "mongodb-files", []float32{0, 1, 0}, 1, filter.Eq(filter.FieldProject, "PAY"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c", matches[0].ID)
}

func TestChromem_QueryMissingNamespaceIsEmpty(t *testing.T) {
	ctx := context.Background()
	svc := newTestChromem(t)
	seedChromem(t, svc)

	matches, err := svc.Query(ctx, "docs", "nowhere", []float32{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = svc.Query(ctx, "missing", "mongodb-files", []float32{1, 0, 0}, 3, nil)
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestChromem_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	svc := newTestChromem(t)
	seedChromem(t, svc)

	require.NoError(t, svc.Upsert(ctx, "docs", "mongodb-files", []Vector{
		{ID: "a", Values: []float32{1, 0, 0}, Metadata: map[string]any{"text": "alpha v2"}},
	}))

	matches, err := svc.Query(ctx, "docs", "mongodb-files", []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
	assert.Equal(t, "alpha v2", matches[0].Metadata["text"])
}

func TestChromem_UpsertValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestChromem(t)
	require.NoError(t, svc.CreateIndex(ctx, "docs", 3, MetricCosine))

	err := svc.Upsert(ctx, "docs", "ns", []Vector{{ID: "x", Values: []float32{1, 0}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = svc.Upsert(ctx, "docs", "a::b", []Vector{{ID: "x", Values: []float32{1, 0, 0}}})
	assert.ErrorIs(t, err, ErrInvalidNamespace)

	err = svc.Upsert(ctx, "docs", "", nil)
	assert.ErrorIs(t, err, ErrInvalidNamespace)

	assert.NoError(t, svc.Upsert(ctx, "docs", "ns", nil))
}

func TestChromem_ListAndDeleteNamespaces(t *testing.T) {
	ctx := context.Background()
	svc := newTestChromem(t)
	seedChromem(t, svc)

	require.NoError(t, svc.CreateIndex(ctx, "other", 3, MetricCosine))
	require.NoError(t, svc.Upsert(ctx, "other", "elsewhere", []Vector{{ID: "z", Values: []float32{1, 1, 1}}}))

	namespaces, err := svc.ListNamespaces(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"mongodb-files", "postgresql-data"}, namespaces)

	require.NoError(t, svc.DeleteNamespace(ctx, "docs", "mongodb-files"))

	namespaces, err = svc.ListNamespaces(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"postgresql-data"}, namespaces)

	matches, err := svc.Query(ctx, "docs", "mongodb-files", []float32{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromem_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	svc, err := NewChromemService(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.CreateIndex(ctx, "docs", 2, MetricCosine))
	require.NoError(t, svc.Upsert(ctx, "docs", "ns", []Vector{{ID: "p", Values: []float32{1, 0}}}))

	reopened, err := NewChromemService(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)

	info, err := reopened.DescribeIndex(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Dimension)

	matches, err := reopened.Query(ctx, "docs", "ns", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "p", matches[0].ID)
}
