package tableindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
	"github.com/fyrsmithlabs/ingestd/internal/logging"
	"github.com/fyrsmithlabs/ingestd/internal/sqlstore"
	"github.com/fyrsmithlabs/ingestd/internal/vectorindex"
	"github.com/fyrsmithlabs/ingestd/internal/vectorstore"
)

// hashEmbedder maps each text to a deterministic 4-dimensional vector.
type hashEmbedder struct {
	calls int
	err   error
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 4)
		for j, r := range t {
			v[j%4] += float32(r % 7)
		}
		v[3] += 1
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) Dimension() int { return 4 }

type recordingIndex struct {
	upserts   [][]vectorstore.Vector
	namespace string
	err       error
	expr      filter.Expression
}

func (r *recordingIndex) Upsert(_ context.Context, vectors []vectorstore.Vector, namespace string) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.upserts = append(r.upserts, vectors)
	r.namespace = namespace
	return len(vectors), nil
}

func (r *recordingIndex) Query(_ context.Context, _ []float32, _ int, _ string, expr filter.Expression) ([]vectorindex.Match, error) {
	r.expr = expr
	return nil, nil
}

func newTestDB(t *testing.T, rows int) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.DB().Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, city TEXT, note TEXT)`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`CREATE TABLE empty_table (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`CREATE TABLE audit_log (id INTEGER PRIMARY KEY, event TEXT)`)
	require.NoError(t, err)
	for i := 1; i <= rows; i++ {
		_, err = s.DB().Exec(`INSERT INTO customers (id, name, city, note) VALUES (?, ?, ?, NULL)`,
			i, fmt.Sprintf("customer-%d", i), "Lisbon")
		require.NoError(t, err)
	}
	return s
}

func fixedClock(ix *Indexer) {
	ix.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }
}

func TestIndexTable_NoRows(t *testing.T) {
	db := newTestDB(t, 0)
	emb := &hashEmbedder{}
	idx := &recordingIndex{}
	ix := New(db, emb, idx, nil)

	r := ix.IndexTable(context.Background(), "customers", Options{})

	assert.Equal(t, StatusSuccess, r.Status)
	assert.Equal(t, "No data found in table", r.Message)
	assert.Zero(t, r.RowsProcessed)
	assert.Zero(t, r.VectorsUpserted)
	assert.Zero(t, emb.calls)
	assert.Empty(t, idx.upserts)
}

func TestIndexTable_TwelveRows(t *testing.T) {
	db := newTestDB(t, 12)
	emb := &hashEmbedder{}
	idx := &recordingIndex{}
	ix := New(db, emb, idx, nil)
	fixedClock(ix)

	r := ix.IndexTable(context.Background(), "customers", Options{ChunkSize: 5})

	require.Equal(t, StatusSuccess, r.Status, r.Error)
	assert.Equal(t, 12, r.RowsProcessed)
	assert.Equal(t, 3, r.ChunksCreated)
	assert.Equal(t, 3, r.VectorsUpserted)
	assert.Equal(t, DefaultNamespace, r.Namespace)
	assert.Equal(t, "Successfully indexed 12 rows into 3 vectors", r.Message)
	assert.Equal(t, 1, emb.calls, "batches embed in one call")

	require.Len(t, idx.upserts, 1)
	vectors := idx.upserts[0]
	require.Len(t, vectors, 3)
	assert.Equal(t, DefaultNamespace, idx.namespace)

	counts := []int{5, 5, 2}
	for i, v := range vectors {
		assert.Equal(t, fmt.Sprintf("pg_customers_%d_2024-03-09T14-05-07Z", i), v.ID)
		assert.Equal(t, counts[i], v.Metadata["row_count"])
		assert.Equal(t, "postgresql", v.Metadata["source"])
		assert.Equal(t, "customers", v.Metadata["table_name"])
		assert.Equal(t, "2024-03-09T14:05:07Z", v.Metadata["indexed_at"])
		assert.Len(t, v.Values, 4)
	}
	assert.Equal(t, []string{"11", "12"}, vectors[2].Metadata["row_ids"])
}

func TestIndexTable_Limit(t *testing.T) {
	db := newTestDB(t, 12)
	ix := New(db, &hashEmbedder{}, &recordingIndex{}, nil)

	r := ix.IndexTable(context.Background(), "customers", Options{Limit: 7, Namespace: "crm"})
	require.Equal(t, StatusSuccess, r.Status)
	assert.Equal(t, 7, r.RowsProcessed)
	assert.Equal(t, 2, r.ChunksCreated)
	assert.Equal(t, "crm", r.Namespace)
}

func TestIndexTable_LogsTableContext(t *testing.T) {
	logs := logging.NewTestLogger()
	db := newTestDB(t, 3)

	New(db, &hashEmbedder{}, &recordingIndex{}, logs.Underlying()).IndexTable(context.Background(), "customers", Options{})
	fields := logging.Fields(logs.RequireEntry(t, zapcore.InfoLevel, "table indexed"))
	assert.Equal(t, "customers", fields["table"])
	assert.Equal(t, DefaultNamespace, fields["namespace"])
	assert.Equal(t, int64(3), fields["rows"])

	New(db, &hashEmbedder{}, &recordingIndex{}, logs.Underlying()).IndexTable(context.Background(), "nope", Options{})
	fields = logging.Fields(logs.RequireEntry(t, zapcore.WarnLevel, "table indexing failed"))
	assert.Equal(t, "nope", fields["table"])
}

func TestIndexTable_Failures(t *testing.T) {
	db := newTestDB(t, 3)
	ctx := context.Background()

	t.Run("unknown table", func(t *testing.T) {
		r := New(db, &hashEmbedder{}, &recordingIndex{}, nil).IndexTable(ctx, "nope", Options{})
		assert.Equal(t, StatusError, r.Status)
		assert.Contains(t, r.Error, "table not found")
	})

	t.Run("embedding", func(t *testing.T) {
		idx := &recordingIndex{}
		r := New(db, &hashEmbedder{err: errors.New("tei down")}, idx, nil).IndexTable(ctx, "customers", Options{})
		assert.Equal(t, StatusError, r.Status)
		assert.Contains(t, r.Error, "tei down")
		assert.Empty(t, idx.upserts)
	})

	t.Run("upsert", func(t *testing.T) {
		r := New(db, &hashEmbedder{}, &recordingIndex{err: errors.New("unavailable")}, nil).IndexTable(ctx, "customers", Options{})
		assert.Equal(t, StatusError, r.Status)
		assert.Contains(t, r.Error, "unavailable")
	})
}

func TestIndexAllTables(t *testing.T) {
	db := newTestDB(t, 6)
	idx := &recordingIndex{}
	ix := New(db, &hashEmbedder{}, idx, nil)

	res, err := ix.IndexAllTables(context.Background(), AllOptions{ExcludeTables: []string{"audit_log"}})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.TablesProcessed)
	assert.Equal(t, 6, res.TotalRows)
	assert.Equal(t, 2, res.TotalChunks)
	assert.Equal(t, 2, res.TotalVectors)

	names := make([]string, len(res.TableResults))
	for i, r := range res.TableResults {
		names[i] = r.TableName
	}
	assert.Equal(t, []string{"customers", "empty_table"}, names)
}

func TestIndexAllTables_IsolatesFailures(t *testing.T) {
	db := newTestDB(t, 4)
	ix := New(db, &hashEmbedder{}, &recordingIndex{err: errors.New("boom")}, nil)

	res, err := ix.IndexAllTables(context.Background(), AllOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TablesProcessed)
	assert.Zero(t, res.TotalRows, "failed tables are not counted")
	assert.Equal(t, StatusError, res.TableResults[1].Status)
	assert.Equal(t, StatusPartial, res.Status, "empty tables still succeed")
}

func TestIndexAllTables_AllFailed(t *testing.T) {
	db := newTestDB(t, 4)
	ix := New(db, &hashEmbedder{}, &recordingIndex{err: errors.New("boom")}, nil)

	res, err := ix.IndexAllTables(context.Background(), AllOptions{ExcludeTables: []string{"audit_log", "empty_table"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TablesProcessed)
	assert.Zero(t, res.TotalVectors)
	assert.Equal(t, StatusError, res.Status)
}

func TestSummaryStatus(t *testing.T) {
	ok := TableResult{Status: StatusSuccess}
	bad := TableResult{Status: StatusError}
	assert.Equal(t, StatusSuccess, summaryStatus(nil))
	assert.Equal(t, StatusSuccess, summaryStatus([]TableResult{ok, ok}))
	assert.Equal(t, StatusPartial, summaryStatus([]TableResult{ok, bad}))
	assert.Equal(t, StatusError, summaryStatus([]TableResult{bad, bad}))
}

func TestIndexAllTables_NoTables(t *testing.T) {
	db, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, &hashEmbedder{}, &recordingIndex{}, nil).IndexAllTables(context.Background(), AllOptions{})
	assert.ErrorIs(t, err, ErrNoTables)
}

func TestSearchTableData_Filter(t *testing.T) {
	idx := &recordingIndex{}
	ix := New(newTestDB(t, 1), &hashEmbedder{}, idx, nil)

	_, err := ix.SearchTableData(context.Background(), "who lives in Lisbon", "", 3, "customers")
	require.NoError(t, err)
	assert.Equal(t, filter.And{Children: []filter.Expression{
		filter.Eq(filter.FieldSource, "postgresql"),
		filter.Eq(filter.FieldTableName, "customers"),
	}}, idx.expr)

	_, err = ix.SearchTableData(context.Background(), "anything", "", 3, "")
	require.NoError(t, err)
	assert.Equal(t, filter.Eq(filter.FieldSource, "postgresql"), idx.expr)
}

func TestIndexAndSearch_WithChromem(t *testing.T) {
	ctx := context.Background()
	svc, err := vectorstore.NewChromemService(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	g, err := vectorindex.New(svc, vectorindex.Config{Index: "tables"}, nil)
	require.NoError(t, err)
	require.NoError(t, g.EnsureIndex(ctx, 4, vectorstore.MetricCosine))

	ix := New(newTestDB(t, 12), &hashEmbedder{}, g, nil)
	r := ix.IndexTable(ctx, "customers", Options{})
	require.Equal(t, StatusSuccess, r.Status, r.Error)

	matches, err := ix.SearchTableData(ctx, "customer-3 Lisbon", "", 10, "customers")
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.Equal(t, DefaultNamespace, m.Namespace)
		assert.Equal(t, "customers", m.Metadata["table_name"])
		assert.True(t, strings.HasPrefix(m.Metadata["text"].(string), "Table: customers\n"))
	}

	none, err := ix.SearchTableData(ctx, "x", "", 10, "orders")
	require.NoError(t, err)
	assert.Empty(t, none)
}
