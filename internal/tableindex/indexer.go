// Package tableindex indexes relational table rows into the vector index.
//
// Rows are grouped into fixed-size batches. Each batch is rendered as text,
// embedded and stored as one vector whose metadata records the table and
// the row identifiers it covers.
package tableindex

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/embeddings"
	"github.com/fyrsmithlabs/ingestd/internal/filter"
	"github.com/fyrsmithlabs/ingestd/internal/logging"
	"github.com/fyrsmithlabs/ingestd/internal/sqlstore"
	"github.com/fyrsmithlabs/ingestd/internal/vectorindex"
	"github.com/fyrsmithlabs/ingestd/internal/vectorstore"
)

var tracer = otel.Tracer("ingestd.tableindex")

const (
	// DefaultNamespace holds table vectors unless Options says otherwise.
	DefaultNamespace = "postgresql-data"

	// DefaultChunkSize is the number of rows per vector.
	DefaultChunkSize = 5

	// Source is the metadata source value of table vectors.
	Source = "postgresql"

	previewChars = 300
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	// StatusPartial marks an IndexAllResult where some tables failed.
	StatusPartial = "partial"
)

// ErrNoTables is returned by IndexAllTables when the database has no tables.
var ErrNoTables = errors.New("no tables found in database")

// RowSource reads tables. *sqlstore.Store implements it.
type RowSource interface {
	Tables(ctx context.Context) ([]string, error)
	FetchRows(ctx context.Context, table string, limit int) ([]sqlstore.Row, error)
}

// VectorIndex stores and queries vectors. *vectorindex.Gateway implements it.
type VectorIndex interface {
	Upsert(ctx context.Context, vectors []vectorstore.Vector, namespace string) (int, error)
	Query(ctx context.Context, vector []float32, topK int, namespace string, expr filter.Expression) ([]vectorindex.Match, error)
}

// Options controls IndexTable.
type Options struct {
	// Namespace defaults to DefaultNamespace.
	Namespace string

	// ChunkSize is rows per vector. Defaults to DefaultChunkSize.
	ChunkSize int

	// Limit caps the rows read; zero reads all.
	Limit int
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

// AllOptions controls IndexAllTables.
type AllOptions struct {
	Namespace     string
	ChunkSize     int
	LimitPerTable int

	// ExcludeTables are skipped.
	ExcludeTables []string
}

// TableResult reports one table. Failures are recorded with StatusError
// and never abort IndexAllTables.
type TableResult struct {
	Status          string `json:"status"`
	TableName       string `json:"table_name"`
	RowsProcessed   int    `json:"rows_processed"`
	ChunksCreated   int    `json:"chunks_created"`
	VectorsUpserted int    `json:"vectors_upserted"`
	Namespace       string `json:"namespace,omitempty"`
	Message         string `json:"message,omitempty"`
	Error           string `json:"error,omitempty"`
}

// IndexAllResult aggregates TableResults. Totals count successful tables
// only. Status is success when no table failed, error when every table
// failed and partial otherwise.
type IndexAllResult struct {
	Status          string        `json:"status"`
	TablesProcessed int           `json:"tables_processed"`
	TotalRows       int           `json:"total_rows"`
	TotalChunks     int           `json:"total_chunks"`
	TotalVectors    int           `json:"total_vectors"`
	Namespace       string        `json:"namespace"`
	TableResults    []TableResult `json:"table_results"`
}

// Indexer indexes tables from a RowSource.
type Indexer struct {
	rows     RowSource
	embedder embeddings.Embedder
	index    VectorIndex
	log      *logging.Logger
	now      func() time.Time
}

// New creates an Indexer.
func New(rows RowSource, embedder embeddings.Embedder, index VectorIndex, logger *zap.Logger) *Indexer {
	return &Indexer{
		rows:     rows,
		embedder: embedder,
		index:    index,
		log:      logging.New(logger),
		now:      time.Now,
	}
}

// IndexTable reads, batches, embeds and upserts one table.
func (ix *Indexer) IndexTable(ctx context.Context, table string, opts Options) TableResult {
	opts = opts.withDefaults()
	ctx, span := tracer.Start(ctx, "Indexer.IndexTable")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.String("namespace", opts.Namespace))
	ctx = logging.WithNamespace(logging.WithTable(ctx, table), opts.Namespace)

	result := ix.indexTable(ctx, table, opts)
	tablesTotal.WithLabelValues(result.Status).Inc()
	if result.Status == StatusError {
		span.SetStatus(codes.Error, result.Error)
		ix.log.Warn(ctx, "table indexing failed", zap.String("error", result.Error))
		return result
	}

	rowsTotal.Add(float64(result.RowsProcessed))
	ix.log.Info(ctx, "table indexed",
		zap.Int("rows", result.RowsProcessed),
		zap.Int("vectors", result.VectorsUpserted),
	)
	return result
}

func (ix *Indexer) indexTable(ctx context.Context, table string, opts Options) TableResult {
	fail := func(err error) TableResult {
		return TableResult{Status: StatusError, TableName: table, Namespace: opts.Namespace, Error: err.Error()}
	}

	rows, err := ix.rows.FetchRows(ctx, table, opts.Limit)
	if err != nil {
		return fail(err)
	}
	if len(rows) == 0 {
		return TableResult{
			Status:    StatusSuccess,
			TableName: table,
			Namespace: opts.Namespace,
			Message:   "No data found in table",
		}
	}

	now := ix.now().UTC()
	batches := BatchRows(rows, table, opts.ChunkSize, now)

	texts := make([]string, len(batches))
	for i, b := range batches {
		texts[i] = b.Text
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fail(fmt.Errorf("embedding %s: %w", table, err))
	}
	if len(vectors) != len(batches) {
		return fail(fmt.Errorf("embedding %s: got %d vectors for %d batches", table, len(vectors), len(batches)))
	}

	ts := strings.ReplaceAll(now.Format(time.RFC3339), ":", "-")
	payload := make([]vectorstore.Vector, len(batches))
	for i, b := range batches {
		payload[i] = vectorstore.Vector{
			ID:       fmt.Sprintf("pg_%s_%d_%s", table, i, ts),
			Values:   vectors[i],
			Metadata: b.Metadata,
		}
	}

	upserted, err := ix.index.Upsert(ctx, payload, opts.Namespace)
	if err != nil {
		return fail(fmt.Errorf("upserting %s: %w", table, err))
	}

	return TableResult{
		Status:          StatusSuccess,
		TableName:       table,
		RowsProcessed:   len(rows),
		ChunksCreated:   len(batches),
		VectorsUpserted: upserted,
		Namespace:       opts.Namespace,
		Message:         fmt.Sprintf("Successfully indexed %d rows into %d vectors", len(rows), upserted),
	}
}

// IndexAllTables indexes every table not in ExcludeTables, one at a time.
// It fails only when tables cannot be listed or none exist.
func (ix *Indexer) IndexAllTables(ctx context.Context, opts AllOptions) (*IndexAllResult, error) {
	tables, err := ix.rows.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, ErrNoTables
	}
	tables = slices.DeleteFunc(tables, func(t string) bool {
		return slices.Contains(opts.ExcludeTables, t)
	})

	tableOpts := Options{
		Namespace: opts.Namespace,
		ChunkSize: opts.ChunkSize,
		Limit:     opts.LimitPerTable,
	}.withDefaults()

	out := &IndexAllResult{
		Status:       StatusSuccess,
		Namespace:    tableOpts.Namespace,
		TableResults: make([]TableResult, 0, len(tables)),
	}
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r := ix.IndexTable(ctx, table, tableOpts)
		out.TableResults = append(out.TableResults, r)
		out.TablesProcessed++
		if r.Status == StatusSuccess {
			out.TotalRows += r.RowsProcessed
			out.TotalChunks += r.ChunksCreated
			out.TotalVectors += r.VectorsUpserted
		}
	}
	out.Status = summaryStatus(out.TableResults)
	return out, nil
}

func summaryStatus(results []TableResult) string {
	failed := 0
	for _, r := range results {
		if r.Status == StatusError {
			failed++
		}
	}
	switch {
	case failed == 0:
		return StatusSuccess
	case failed == len(results):
		return StatusError
	default:
		return StatusPartial
	}
}

// SearchTableData finds table vectors similar to query. An empty table
// searches every table.
func (ix *Indexer) SearchTableData(ctx context.Context, query, namespace string, topK int, table string) ([]vectorindex.Match, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	vectors, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(vectors))
	}
	return ix.index.Query(ctx, vectors[0], topK, namespace, TableFilter(table))
}

// TableFilter restricts a query to table vectors, optionally of one table.
func TableFilter(table string) filter.Expression {
	var tableClause filter.Expression
	if table != "" {
		tableClause = filter.Eq(filter.FieldTableName, table)
	}
	return filter.AndOf(filter.Eq(filter.FieldSource, Source), tableClause)
}
