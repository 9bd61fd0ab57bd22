// Package ingest stores, extracts, redacts, chunks, embeds and indexes
// documents, publishing a lifecycle event for every job.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/events"
	"github.com/fyrsmithlabs/ingestd/internal/logging"
	"github.com/fyrsmithlabs/ingestd/internal/pipeline"
	"github.com/fyrsmithlabs/ingestd/internal/redact"
	"github.com/fyrsmithlabs/ingestd/internal/vectorstore"
)

var tracer = otel.Tracer("ingestd.ingest")

const (
	// DefaultNamespace receives documents when the caller names none.
	DefaultNamespace = "mongodb-files"

	// DefaultSource is the chunk metadata source value. It keeps the value
	// earlier deployments filtered on.
	DefaultSource = "mongodb"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrProcessingFailed is returned when the pipeline ends in ERROR. Nothing
// is upserted for that document.
var ErrProcessingFailed = errors.New("document processing failed")

// FileStore keeps original uploads. *docstore.Store implements it.
type FileStore interface {
	Put(ctx context.Context, filename, contentType string, data []byte, metadata map[string]any) (string, error)
}

// TextExtractor turns uploaded bytes into text. *docparse.Extractor
// implements it.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// VectorIndex stores vectors. *vectorindex.Gateway implements it.
type VectorIndex interface {
	Upsert(ctx context.Context, vectors []vectorstore.Vector, namespace string) (int, error)
}

// Document is an upload.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
	Metadata    map[string]any
}

// Result reports one ingest job. It is returned, possibly partially
// filled, even when Ingest fails.
type Result struct {
	JobID           string `json:"job_id"`
	DocumentID      string `json:"document_id,omitempty"`
	Filename        string `json:"filename"`
	Namespace       string `json:"namespace"`
	Status          string `json:"status"`
	Strategy        string `json:"chunk_strategy,omitempty"`
	ChunkSize       int    `json:"chunk_size,omitempty"`
	Overlap         int    `json:"overlap"`
	Analysis        string `json:"analysis,omitempty"`
	Chunks          int    `json:"chunks"`
	VectorsUpserted int    `json:"vectors_upserted"`
	Redactions      int    `json:"redactions"`
	Error           string `json:"error,omitempty"`
}

// DocumentIngestor runs the ingest job for one document at a time. It is
// safe for concurrent use when its collaborators are.
type DocumentIngestor struct {
	files     FileStore
	extractor TextExtractor
	pipeline  *pipeline.Pipeline
	index     VectorIndex
	redactor  *redact.Redactor
	events    *events.Publisher
	namespace string
	source    string
	logger    *zap.Logger
	log       *logging.Logger
}

// Option configures a DocumentIngestor.
type Option func(*DocumentIngestor)

// WithRedactor scrubs secrets from extracted text before chunking.
func WithRedactor(r *redact.Redactor) Option {
	return func(d *DocumentIngestor) { d.redactor = r }
}

// WithEvents publishes job events.
func WithEvents(p *events.Publisher) Option {
	return func(d *DocumentIngestor) { d.events = p }
}

// WithDefaults overrides the default namespace and source.
func WithDefaults(namespace, source string) Option {
	return func(d *DocumentIngestor) {
		if namespace != "" {
			d.namespace = namespace
		}
		if source != "" {
			d.source = source
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *DocumentIngestor) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDocumentIngestor creates a DocumentIngestor.
func NewDocumentIngestor(files FileStore, extractor TextExtractor, p *pipeline.Pipeline, index VectorIndex, opts ...Option) *DocumentIngestor {
	d := &DocumentIngestor{
		files:     files,
		extractor: extractor,
		pipeline:  p,
		index:     index,
		namespace: DefaultNamespace,
		source:    DefaultSource,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logging.New(d.logger)
	return d
}

// Ingest stores doc, extracts and redacts its text, runs the pipeline and
// upserts one vector per chunk into namespace (DefaultNamespace when empty).
func (d *DocumentIngestor) Ingest(ctx context.Context, doc Document, namespace string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "DocumentIngestor.Ingest")
	defer span.End()

	res := d.newResult(doc.Filename, namespace)
	ctx = jobContext(ctx, res)
	span.SetAttributes(attribute.String("job.id", res.JobID), attribute.String("filename", doc.Filename))
	d.publishStarted(ctx, res)

	fileID, err := d.files.Put(ctx, doc.Filename, doc.ContentType, doc.Data, doc.Metadata)
	if err != nil {
		return d.fail(ctx, span, res, fmt.Errorf("store document: %w", err))
	}
	res.DocumentID = fileID
	ctx = logging.WithDocumentID(ctx, fileID)

	text, err := d.extractor.Extract(ctx, doc.Filename, doc.Data)
	if err != nil {
		return d.fail(ctx, span, res, err)
	}

	if err := d.process(ctx, res, text, doc.Metadata); err != nil {
		return d.fail(ctx, span, res, err)
	}
	return d.succeed(ctx, res), nil
}

// IngestText indexes text that has no stored original, such as text sent
// through the MCP tools. filename only labels the chunks.
func (d *DocumentIngestor) IngestText(ctx context.Context, filename, text string, metadata map[string]any, namespace string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "DocumentIngestor.IngestText")
	defer span.End()

	res := d.newResult(filename, namespace)
	res.DocumentID = uuid.NewString()
	ctx = logging.WithDocumentID(jobContext(ctx, res), res.DocumentID)
	d.publishStarted(ctx, res)

	if err := d.process(ctx, res, text, metadata); err != nil {
		return d.fail(ctx, span, res, err)
	}
	return d.succeed(ctx, res), nil
}

func (d *DocumentIngestor) newResult(filename, namespace string) *Result {
	if namespace == "" {
		namespace = d.namespace
	}
	return &Result{
		JobID:     events.NewJobID(),
		Filename:  filename,
		Namespace: namespace,
	}
}

// jobContext tags ctx with the job and namespace of res for logging.
func jobContext(ctx context.Context, res *Result) context.Context {
	return logging.WithNamespace(logging.WithJobID(ctx, res.JobID), res.Namespace)
}

// process runs redaction, the pipeline and the upsert for res.
func (d *DocumentIngestor) process(ctx context.Context, res *Result, text string, metadata map[string]any) error {
	redacted := d.redactor.Redact(text)
	res.Redactions = redacted.Count()
	if res.Redactions > 0 {
		redactionsTotal.Add(float64(res.Redactions))
	}

	state := d.pipeline.Run(ctx, pipeline.NewState(redacted.Text, res.Filename, res.DocumentID, metadata))
	res.Strategy = string(state.ChunkStrategy)
	res.ChunkSize = state.ChunkSize
	res.Overlap = state.Overlap
	res.Analysis = state.Analysis
	if state.Step != pipeline.StepComplete {
		return fmt.Errorf("%w: %s", ErrProcessingFailed, state.Error)
	}
	res.Chunks = len(state.Chunks)

	vectors := d.chunkVectors(state)
	n, err := d.index.Upsert(ctx, vectors, res.Namespace)
	if err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	res.VectorsUpserted = n
	return nil
}

// chunkVectors builds one vector per chunk, id <docID>_<order>. Caller
// metadata may override source but never the chunk fields.
func (d *DocumentIngestor) chunkVectors(s pipeline.State) []vectorstore.Vector {
	vectors := make([]vectorstore.Vector, len(s.Chunks))
	for i, c := range s.Chunks {
		md := make(map[string]any, len(s.Metadata)+8)
		md["source"] = d.source
		for k, v := range s.Metadata {
			md[k] = v
		}
		md["file_id"] = s.DocumentID
		md["filename"] = s.Filename
		md["chunk_index"] = c.Order
		md["char_start"] = c.CharStart
		md["char_end"] = c.CharEnd
		md["text"] = c.Text
		md["chunk_strategy"] = string(s.ChunkStrategy)

		vectors[i] = vectorstore.Vector{
			ID:       s.DocumentID + "_" + strconv.Itoa(c.Order),
			Values:   s.Embeddings[i],
			Metadata: md,
		}
	}
	return vectors
}

func (d *DocumentIngestor) publishStarted(ctx context.Context, res *Result) {
	err := d.events.Started(ctx, events.KindDocument, res.JobID, map[string]any{
		"filename":  res.Filename,
		"namespace": res.Namespace,
	})
	d.logPublishError(ctx, err)
}

func (d *DocumentIngestor) succeed(ctx context.Context, res *Result) *Result {
	res.Status = StatusSuccess
	documentsTotal.WithLabelValues(StatusSuccess).Inc()
	chunksTotal.Add(float64(res.VectorsUpserted))

	err := d.events.Completed(ctx, events.KindDocument, res.JobID, map[string]any{
		"document_id":      res.DocumentID,
		"filename":         res.Filename,
		"namespace":        res.Namespace,
		"chunks":           res.Chunks,
		"vectors_upserted": res.VectorsUpserted,
		"chunk_strategy":   res.Strategy,
		"chunk_size":       res.ChunkSize,
		"overlap":          res.Overlap,
		"analysis":         res.Analysis,
		"redactions":       res.Redactions,
	})
	d.logPublishError(ctx, err)

	d.log.Info(ctx, "document ingested",
		zap.String("filename", res.Filename),
		zap.Int("chunks", res.Chunks),
		zap.Int("redactions", res.Redactions),
	)
	return res
}

func (d *DocumentIngestor) fail(ctx context.Context, span trace.Span, res *Result, err error) (*Result, error) {
	res.Status = StatusError
	res.Error = err.Error()
	documentsTotal.WithLabelValues(StatusError).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "ingest failed")

	pubErr := d.events.Failed(ctx, events.KindDocument, res.JobID, res.Error, map[string]any{
		"document_id": res.DocumentID,
		"filename":    res.Filename,
		"namespace":   res.Namespace,
	})
	d.logPublishError(ctx, pubErr)

	d.log.Warn(ctx, "document ingest failed",
		zap.String("filename", res.Filename),
		zap.Error(err),
	)
	return res, err
}

// Event delivery is best effort; a broker outage never fails ingestion.
func (d *DocumentIngestor) logPublishError(ctx context.Context, err error) {
	if err != nil {
		d.log.Warn(ctx, "failed to publish ingest event", zap.Error(err))
	}
}
