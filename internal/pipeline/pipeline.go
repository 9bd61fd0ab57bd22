package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/embeddings"
)

var tracer = otel.Tracer("ingestd.pipeline")

// Pipeline runs the stages in order against one embedder.
type Pipeline struct {
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// New creates a Pipeline.
func New(embedder embeddings.Embedder, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{embedder: embedder, logger: logger}
}

// Run drives a document from INIT to COMPLETE or ERROR. The returned state
// is always terminal.
func (p *Pipeline) Run(ctx context.Context, initial State) State {
	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()
	start := time.Now()

	s := Analyze(initial)
	s = ChunkStage(s)
	s = Embed(ctx, s, p.embedder)
	s = Finish(s)

	runDuration.Observe(time.Since(start).Seconds())
	documentsTotal.WithLabelValues(string(s.Step), string(s.ChunkStrategy)).Inc()
	span.SetAttributes(
		attribute.String("document.id", s.DocumentID),
		attribute.String("step", string(s.Step)),
		attribute.String("strategy", string(s.ChunkStrategy)),
		attribute.Int("chunks", len(s.Chunks)),
	)

	if s.Step == StepError {
		span.SetStatus(codes.Error, s.Error)
		p.logger.Warn("document processing failed",
			zap.String("document_id", s.DocumentID),
			zap.String("filename", s.Filename),
			zap.String("reason", s.Error),
		)
		return s
	}

	chunksPerDocument.Observe(float64(len(s.Chunks)))
	p.logger.Debug("document processed",
		zap.String("document_id", s.DocumentID),
		zap.String("filename", s.Filename),
		zap.String("strategy", string(s.ChunkStrategy)),
		zap.Int("chunks", len(s.Chunks)),
	)
	return s
}
