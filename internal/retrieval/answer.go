package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/llm"
)

const (
	maxSQLContextRows = 10
	ruleWidth         = 80
)

// ErrNoQuery is returned by SQLContext when the question does not concern
// the available tables.
var ErrNoQuery = errors.New("no relevant SQL query generated")

// AnswerOptions scope Answer. The embedded Request's Text is ignored.
type AnswerOptions struct {
	Request

	// IncludeSQL adds SQLContext to the prompt when a store is configured.
	IncludeSQL bool
}

// AnswerResult is an answer with the chunks it was drawn from.
type AnswerResult struct {
	Answer   string     `json:"answer"`
	Chunks   []Chunk    `json:"chunks"`
	SQL      *SQLResult `json:"sql,omitempty"`
	Failures []string   `json:"failed_namespaces,omitempty"`
}

// Answer retrieves TopK*CandidateMultiplier candidates per namespace, keeps
// the best TopK and asks the model to answer from their text.
func (s *Service) Answer(ctx context.Context, question string, opts AnswerOptions) (*AnswerResult, error) {
	ctx, span := tracer.Start(ctx, "Service.Answer")
	defer span.End()

	if s.llm == nil {
		return nil, ErrNoLLM
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuery
	}

	topK := s.topK(opts.TopK)
	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	res, err := s.scatter(ctx, vectors[0], topK*s.cfg.CandidateMultiplier, topK, s.selection(opts.Request))
	if err != nil {
		return nil, err
	}

	out := &AnswerResult{Chunks: res.Chunks}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, f.Namespace)
	}

	var contexts []string
	for _, c := range res.Chunks {
		if c.Text != "" {
			contexts = append(contexts, c.Text)
		}
	}
	if opts.IncludeSQL && s.sql != nil {
		sqlRes, err := s.SQLContext(ctx, question)
		if err != nil {
			s.logger.Debug("no sql context", zap.Error(err))
		} else if sqlRes.Context != "" {
			out.SQL = sqlRes
			contexts = append(contexts, sqlRes.Context)
		}
	}

	if len(contexts) == 0 {
		out.Answer = NoAnswer
		return out, nil
	}
	answer, err := llm.Answer(ctx, s.llm, question, contexts)
	if err != nil {
		return nil, err
	}
	out.Answer = answer
	queriesTotal.WithLabelValues("answer").Inc()
	return out, nil
}

// SQLResult is a generated query and its formatted rows.
type SQLResult struct {
	SQL     string           `json:"sql"`
	Context string           `json:"context"`
	Rows    int              `json:"rows"`
	Data    []map[string]any `json:"data,omitempty"`
}

// SQLContext has the model write a SELECT over the known tables, runs it
// through the guarded store and formats at most ten rows as a pipe table.
func (s *Service) SQLContext(ctx context.Context, question string) (*SQLResult, error) {
	ctx, span := tracer.Start(ctx, "Service.SQLContext")
	defer span.End()

	if s.sql == nil {
		return nil, ErrNoSQL
	}
	if s.llm == nil {
		return nil, ErrNoLLM
	}

	tables, err := s.sql.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, errors.New("no tables found")
	}

	statement, err := llm.GenerateSQL(ctx, s.llm, question, tables)
	if err != nil {
		return nil, err
	}
	if statement == "" {
		return nil, ErrNoQuery
	}

	rows, err := s.sql.Query(ctx, statement)
	if err != nil {
		return nil, err
	}
	res := &SQLResult{SQL: statement, Rows: len(rows)}
	if len(rows) == 0 {
		return res, nil
	}

	var b strings.Builder
	rule := strings.Repeat("-", ruleWidth)
	fmt.Fprintf(&b, "PostgreSQL Query Results (from query: %s):\n%s\n", statement, rule)
	b.WriteString(strings.Join(rows[0].Columns, " | "))
	b.WriteString("\n" + rule)
	for _, row := range rows[:min(len(rows), maxSQLContextRows)] {
		values := make([]string, len(row.Values))
		for i, v := range row.Values {
			if v != nil {
				values[i] = fmt.Sprint(v)
			}
		}
		b.WriteString("\n" + strings.Join(values, " | "))
	}
	res.Context = b.String()

	res.Data = make([]map[string]any, len(rows))
	for i, row := range rows {
		res.Data[i] = row.Map()
	}
	queriesTotal.WithLabelValues("sql_context").Inc()
	return res, nil
}
