package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/ingestd/internal/ingest"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/tableindex"
	"github.com/fyrsmithlabs/ingestd/internal/testcases"
	"github.com/fyrsmithlabs/ingestd/internal/vectorindex"
	"github.com/fyrsmithlabs/ingestd/internal/workitems"
)

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n  b\tc"))

	long := strings.Repeat("x", snippetLen+10)
	got := snippet(long)
	assert.Len(t, []rune(got), snippetLen)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestRenderIngestResults(t *testing.T) {
	out := renderIngestResults([]*ingest.Result{
		{Filename: "notes.md", Status: ingest.StatusSuccess, Namespace: "docs", Strategy: "section_based", ChunkSize: 1500, Overlap: 200, Analysis: "Document: notes.md\nLength: 420 words, 2600 characters\nHas sections: true\n", Chunks: 3, VectorsUpserted: 3, DocumentID: "doc-1"},
		{Filename: "scan.pdf", Status: ingest.StatusError, Namespace: "docs", Error: "no extractable text"},
	})
	for _, want := range []string{"FILE", "notes.md", "doc-1", "scan.pdf", "no extractable text", "1500/200", "Has sections: true"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderTableResults(t *testing.T) {
	out := renderTableResults([]tableindex.TableResult{
		{TableName: "orders", Status: tableindex.StatusSuccess, RowsProcessed: 12, ChunksCreated: 3, VectorsUpserted: 3},
		{TableName: "audit", Status: tableindex.StatusError, Error: "permission denied"},
	})
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "permission denied")

	summary := renderTableSummary(&tableindex.IndexAllResult{Status: "success", TablesProcessed: 2, TotalRows: 12, Namespace: "postgresql-data"})
	assert.Contains(t, summary, "2 tables")
	assert.Contains(t, summary, "postgresql-data")

	partial := renderTableSummary(&tableindex.IndexAllResult{Status: tableindex.StatusPartial, TablesProcessed: 3})
	assert.Contains(t, partial, tableindex.StatusPartial)
}

func TestRenderTestCases(t *testing.T) {
	out := renderTestCases(&testcases.Result{Label: "payments", Results: []testcases.StoryResult{
		{Key: "PAY-1", Status: testcases.StatusGenerated, Count: 3, OutputFile: "output/PAY-1_testcases.csv"},
		{Key: "PAY-2", Status: testcases.StatusError, Error: "model unavailable"},
	}})
	for _, want := range []string{`3 test cases for 2 stories matching "payments"`, "PAY-1", "output/PAY-1_testcases.csv", "PAY-2", "model unavailable", "generated"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderChunks(t *testing.T) {
	assert.Contains(t, renderChunks(nil), retrieval.NoAnswer)

	out := renderChunks([]retrieval.Chunk{{Text: "refunds within 30 days", Source: "policy.md", Namespace: "docs", Score: 0.91}})
	assert.Contains(t, out, "0.910")
	assert.Contains(t, out, "policy.md")
	assert.Contains(t, out, "refunds within 30 days")
}

func TestRenderAnswer(t *testing.T) {
	out := renderAnswer(&retrieval.AnswerResult{
		Answer:   "Refunds are issued within 30 days.",
		Chunks:   []retrieval.Chunk{{Text: "refunds within 30 days", Source: "policy.md", Namespace: "docs"}},
		SQL:      &retrieval.SQLResult{SQL: "SELECT count(*) FROM refunds"},
		Failures: []string{"archive"},
	})
	assert.Contains(t, out, "Refunds are issued within 30 days.")
	assert.Contains(t, out, "SELECT count(*) FROM refunds")
	assert.Contains(t, out, "Sources")
	assert.Contains(t, out, "archive")
}

func TestRenderLabelContext(t *testing.T) {
	out := renderLabelContext(&retrieval.LabelContext{
		Label: "billing",
		Items: []retrieval.ItemContext{{
			Item:     workitems.WorkItem{Key: "LEDGER-7", Summary: "Rounding error", Labels: []string{"billing"}},
			Chunks:   []retrieval.Chunk{{Text: "round half even", Namespace: "docs"}},
			Failures: []vectorindex.NamespaceFailure{{Namespace: "archive", Message: "timeout"}},
		}},
	})
	assert.Contains(t, out, `1 work items match "billing"`)
	assert.Contains(t, out, "LEDGER-7")
	assert.Contains(t, out, "round half even")
	assert.Contains(t, out, "archive: timeout")
}
