package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ingestd/internal/filter"
	"github.com/fyrsmithlabs/ingestd/internal/sqlstore"
	"github.com/fyrsmithlabs/ingestd/internal/vectorindex"
	"github.com/fyrsmithlabs/ingestd/internal/workitems"
)

type fakeEmbedder struct {
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.texts = append(f.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }

type fakeIndex struct {
	matches []vectorindex.Match
	topKs   []int
	sels    []vectorindex.Selection
}

func (f *fakeIndex) ScatterGatherQuery(_ context.Context, _ []float32, topK int, sel vectorindex.Selection) (*vectorindex.ScatterReport, error) {
	f.topKs = append(f.topKs, topK)
	f.sels = append(f.sels, sel)
	return &vectorindex.ScatterReport{
		Matches:  f.matches,
		Queried:  []string{"docs", "broken"},
		Failures: []vectorindex.NamespaceFailure{{Namespace: "broken", Message: "unavailable"}},
	}, nil
}

type fakeSource struct {
	items []workitems.WorkItem
}

func (f *fakeSource) Search(context.Context, string) ([]workitems.WorkItem, error) {
	return f.items, nil
}

type fakeCompleter struct {
	replies []string
	users   []string
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string, _ int) (string, error) {
	f.users = append(f.users, user)
	if len(f.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func sampleMatches() []vectorindex.Match {
	return []vectorindex.Match{
		{ID: "d1_0", Score: 0.95, Namespace: "docs", Metadata: map[string]any{"text": "Retries back off.", "source": "mongodb", "filename": "a.md"}},
		{ID: "pg_orders_0", Score: 0.9, Namespace: "tables", Metadata: map[string]any{"text_preview": "id: 1 | total: 10", "source": "postgresql"}},
		{ID: "x", Score: 0.5, Namespace: "docs", Metadata: map[string]any{}},
	}
}

func TestSearch(t *testing.T) {
	idx := &fakeIndex{matches: sampleMatches()}
	svc := New(&fakeEmbedder{}, idx, Config{Namespaces: []string{"docs"}})

	res, err := svc.Search(context.Background(), Request{
		Text:   "retry policy",
		TopK:   2,
		Labels: []string{"payments"},
	})
	require.NoError(t, err)

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "d1_0", res.Chunks[0].ID)
	assert.Equal(t, "Retries back off.", res.Chunks[0].Text)
	assert.Equal(t, "mongodb", res.Chunks[0].Source)
	assert.Equal(t, map[string]any{"filename": "a.md"}, res.Chunks[0].Metadata)
	assert.Equal(t, "id: 1 | total: 10", res.Chunks[1].Text)
	assert.Equal(t, "tables", res.Chunks[1].Namespace)
	require.Len(t, res.Failures, 1)

	require.Len(t, idx.sels, 1)
	assert.Equal(t, []string{"docs"}, idx.sels[0].Namespaces)
	assert.False(t, idx.sels[0].All)
	assert.Equal(t, filter.In(filter.FieldLabels, []string{"payments"}), idx.sels[0].Filter)
	assert.Equal(t, []int{2}, idx.topKs)
}

func TestSearch_DefaultsToAllNamespaces(t *testing.T) {
	idx := &fakeIndex{}
	svc := New(&fakeEmbedder{}, idx, Config{})

	res, err := svc.Search(context.Background(), Request{Text: "q"})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.True(t, idx.sels[0].All)
	assert.Nil(t, idx.sels[0].Filter)
	assert.Equal(t, []int{DefaultTopK}, idx.topKs)
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc := New(&fakeEmbedder{}, &fakeIndex{}, Config{})
	_, err := svc.Search(context.Background(), Request{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestContextForLabel(t *testing.T) {
	src := &fakeSource{items: []workitems.WorkItem{
		{Key: "PAY-1", Labels: []string{"payment-retry"}, Description: "Retry failed payouts."},
		{Key: "WEB-2", Labels: []string{"frontend"}, Description: "Fix the header."},
	}}
	emb := &fakeEmbedder{}
	idx := &fakeIndex{matches: sampleMatches()}
	svc := New(emb, idx, Config{Namespaces: []string{"docs", "broken"}}, WithWorkItems(src))

	got, err := svc.ContextForLabel(context.Background(), "payment retry", 1)
	require.NoError(t, err)

	require.Len(t, got.Items, 1)
	item := got.Items[0]
	assert.Equal(t, "PAY-1", item.Item.Key)
	assert.Equal(t, "payment-retry Retry failed payouts.", item.Query)
	require.Len(t, item.Chunks, 1)
	assert.Equal(t, "d1_0", item.Chunks[0].ID)
	assert.Len(t, item.Failures, 1)
	assert.Equal(t, []string{"payment-retry Retry failed payouts."}, emb.texts)
	assert.Equal(t, []string{"docs", "broken"}, idx.sels[0].Namespaces)
}

func TestContextForLabel_NoMatch(t *testing.T) {
	src := &fakeSource{items: []workitems.WorkItem{{Key: "WEB-2", Labels: []string{"frontend"}}}}
	svc := New(&fakeEmbedder{}, &fakeIndex{}, Config{}, WithWorkItems(src))

	_, err := svc.ContextForLabel(context.Background(), "database", 3)
	assert.ErrorIs(t, err, ErrNoWorkItems)

	_, err = New(&fakeEmbedder{}, &fakeIndex{}, Config{}).ContextForLabel(context.Background(), "x", 1)
	assert.ErrorIs(t, err, ErrNoWorkItemSource)
}

func TestAnswer(t *testing.T) {
	idx := &fakeIndex{matches: sampleMatches()}
	llm := &fakeCompleter{replies: []string{"Retries back off exponentially."}}
	svc := New(&fakeEmbedder{}, idx, Config{TopK: 2, CandidateMultiplier: 3}, WithLLM(llm))

	res, err := svc.Answer(context.Background(), "How do retries work?", AnswerOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Retries back off exponentially.", res.Answer)
	assert.Len(t, res.Chunks, 2)
	assert.Equal(t, []string{"broken"}, res.Failures)
	assert.Equal(t, []int{6}, idx.topKs)
	require.Len(t, llm.users, 1)
	assert.Contains(t, llm.users[0], "Retries back off.\n\nid: 1 | total: 10")
}

func TestAnswer_NoContext(t *testing.T) {
	llm := &fakeCompleter{}
	svc := New(&fakeEmbedder{}, &fakeIndex{}, Config{}, WithLLM(llm))

	res, err := svc.Answer(context.Background(), "anything?", AnswerOptions{})
	require.NoError(t, err)
	assert.Equal(t, NoAnswer, res.Answer)
	assert.Empty(t, llm.users)
}

func TestAnswer_NoLLM(t *testing.T) {
	svc := New(&fakeEmbedder{}, &fakeIndex{}, Config{})
	_, err := svc.Answer(context.Background(), "q", AnswerOptions{})
	assert.ErrorIs(t, err, ErrNoLLM)
}

func newSQLStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.DB().Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, city TEXT)`)
	require.NoError(t, err)
	for i, name := range []string{"Ana", "Bo", "Cy"} {
		_, err = s.DB().Exec(`INSERT INTO customers (id, name, city) VALUES (?, ?, NULL)`, i+1, name)
		require.NoError(t, err)
	}
	return s
}

func TestSQLContext(t *testing.T) {
	store := newSQLStore(t)
	llm := &fakeCompleter{replies: []string{"```sql\nSELECT id, name, city FROM customers ORDER BY id LIMIT 10\n```"}}
	svc := New(&fakeEmbedder{}, &fakeIndex{}, Config{}, WithLLM(llm), WithSQL(store))

	res, err := svc.SQLContext(context.Background(), "who are our customers?")
	require.NoError(t, err)

	assert.Equal(t, "SELECT id, name, city FROM customers ORDER BY id LIMIT 10", res.SQL)
	assert.Equal(t, 3, res.Rows)
	lines := strings.Split(res.Context, "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "PostgreSQL Query Results (from query: "+res.SQL+"):", lines[0])
	assert.Equal(t, strings.Repeat("-", 80), lines[1])
	assert.Equal(t, "id | name | city", lines[2])
	assert.Equal(t, "1 | Ana | ", lines[4])
	assert.Contains(t, llm.users[0], "Available tables: customers")
}

func TestSQLContext_Guards(t *testing.T) {
	store := newSQLStore(t)

	svc := New(&fakeEmbedder{}, &fakeIndex{}, Config{}, WithLLM(&fakeCompleter{replies: []string{"DROP TABLE customers"}}), WithSQL(store))
	_, err := svc.SQLContext(context.Background(), "drop it")
	assert.ErrorIs(t, err, sqlstore.ErrNotSelect)

	svc = New(&fakeEmbedder{}, &fakeIndex{}, Config{}, WithLLM(&fakeCompleter{replies: []string{"NO_QUERY"}}), WithSQL(store))
	_, err = svc.SQLContext(context.Background(), "weather?")
	assert.ErrorIs(t, err, ErrNoQuery)

	_, err = New(&fakeEmbedder{}, &fakeIndex{}, Config{}).SQLContext(context.Background(), "q")
	assert.ErrorIs(t, err, ErrNoSQL)
}

func TestAnswer_IncludeSQL(t *testing.T) {
	store := newSQLStore(t)
	llm := &fakeCompleter{replies: []string{"SELECT name FROM customers ORDER BY id", "Three customers."}}
	svc := New(&fakeEmbedder{}, &fakeIndex{}, Config{}, WithLLM(llm), WithSQL(store))

	res, err := svc.Answer(context.Background(), "how many customers?", AnswerOptions{IncludeSQL: true})
	require.NoError(t, err)
	assert.Equal(t, "Three customers.", res.Answer)
	require.NotNil(t, res.SQL)
	assert.Equal(t, 3, res.SQL.Rows)
	assert.Contains(t, llm.users[1], "name\n")
}
