package testcases

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/workitems"
)

type fakeRetriever struct {
	items []retrieval.ItemContext
	err   error
	topK  int
}

func (f *fakeRetriever) ContextForLabel(_ context.Context, _ string, topK int) (*retrieval.LabelContext, error) {
	f.topK = topK
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.LabelContext{Label: "payments", Items: f.items}, nil
}

const contextReply = `{
  "intent_identification": {"summary": "Retries keep payments from failing on transient errors",
    "evidence": [{"chunk_id": "c1", "source": "mongodb", "namespace": "docs"}, {"chunk_id": "made-up", "source": "x", "namespace": "y"}]},
  "story_goal": {"goal_statement": "Failed charges are retried three times", "success_conditions": ["third retry succeeds"], "evidence": []},
  "in_scope_systems": [{"system_name": "payments-api", "system_type": "api", "responsibility": "charges cards", "evidence": []}],
  "constraints_and_rules": [{"rule": "at most 3 retries", "rule_type": "validation", "derived_from": "acceptancecriteria", "evidence": []}],
  "grounding_statement": "Derived from the work item and retrieved chunks only."
}`

const casesReply = "```json\n" + `{"test_cases": [
  {"external_id": "", "name": "Retry succeeds", "scenario": "positive", "label": "API_Regression", "priority": "high",
   "test_steps": "1. Charge a card that fails twice", "expected_result": "Charge succeeds on the third attempt", "test_data": ""},
  {"external_id": "X-9", "name": "Retries exhausted", "scenario": "negative", "label": "API_Validation", "priority": "urgent",
   "test_steps": "1. Charge a card that always fails", "expected_result": "Charge fails after 3 attempts", "test_data": "card 4000 0000 0000 0002"},
  {"external_id": "X-10", "name": "", "test_steps": "1. nothing", "expected_result": "nothing"}
]}` + "\n```"

// scriptedModel answers by prompt kind. Stories whose key is in fail get
// an error.
type scriptedModel struct {
	mu      sync.Mutex
	fail    map[string]bool
	prompts []string
}

func (m *scriptedModel) CompleteJSON(_ context.Context, system, user string, _ int) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, user)
	m.mu.Unlock()

	for key := range m.fail {
		if strings.Contains(user, key) {
			return "", fmt.Errorf("model unavailable for %s", key)
		}
	}
	if system == contextSystem {
		return contextReply, nil
	}
	return casesReply, nil
}

func item(key string, chunks ...retrieval.Chunk) retrieval.ItemContext {
	return retrieval.ItemContext{
		Item: workitems.WorkItem{
			Key:         key,
			Summary:     "Retry failed charges",
			Description: "AC: failed charges are retried up to 3 times.",
			Labels:      []string{"payments"},
			Priority:    "Low",
		},
		Chunks: chunks,
	}
}

var chunk1 = retrieval.Chunk{ID: "c1", Text: "Charges are retried with backoff.", Source: "mongodb", Namespace: "docs"}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	model := &scriptedModel{}
	retriever := &fakeRetriever{items: []retrieval.ItemContext{item("PAY-1", chunk1), item("PAY-2", chunk1)}}
	g := New(retriever, model, Config{OutputDir: dir, FixVersion: "Sprint_2026_01", TopK: 4}, zaptest.NewLogger(t))

	res, err := g.Generate(context.Background(), Request{Label: "payments", Limit: 5})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, retriever.topK)
	require.Len(t, res.Results, 2)

	story := res.Results[0]
	assert.Equal(t, "PAY-1", story.Key)
	assert.Equal(t, StatusGenerated, story.Status)
	assert.Equal(t, 2, story.Count)

	require.NotNil(t, story.Context)
	assert.Equal(t, []EvidenceRef{{ChunkID: "c1", Source: "mongodb", Namespace: "docs"}}, story.Context.IntentIdentification.Evidence,
		"evidence citing unknown chunks is dropped")
	assert.Equal(t, SystemAPI, story.Context.InScopeSystems[0].SystemType)
	assert.Equal(t, RuleValidation, story.Context.ConstraintsAndRules[0].RuleType)
	assert.Equal(t, FromAcceptanceCriteria, story.Context.ConstraintsAndRules[0].DerivedFrom)

	first, second := story.TestCases[0], story.TestCases[1]
	assert.Equal(t, "PAY-1-TC-1", first.ExternalID)
	assert.Equal(t, PriorityHigh, first.Priority)
	assert.Equal(t, NoTestData, first.TestData)
	assert.Equal(t, "Sprint_2026_01", first.FixVersion)
	assert.Equal(t, "X-9", second.ExternalID)
	assert.Equal(t, PriorityLow, second.Priority, "unknown priorities fall back to the story's")

	assert.Equal(t, filepath.Join(dir, "PAY-1_testcases.csv"), story.OutputFile)
	rows := readCSV(t, story.OutputFile)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"PAY-1-TC-1", "Retry succeeds", "positive", "API_Regression", "Sprint_2026_01",
		"High", "1. Charge a card that fails twice", "Charge succeeds on the third attempt", NoTestData}, rows[1])

	assert.Len(t, model.prompts, 4)
	assert.Contains(t, strings.Join(model.prompts, "\n"), `"chunk_id": "c1"`)
}

func TestGenerate_DefaultLimit(t *testing.T) {
	retriever := &fakeRetriever{items: []retrieval.ItemContext{item("PAY-1", chunk1), item("PAY-2", chunk1)}}
	g := New(retriever, &scriptedModel{}, Config{}, nil)

	res, err := g.Generate(context.Background(), Request{Label: "payments"})
	require.NoError(t, err)
	require.Len(t, res.Results, DefaultLimit)
	assert.Empty(t, res.Results[0].OutputFile, "no output dir, no file")
}

func TestGenerate_StoryWithoutChunks(t *testing.T) {
	dir := t.TempDir()
	model := &scriptedModel{}
	g := New(&fakeRetriever{items: []retrieval.ItemContext{item("PAY-3")}}, model, Config{OutputDir: dir}, nil)

	res, err := g.Generate(context.Background(), Request{Label: "payments"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	story := res.Results[0]
	assert.Equal(t, StatusEmpty, story.Status)
	assert.Contains(t, story.Error, ErrNoChunks.Error())
	assert.Empty(t, story.TestCases)
	assert.Empty(t, model.prompts, "the model is never called")
	assert.Equal(t, [][]string{csvHeader}, readCSV(t, story.OutputFile))
}

func TestGenerate_FailingStoryIsIsolated(t *testing.T) {
	model := &scriptedModel{fail: map[string]bool{"PAY-BAD": true}}
	retriever := &fakeRetriever{items: []retrieval.ItemContext{item("PAY-BAD", chunk1), item("PAY-1", chunk1)}}
	g := New(retriever, model, Config{Limit: 2}, nil)

	res, err := g.Generate(context.Background(), Request{Label: "payments"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StatusError, res.Results[0].Status)
	assert.Contains(t, res.Results[0].Error, "model unavailable")
	assert.Equal(t, StatusGenerated, res.Results[1].Status)
	assert.Equal(t, 2, res.Results[1].Count)
}

func TestGenerate_IncompleteContext(t *testing.T) {
	g := New(&fakeRetriever{items: []retrieval.ItemContext{item("PAY-1", chunk1)}}, &incompleteModel{}, Config{}, nil)

	res, err := g.Generate(context.Background(), Request{Label: "payments"})
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, res.Results[0].Status)
	assert.Contains(t, res.Results[0].Error, ErrIncompleteContext.Error())
	assert.NotNil(t, res.Results[0].Context)
}

type incompleteModel struct{}

func (incompleteModel) CompleteJSON(context.Context, string, string, int) (string, error) {
	return `{"intent_identification": {"summary": ""}, "story_goal": {"goal_statement": ""}}`, nil
}

func TestGenerate_Errors(t *testing.T) {
	_, err := New(&fakeRetriever{}, nil, Config{}, nil).Generate(context.Background(), Request{Label: "x"})
	assert.ErrorIs(t, err, retrieval.ErrNoLLM)

	_, err = New(&fakeRetriever{}, &scriptedModel{}, Config{}, nil).Generate(context.Background(), Request{Label: "  "})
	assert.ErrorIs(t, err, retrieval.ErrEmptyQuery)

	missing := fmt.Errorf("%w %q", retrieval.ErrNoWorkItems, "x")
	_, err = New(&fakeRetriever{err: missing}, &scriptedModel{}, Config{}, nil).Generate(context.Background(), Request{Label: "x"})
	assert.ErrorIs(t, err, retrieval.ErrNoWorkItems)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(&fakeRetriever{items: []retrieval.ItemContext{item("PAY-1", chunk1)}}, &scriptedModel{}, Config{}, nil).
		Generate(ctx, Request{Label: "x"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStoryPriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, storyPriority("Highest"))
	assert.Equal(t, PriorityHigh, storyPriority("critical"))
	assert.Equal(t, PriorityLow, storyPriority("Minor"))
	assert.Equal(t, PriorityMedium, storyPriority(""))
}

func TestFileStem(t *testing.T) {
	assert.Equal(t, "PAY-1", fileStem("PAY-1"))
	assert.Equal(t, "owner_repo_42", fileStem("owner/repo#42"))
	assert.Equal(t, "story", fileStem(".."))
}
