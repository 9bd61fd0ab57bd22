package testcases

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/workitems"
)

const (
	contextSystem    = "You build grounded structured context for work items. Reply with one JSON object."
	casesSystem      = "You are a senior QA automation engineer. Reply with one JSON object."
	contextMaxTokens = 2000
	casesMaxTokens   = 4000
)

// promptChunk is the view of a retrieved chunk the model sees.
type promptChunk struct {
	ChunkID   string         `json:"chunk_id"`
	Text      string         `json:"text"`
	Source    string         `json:"source"`
	Namespace string         `json:"namespace"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func contextPrompt(item workitems.WorkItem, chunks []retrieval.Chunk) (string, error) {
	view := make([]promptChunk, len(chunks))
	for i, c := range chunks {
		view[i] = promptChunk{ChunkID: c.ID, Text: c.Text, Source: c.Source, Namespace: c.Namespace, Metadata: c.Metadata}
	}
	encoded, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding chunks: %w", err)
	}

	return fmt.Sprintf(`Build the structured context of this work item from the inputs below and nothing else.

Work item %s
Labels: %s
Description and acceptance criteria:
%s

Retrieved chunks:
%s

Rules:
- Do not invent facts. Every statement comes from the description or a chunk.
- Keep every section even without supporting chunks; leave its evidence empty.
- Evidence entries copy chunk_id, source and namespace of a chunk above.
- system_type is one of API, Service, Database, External, Other.
- rule_type is one of Functional, Validation, Performance, Security, Operational.
- derived_from is AcceptanceCriteria or RetrievedChunk.

Answer with this JSON object:
{
  "intent_identification": {"summary": "...", "evidence": [{"chunk_id": "...", "source": "...", "namespace": "..."}]},
  "story_goal": {"goal_statement": "...", "success_conditions": ["..."], "evidence": []},
  "in_scope_systems": [{"system_name": "...", "system_type": "...", "responsibility": "...", "evidence": []}],
  "constraints_and_rules": [{"rule": "...", "rule_type": "...", "derived_from": "...", "evidence": []}],
  "grounding_statement": "..."
}
grounding_statement states that everything above comes only from the work item and the retrieved chunks.`,
		item.Key, strings.Join(item.Labels, ", "), item.Description, encoded), nil
}

func casesPrompt(item workitems.WorkItem, sc *StructuredContext, fixVersion string) (string, error) {
	encoded, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding structured context: %w", err)
	}
	if fixVersion == "" {
		fixVersion = "(none)"
	}

	return fmt.Sprintf(`Derive automation-ready test cases from the structured context of a work item.

Structured context (authoritative):
%s

Work item metadata (naming only):
- Key: %s
- Labels: %s
- Priority: %s
- Fix version: %s
- Description: %s

Rules:
- Test only behavior stated in the structured context. Never guess.
- Cover positive and negative scenarios where validation is stated.
- Add boundary cases only for stated limits, auth cases only for stated auth.
- No duplicate or overlapping cases. Each case is independent and order-agnostic.
- test_steps are numbered and deterministic.
- expected_result is binary and observable through UI, API response or logs.
- priority is High, Medium or Low.
- label encodes layer and intent, e.g. UI_Validation or API_Regression.
- test_data holds concrete values, or exactly "%s".
- An empty list is a valid answer when the context is insufficient.

Answer with this JSON object:
{"test_cases": [{"external_id": "...", "name": "...", "scenario": "...", "label": "...", "fix_version": "...", "priority": "...", "test_steps": "...", "expected_result": "...", "test_data": "..."}]}`,
		encoded, item.Key, strings.Join(item.Labels, ", "), item.Priority, fixVersion, item.Description, NoTestData), nil
}
