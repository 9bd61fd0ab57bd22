// Package testcases turns work items into automation-ready test cases.
//
// For every work item matching a label, the retrieved chunks and the item's
// description are condensed by the model into a StructuredContext. A second
// call derives TestCases from that context only. Each story's cases are
// written to a CSV file.
package testcases

import (
	"slices"
	"strconv"
	"strings"
)

// EvidenceRef points at a retrieved chunk supporting a statement.
type EvidenceRef struct {
	ChunkID   string `json:"chunk_id"`
	Source    string `json:"source"`
	Namespace string `json:"namespace"`
}

// Intent is why the story exists.
type Intent struct {
	Summary  string        `json:"summary"`
	Evidence []EvidenceRef `json:"evidence"`
}

// StoryGoal is the outcome that satisfies the acceptance criteria.
type StoryGoal struct {
	GoalStatement     string        `json:"goal_statement"`
	SuccessConditions []string      `json:"success_conditions"`
	Evidence          []EvidenceRef `json:"evidence"`
}

// System types.
const (
	SystemAPI      = "API"
	SystemService  = "Service"
	SystemDatabase = "Database"
	SystemExternal = "External"
	SystemOther    = "Other"
)

// InScopeSystem is a component the story touches.
type InScopeSystem struct {
	SystemName     string        `json:"system_name"`
	SystemType     string        `json:"system_type"`
	Responsibility string        `json:"responsibility"`
	Evidence       []EvidenceRef `json:"evidence"`
}

// Rule types and origins.
const (
	RuleFunctional  = "Functional"
	RuleValidation  = "Validation"
	RulePerformance = "Performance"
	RuleSecurity    = "Security"
	RuleOperational = "Operational"

	FromAcceptanceCriteria = "AcceptanceCriteria"
	FromRetrievedChunk     = "RetrievedChunk"
)

// ConstraintRule is a rule the implementation must hold to.
type ConstraintRule struct {
	Rule        string        `json:"rule"`
	RuleType    string        `json:"rule_type"`
	DerivedFrom string        `json:"derived_from"`
	Evidence    []EvidenceRef `json:"evidence"`
}

// StructuredContext is the grounded reading of one story.
type StructuredContext struct {
	IntentIdentification Intent           `json:"intent_identification"`
	StoryGoal            StoryGoal        `json:"story_goal"`
	InScopeSystems       []InScopeSystem  `json:"in_scope_systems"`
	ConstraintsAndRules  []ConstraintRule `json:"constraints_and_rules"`
	GroundingStatement   string           `json:"grounding_statement"`
}

// complete reports whether the model filled the sections test cases are
// derived from.
func (sc *StructuredContext) complete() bool {
	return strings.TrimSpace(sc.IntentIdentification.Summary) != "" &&
		strings.TrimSpace(sc.StoryGoal.GoalStatement) != ""
}

// normalize canonicalizes enum fields and drops evidence that does not
// reference a retrieved chunk. It returns the number of dropped refs.
func (sc *StructuredContext) normalize(known map[string]bool) int {
	dropped := 0
	keep := func(refs []EvidenceRef) []EvidenceRef {
		before := len(refs)
		refs = slices.DeleteFunc(refs, func(r EvidenceRef) bool { return !known[r.ChunkID] })
		dropped += before - len(refs)
		return refs
	}

	sc.IntentIdentification.Evidence = keep(sc.IntentIdentification.Evidence)
	sc.StoryGoal.Evidence = keep(sc.StoryGoal.Evidence)
	for i := range sc.InScopeSystems {
		s := &sc.InScopeSystems[i]
		s.SystemType = canonical(s.SystemType, SystemOther,
			SystemAPI, SystemService, SystemDatabase, SystemExternal, SystemOther)
		s.Evidence = keep(s.Evidence)
	}
	for i := range sc.ConstraintsAndRules {
		r := &sc.ConstraintsAndRules[i]
		r.RuleType = canonical(r.RuleType, RuleFunctional,
			RuleFunctional, RuleValidation, RulePerformance, RuleSecurity, RuleOperational)
		r.DerivedFrom = canonical(r.DerivedFrom, FromRetrievedChunk,
			FromAcceptanceCriteria, FromRetrievedChunk)
		r.Evidence = keep(r.Evidence)
	}
	return dropped
}

// Priorities.
const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"
)

// NoTestData is the test_data value of a case that needs none.
const NoTestData = "Test data not needed"

// TestCase is one independent test, one CSV row.
type TestCase struct {
	ExternalID     string `json:"external_id"`
	Name           string `json:"name"`
	Scenario       string `json:"scenario"`
	Label          string `json:"label"`
	FixVersion     string `json:"fix_version"`
	Priority       string `json:"priority"`
	TestSteps      string `json:"test_steps"`
	ExpectedResult string `json:"expected_result"`
	TestData       string `json:"test_data"`
}

// testCaseList is the JSON object the model answers with.
type testCaseList struct {
	TestCases []TestCase `json:"test_cases"`
}

// normalizeCases drops cases without a name, steps or expected result and
// fills the fields the model may leave empty. Ids are renumbered
// "<key>-TC-<n>" when missing or duplicated.
func normalizeCases(key, fixVersion, defaultPriority string, cases []TestCase) []TestCase {
	out := make([]TestCase, 0, len(cases))
	seen := map[string]bool{}
	for _, tc := range cases {
		if strings.TrimSpace(tc.Name) == "" || strings.TrimSpace(tc.TestSteps) == "" || strings.TrimSpace(tc.ExpectedResult) == "" {
			continue
		}
		tc.Priority = canonical(tc.Priority, defaultPriority, PriorityHigh, PriorityMedium, PriorityLow)
		if strings.TrimSpace(tc.TestData) == "" {
			tc.TestData = NoTestData
		}
		if tc.FixVersion == "" {
			tc.FixVersion = fixVersion
		}
		out = append(out, tc)
	}
	for i := range out {
		id := strings.TrimSpace(out[i].ExternalID)
		if id == "" || seen[id] {
			id = key + "-TC-" + strconv.Itoa(i+1)
		}
		seen[id] = true
		out[i].ExternalID = id
	}
	return out
}

// canonical returns the allowed value equal to v ignoring case, or def.
func canonical(v, def string, allowed ...string) string {
	v = strings.TrimSpace(v)
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a
		}
	}
	return def
}

// storyPriority maps a tracker priority onto the case priority scale.
func storyPriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "highest", "high", "critical", "blocker", "p0", "p1":
		return PriorityHigh
	case "lowest", "low", "minor", "trivial", "p4", "p5":
		return PriorityLow
	default:
		return PriorityMedium
	}
}
