package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   Expression
	}{
		{
			name: "project, one label and source",
			params: Params{
				Project:          "P",
				Labels:           []string{"x"},
				RestrictToSource: "mongodb",
				Strategy:         ProjectAndAnyLabelOrComponent,
			},
			want: And{Children: []Expression{
				Eq(FieldSource, "mongodb"),
				Eq(FieldProject, "P"),
				In(FieldLabels, []string{"x"}),
			}},
		},
		{
			name:   "nothing set",
			params: Params{Strategy: ProjectAndAnyLabelOrComponent},
			want:   nil,
		},
		{
			name:   "source only collapses to leaf",
			params: Params{RestrictToSource: "mongodb"},
			want:   Eq(FieldSource, "mongodb"),
		},
		{
			name: "labels and components nest an OR",
			params: Params{
				Project:    "P",
				Labels:     []string{"a"},
				Components: []string{"c"},
			},
			want: And{Children: []Expression{
				Eq(FieldProject, "P"),
				Or{Children: []Expression{
					In(FieldLabels, []string{"a"}),
					In(FieldComponents, []string{"c"}),
				}},
			}},
		},
		{
			name: "labels only strategy drops components",
			params: Params{
				RestrictToSource: "mongodb",
				Labels:           []string{"a", "b"},
				Components:       []string{"c"},
				Strategy:         ProjectAndLabelsOnly,
			},
			want: And{Children: []Expression{
				Eq(FieldSource, "mongodb"),
				In(FieldLabels, []string{"a", "b"}),
			}},
		},
		{
			name: "labels or components ignores source and project",
			params: Params{
				Project:          "P",
				RestrictToSource: "mongodb",
				Components:       []string{"c"},
				Strategy:         LabelsOrComponentsOnly,
			},
			want: In(FieldComponents, []string{"c"}),
		},
		{
			name:   "labels or components with nothing",
			params: Params{Project: "P", Strategy: LabelsOrComponentsOnly},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.params)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Build(tt.params), "build must be deterministic")
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultStrategy, s)

	s, err = ParseStrategy("labels_or_components_only")
	require.NoError(t, err)
	assert.Equal(t, LabelsOrComponentsOnly, s)

	_, err = ParseStrategy("everything")
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	meta := map[string]any{
		"source":     "mongodb",
		"project":    "PAY",
		"labels":     []any{"checkout", "payments"},
		"components": []string{"api"},
		"row_count":  5,
	}

	tests := []struct {
		name string
		expr Expression
		want bool
	}{
		{"nil matches all", nil, true},
		{"eq scalar", Eq("source", "mongodb"), true},
		{"eq scalar miss", Eq("source", "postgresql"), false},
		{"eq list contains", Eq("labels", "payments"), true},
		{"in list intersects", In("labels", []string{"x", "checkout"}), true},
		{"in list disjoint", In("components", []string{"ui"}), false},
		{"missing field", Eq("table_name", "orders"), false},
		{"numeric compare", Eq("row_count", "5"), true},
		{"and", AndOf(Eq("source", "mongodb"), Eq("project", "PAY")), true},
		{"and short", AndOf(Eq("source", "mongodb"), Eq("project", "OPS")), false},
		{"or", OrOf(Eq("project", "OPS"), In("components", []string{"api"})), true},
		{"built filter", Build(Params{Project: "PAY", Labels: []string{"payments"}, RestrictToSource: "mongodb"}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.expr, meta))
		})
	}
}

func TestToMap(t *testing.T) {
	expr := Build(Params{
		Project:          "P",
		Labels:           []string{"x"},
		Components:       []string{"c"},
		RestrictToSource: "mongodb",
	})

	want := map[string]any{
		"$and": []map[string]any{
			{"source": map[string]any{"$eq": "mongodb"}},
			{"project": map[string]any{"$eq": "P"}},
			{"$or": []map[string]any{
				{"labels": map[string]any{"$in": []string{"x"}}},
				{"components": map[string]any{"$in": []string{"c"}}},
			}},
		},
	}
	assert.Equal(t, want, ToMap(expr))
	assert.Equal(t, map[string]any{}, ToMap(nil))
}

func TestInCopiesValues(t *testing.T) {
	values := []string{"a"}
	leaf := In("labels", values)
	values[0] = "b"
	assert.Equal(t, []string{"a"}, leaf.Values())
}
