package filter

import "fmt"

// Strategy selects how work-item fields are combined into a filter.
type Strategy string

const (
	// ProjectAndAnyLabelOrComponent ANDs the source and project clauses with
	// an OR of the labels and components clauses.
	ProjectAndAnyLabelOrComponent Strategy = "project_and_any_label_or_component"

	// ProjectAndLabelsOnly ANDs the source and project clauses with the
	// labels clause; components are ignored.
	ProjectAndLabelsOnly Strategy = "project_and_labels_only"

	// LabelsOrComponentsOnly ORs the labels and components clauses and
	// ignores source and project.
	LabelsOrComponentsOnly Strategy = "labels_or_components_only"
)

// DefaultStrategy is used when Params.Strategy is empty.
const DefaultStrategy = ProjectAndAnyLabelOrComponent

// ParseStrategy validates a strategy name. The empty string maps to
// DefaultStrategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case "":
		return DefaultStrategy, nil
	case ProjectAndAnyLabelOrComponent, ProjectAndLabelsOnly, LabelsOrComponentsOnly:
		return st, nil
	default:
		return "", fmt.Errorf("unknown filter strategy %q", s)
	}
}

// Params are the inputs to Build.
type Params struct {
	Project          string
	Labels           []string
	Components       []string
	RestrictToSource string
	Strategy         Strategy
}

// Build derives a filter expression from work-item fields.
//
// The result is nil when no clause applies, a bare Leaf when exactly one
// does, and an And or Or node otherwise. Identical params always produce an
// identical tree.
func Build(p Params) Expression {
	var base []Expression
	if p.RestrictToSource != "" {
		base = append(base, Eq(FieldSource, p.RestrictToSource))
	}
	if p.Project != "" {
		base = append(base, Eq(FieldProject, p.Project))
	}

	var labels, components Expression
	if len(p.Labels) > 0 {
		labels = In(FieldLabels, p.Labels)
	}
	if len(p.Components) > 0 {
		components = In(FieldComponents, p.Components)
	}

	switch p.Strategy {
	case ProjectAndLabelsOnly:
		return AndOf(append(base, labels)...)
	case LabelsOrComponentsOnly:
		return OrOf(labels, components)
	default:
		return AndOf(append(base, OrOf(labels, components))...)
	}
}
