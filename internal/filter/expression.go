// Package filter builds and evaluates metadata filter expressions.
//
// An Expression is a closed tree of Leaf, And and Or nodes. Backends translate
// it into their native filter language; the embedded store evaluates it
// directly with Matches.
package filter

import (
	"fmt"
	"slices"
)

// Op is a leaf comparison operator.
type Op string

const (
	// OpEq matches when the field equals Value. For list-valued metadata it
	// matches when the list contains Value.
	OpEq Op = "eq"

	// OpIn matches when the field equals any of Values. For list-valued
	// metadata it matches when the two sets intersect.
	OpIn Op = "in"
)

// Metadata field names understood by the builder.
const (
	FieldSource     = "source"
	FieldProject    = "project"
	FieldLabels     = "labels"
	FieldComponents = "components"
	FieldTableName  = "table_name"
)

// Expression is a node in a filter tree. A nil Expression matches everything.
type Expression interface {
	isExpression()
}

// Leaf compares one metadata field.
//
// Value holds a string for OpEq and a []string for OpIn.
type Leaf struct {
	Field string
	Op    Op
	Value any
}

// And matches when every child matches.
type And struct {
	Children []Expression
}

// Or matches when at least one child matches.
type Or struct {
	Children []Expression
}

func (Leaf) isExpression() {}
func (And) isExpression()  {}
func (Or) isExpression()   {}

// Eq returns a Leaf matching field == value.
func Eq(field, value string) Leaf {
	return Leaf{Field: field, Op: OpEq, Value: value}
}

// In returns a Leaf matching field against any of values.
func In(field string, values []string) Leaf {
	return Leaf{Field: field, Op: OpIn, Value: slices.Clone(values)}
}

// AndOf combines clauses with AND, collapsing zero clauses to nil and a
// single clause to itself.
func AndOf(clauses ...Expression) Expression {
	clauses = compact(clauses)
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	}
	return And{Children: clauses}
}

// OrOf combines clauses with OR using the same collapsing rule as AndOf.
func OrOf(clauses ...Expression) Expression {
	clauses = compact(clauses)
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	}
	return Or{Children: clauses}
}

func compact(clauses []Expression) []Expression {
	out := make([]Expression, 0, len(clauses))
	for _, c := range clauses {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Values returns the leaf operand as a string slice regardless of operator.
func (l Leaf) Values() []string {
	switch v := l.Value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Matches reports whether metadata satisfies expr. A nil expr matches.
func Matches(expr Expression, metadata map[string]any) bool {
	switch e := expr.(type) {
	case nil:
		return true
	case Leaf:
		return matchLeaf(e, metadata)
	case And:
		for _, c := range e.Children {
			if !Matches(c, metadata) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range e.Children {
			if Matches(c, metadata) {
				return true
			}
		}
		return false
	default:
		panic(fmt.Sprintf("filter: unknown expression type %T", expr))
	}
}

func matchLeaf(l Leaf, metadata map[string]any) bool {
	raw, ok := metadata[l.Field]
	if !ok || raw == nil {
		return false
	}
	have := stringsOf(raw)
	for _, want := range l.Values() {
		if slices.Contains(have, want) {
			return true
		}
	}
	return false
}

// stringsOf flattens a scalar or list metadata value into strings.
func stringsOf(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// ToMap renders expr in the $and/$or/$eq/$in document form used by hosted
// vector indexes and by the HTTP API. A nil expr renders as an empty map.
func ToMap(expr Expression) map[string]any {
	switch e := expr.(type) {
	case nil:
		return map[string]any{}
	case Leaf:
		op := "$eq"
		if e.Op == OpIn {
			op = "$in"
		}
		return map[string]any{e.Field: map[string]any{op: e.Value}}
	case And:
		return map[string]any{"$and": toMaps(e.Children)}
	case Or:
		return map[string]any{"$or": toMaps(e.Children)}
	default:
		panic(fmt.Sprintf("filter: unknown expression type %T", expr))
	}
}

func toMaps(children []Expression) []map[string]any {
	out := make([]map[string]any, len(children))
	for i, c := range children {
		out[i] = ToMap(c)
	}
	return out
}
