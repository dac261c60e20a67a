// Package schema is the registry of column roles shared by training and scoring. A Spec is
// what the operator configures; a Schema is what Spec.Validate produces from a concrete
// training frame. The Schema is frozen on the trained model and every scoring frame is
// checked against it, never re-inferred.
package schema

import (
	"fmt"
	"strings"
)

// ColumnType is the declared type of a feature column.
type ColumnType string

const (
	Numeric     ColumnType = "numeric"
	Categorical ColumnType = "categorical"
)

// Role selects which checks Validate applies.
type Role int

const (
	RoleTraining Role = iota
	RoleScoring
)

func (r Role) String() string {
	if r == RoleScoring {
		return "scoring"
	}
	return "training"
}

// Column is one feature column and its declared type.
type Column struct {
	Name string     `json:"name" yaml:"name"`
	Type ColumnType `json:"type" yaml:"type"`
}

// Schema is the validated description of a dataset.
type Schema struct {
	IDColumn       string   `json:"id_column"`
	TargetColumn   string   `json:"target_column"`
	Features       []Column `json:"features"`
	PositiveLabels []string `json:"positive_labels"`
	NegativeLabels []string `json:"negative_labels"`
}

// FeatureNames returns the feature columns in schema order.
func (s *Schema) FeatureNames() []string {
	names := make([]string, len(s.Features))
	for i, c := range s.Features {
		names[i] = c.Name
	}
	return names
}

// Label maps a raw target cell to 0 or 1.
func (s *Schema) Label(value string) (int, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, p := range s.PositiveLabels {
		if v == strings.ToLower(p) {
			return 1, nil
		}
	}
	for _, n := range s.NegativeLabels {
		if v == strings.ToLower(n) {
			return 0, nil
		}
	}
	return 0, fmt.Errorf("unrecognised label %q", value)
}

// Equal reports whether two schemas describe the same columns, types and labels.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.IDColumn != o.IDColumn || s.TargetColumn != o.TargetColumn {
		return false
	}
	if len(s.Features) != len(o.Features) {
		return false
	}
	for i := range s.Features {
		if s.Features[i] != o.Features[i] {
			return false
		}
	}
	return equalStrings(s.PositiveLabels, o.PositiveLabels) && equalStrings(s.NegativeLabels, o.NegativeLabels)
}

// Clone returns a deep copy.
func (s *Schema) Clone() *Schema {
	c := *s
	c.Features = append([]Column(nil), s.Features...)
	c.PositiveLabels = append([]string(nil), s.PositiveLabels...)
	c.NegativeLabels = append([]string(nil), s.NegativeLabels...)
	return &c
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
