package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"churn-engine/internal/common"
	"churn-engine/internal/dataset"
)

// maxReported caps how many offending rows a single problem lists.
const maxReported = 3

// Spec is the operator-supplied column configuration. When Features is empty the feature
// set is inferred from the training frame.
type Spec struct {
	IDColumn       string   `yaml:"idColumn"`
	TargetColumn   string   `yaml:"targetColumn"`
	Features       []Column `yaml:"features"`
	PositiveLabels []string `yaml:"positiveLabels"`
	NegativeLabels []string `yaml:"negativeLabels"`
}

// Validate checks frame against the spec for the given role and returns the resulting
// Schema. All problems found are reported together in a *SchemaError.
func (s Spec) Validate(frame *dataset.Frame, role Role) (*Schema, error) {
	var problems []string

	if frame == nil || frame.Len() == 0 {
		return nil, &SchemaError{Role: role, Problems: []string{"dataset has no rows"}}
	}

	if s.IDColumn != "" {
		problems = append(problems, checkIdentifiers(frame, s.IDColumn)...)
	}

	if s.TargetColumn == "" {
		problems = append(problems, "no target column configured")
	}

	out := &Schema{
		IDColumn:       s.IDColumn,
		TargetColumn:   s.TargetColumn,
		PositiveLabels: orDefault(s.PositiveLabels, common.DefaultPositiveLabels),
		NegativeLabels: orDefault(s.NegativeLabels, common.DefaultNegativeLabels),
	}

	if role == RoleTraining && s.TargetColumn != "" {
		if !frame.Has(s.TargetColumn) {
			problems = append(problems, fmt.Sprintf("target column %q is absent", s.TargetColumn))
		} else {
			problems = append(problems, checkLabels(frame, out)...)
		}
	}

	if len(s.Features) == 0 {
		out.Features = inferFeatures(frame, s.IDColumn, s.TargetColumn)
		if len(out.Features) == 0 {
			problems = append(problems, "no feature columns remain after excluding identifier and target")
		}
	} else {
		out.Features = append([]Column(nil), s.Features...)
		seen := make(map[string]bool, len(s.Features))
		for _, c := range s.Features {
			switch {
			case c.Name == s.IDColumn || c.Name == s.TargetColumn:
				problems = append(problems, fmt.Sprintf("feature %q is also the identifier or target", c.Name))
			case seen[c.Name]:
				problems = append(problems, fmt.Sprintf("feature %q declared twice", c.Name))
			case c.Type != Numeric && c.Type != Categorical:
				problems = append(problems, fmt.Sprintf("feature %q has unknown type %q", c.Name, c.Type))
			case !frame.Has(c.Name):
				problems = append(problems, fmt.Sprintf("feature column %q is absent", c.Name))
			case c.Type == Numeric:
				problems = append(problems, checkNumeric(frame, c.Name)...)
			}
			seen[c.Name] = true
		}
	}

	if len(problems) > 0 {
		return nil, &SchemaError{Role: role, Problems: problems}
	}
	return out, nil
}

// CheckScoring verifies that frame can be scored by a model trained against s. The target
// column may be absent.
func (s *Schema) CheckScoring(frame *dataset.Frame) error {
	mismatch := &MismatchError{}

	if frame == nil {
		mismatch.Problems = append(mismatch.Problems, "no scoring data")
		return mismatch
	}

	for _, c := range s.Features {
		if !frame.Has(c.Name) {
			mismatch.MissingColumns = append(mismatch.MissingColumns, c.Name)
			continue
		}
		if c.Type == Numeric {
			mismatch.Problems = append(mismatch.Problems, checkNumeric(frame, c.Name)...)
		}
	}

	if s.IDColumn != "" {
		mismatch.Problems = append(mismatch.Problems, checkIdentifiers(frame, s.IDColumn)...)
	}

	if len(mismatch.MissingColumns) > 0 || len(mismatch.Problems) > 0 {
		return mismatch
	}
	return nil
}

// ParseNumeric parses a numeric cell. Missing cells report ok=false with a nil error.
func ParseNumeric(v string) (float64, bool, error) {
	if dataset.IsMissing(v) {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false, err
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false, fmt.Errorf("non-finite value %q", v)
	}
	return f, true, nil
}

func checkIdentifiers(frame *dataset.Frame, column string) []string {
	values, err := frame.Column(column)
	if err != nil {
		return []string{fmt.Sprintf("identifier column %q is absent", column)}
	}

	var problems []string
	seen := make(map[string]int, len(values))
	dups := 0
	for i, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			problems = append(problems, fmt.Sprintf("identifier column %q is empty at row %d", column, i))
			continue
		}
		if first, ok := seen[v]; ok {
			if dups < maxReported {
				problems = append(problems, fmt.Sprintf("identifier %q duplicated at rows %d and %d", v, first, i))
			}
			dups++
			continue
		}
		seen[v] = i
	}
	if dups > maxReported {
		problems = append(problems, fmt.Sprintf("%d more duplicate identifiers", dups-maxReported))
	}
	return problems
}

func checkLabels(frame *dataset.Frame, s *Schema) []string {
	values, _ := frame.Column(s.TargetColumn)
	var problems []string
	for i, v := range values {
		if _, err := s.Label(v); err != nil {
			problems = append(problems, fmt.Sprintf("target column %q row %d: %v", s.TargetColumn, i, err))
			if len(problems) == maxReported {
				break
			}
		}
	}
	return problems
}

func checkNumeric(frame *dataset.Frame, column string) []string {
	values, _ := frame.Column(column)
	var problems []string
	for i, v := range values {
		if _, _, err := ParseNumeric(v); err != nil {
			problems = append(problems, fmt.Sprintf("column %q is declared numeric but row %d holds %q", column, i, v))
			if len(problems) == maxReported {
				break
			}
		}
	}
	return problems
}

// inferFeatures classifies every remaining column once: numeric when each non-missing
// value parses as a finite float, categorical otherwise.
func inferFeatures(frame *dataset.Frame, idColumn, targetColumn string) []Column {
	var features []Column
	for _, name := range frame.Columns() {
		if name == idColumn || name == targetColumn || name == common.ProbabilityColumn {
			continue
		}
		values, _ := frame.Column(name)
		typ := Numeric
		observed := 0
		for _, v := range values {
			_, ok, err := ParseNumeric(v)
			if err != nil {
				typ = Categorical
				break
			}
			if ok {
				observed++
			}
		}
		if observed == 0 {
			typ = Categorical
		}
		features = append(features, Column{Name: name, Type: typ})
	}
	return features
}

func orDefault(v, def []string) []string {
	if len(v) > 0 {
		return append([]string(nil), v...)
	}
	return append([]string(nil), def...)
}
