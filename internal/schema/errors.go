package schema

import (
	"fmt"
	"strings"
)

// SchemaError reports a dataset whose columns do not satisfy the configured Spec.
type SchemaError struct {
	Role     Role
	Problems []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid %s schema: %s", e.Role, strings.Join(e.Problems, "; "))
}

// MismatchError reports scoring data that is incompatible with a trained model's Schema.
type MismatchError struct {
	MissingColumns []string
	Problems       []string
}

func (e *MismatchError) Error() string {
	var parts []string
	if len(e.MissingColumns) > 0 {
		parts = append(parts, fmt.Sprintf("missing feature columns [%s]", strings.Join(e.MissingColumns, ", ")))
	}
	parts = append(parts, e.Problems...)
	return "scoring data does not match model schema: " + strings.Join(parts, "; ")
}
