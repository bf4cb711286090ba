package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyEnsemble indicates that aggregation was requested over zero
	// analysis results. An empty merge has no defined meaning.
	ErrEmptyEnsemble = errors.New("empty ensemble: at least one analysis result is required")

	// ErrInvalidConfiguration indicates a configuration that cannot be used
	// to build analyzers.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// FieldViolation is one field that failed a range or format rule.
type FieldViolation struct {
	// Field is the JSON path of the value, such as "nutrition.calories" or
	// "foodItems[2].confidence".
	Field string
	// Rule is the rule that failed, such as "max=10000".
	Rule string
}

// ValidationError reports every field of an entity that was rejected.
type ValidationError struct {
	Entity     string
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + " failed " + v.Rule
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

// Add records a violation.
func (e *ValidationError) Add(field, rule string) {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Rule: rule})
}

// HasViolations reports whether any violation was recorded.
func (e *ValidationError) HasViolations() bool { return len(e.Violations) > 0 }

// NewValidationError creates an empty ValidationError for entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{Entity: entity}
}
