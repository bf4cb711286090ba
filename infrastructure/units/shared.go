// Package units provides the analysis units of the nutriscan pipeline: the
// vision analyzer that turns one model reply into an AnalysisResult, the
// fallback and ensemble analyzers that orchestrate several of them, and the
// consensus aggregator that merges an ensemble into one result.
package units

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Common errors returned by analyzer units.
var (
	// ErrNoFoodDetected is returned when a model reports that the photo does
	// not show a meal. The model's own message is wrapped alongside it.
	ErrNoFoodDetected = errors.New("no food detected")

	// ErrIncompleteResponse is returned when a model reply lacks one of the
	// required top-level fields.
	ErrIncompleteResponse = errors.New("model response is missing required fields")

	// ErrAllModelsFailed is returned when no analyzer produced a result.
	// Individual failures are joined to it.
	ErrAllModelsFailed = errors.New("all models failed")

	// ErrEmptyImage is returned when an analyzer is handed an image with no
	// bytes.
	ErrEmptyImage = errors.New("image data cannot be empty")

	// ErrNoAnalyzers is returned when an orchestrating analyzer is built
	// without members.
	ErrNoAnalyzers = errors.New("at least one analyzer is required")
)

// Package-level validator instance for configuration and response validation.
// Field names in errors follow the json tags so messages match the wire format.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}
