package ports

import (
	"context"

	"github.com/ahrav/go-nutriscan/internal/domain"
)

// Analyzer turns one meal photo into one analysis. Implementations range from
// a single model call to a whole ensemble.
// Analyzers must be safe for concurrent use.
type Analyzer interface {
	// Name returns a stable identifier, typically "provider/model".
	Name() string

	// Analyze inspects img and returns a fully defaulted AnalysisResult.
	// It respects ctx cancellation.
	Analyze(ctx context.Context, img Image) (domain.AnalysisResult, error)
}
