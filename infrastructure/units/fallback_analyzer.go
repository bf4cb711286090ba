package units

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ahrav/go-nutriscan/internal/domain"
	"github.com/ahrav/go-nutriscan/internal/ports"
)

var _ ports.Analyzer = (*FallbackAnalyzer)(nil)

// FallbackAnalyzer tries its analyzers one after another and returns the
// first success.
type FallbackAnalyzer struct {
	name      string
	analyzers []ports.Analyzer
	logger    *zap.Logger
}

// NewFallbackAnalyzer creates a FallbackAnalyzer over analyzers, tried in
// the given order.
func NewFallbackAnalyzer(name string, analyzers []ports.Analyzer, logger *zap.Logger) (*FallbackAnalyzer, error) {
	if name == "" {
		return nil, fmt.Errorf("analyzer name cannot be empty")
	}
	if len(analyzers) == 0 {
		return nil, ErrNoAnalyzers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackAnalyzer{
		name:      name,
		analyzers: append([]ports.Analyzer(nil), analyzers...),
		logger:    logger,
	}, nil
}

// Name returns the analyzer name.
func (fa *FallbackAnalyzer) Name() string { return fa.name }

// Analyze returns the first successful analysis. When every analyzer fails
// the error matches ErrAllModelsFailed and every individual failure.
// ErrNoFoodDetected stops the chain, since another model looking at the same
// photo is not expected to find a meal either.
func (fa *FallbackAnalyzer) Analyze(ctx context.Context, img ports.Image) (domain.AnalysisResult, error) {
	errs := []error{ErrAllModelsFailed}
	for _, a := range fa.analyzers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		result, err := a.Analyze(ctx, img)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrNoFoodDetected) {
			return domain.AnalysisResult{}, err
		}

		fa.logger.Warn("model failed, trying next",
			zap.String("analyzer", fa.name),
			zap.String("model", a.Name()),
			zap.Error(err))
		errs = append(errs, err)
	}
	return domain.AnalysisResult{}, errors.Join(errs...)
}
