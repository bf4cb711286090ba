package units

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-nutriscan/infrastructure/middleware"
	"github.com/ahrav/go-nutriscan/internal/domain"
	"github.com/ahrav/go-nutriscan/internal/ports"
)

var _ ports.Analyzer = (*EnsembleAnalyzer)(nil)

const (
	// DefaultEnsembleMaxConcurrency bounds concurrent model calls per photo.
	DefaultEnsembleMaxConcurrency = 4

	// ModeEnsemble labels metrics emitted by the ensemble analyzer.
	ModeEnsemble = "ensemble"

	tracerName = "github.com/ahrav/go-nutriscan/infrastructure/units"
)

// EnsembleAnalyzer sends the same photo to several models concurrently and
// merges whatever succeeded into one consensus.
//
// A member failure never cancels the other members. When every member fails
// the primary analyzer gets one more attempt on its own; its result is then
// returned as a single-member consensus.
//
// Concurrency: safe for concurrent use. Each Analyze call owns its result
// slots; members must themselves be safe for concurrent use.
type EnsembleAnalyzer struct {
	name       string
	members    []ports.Analyzer
	primary    ports.Analyzer
	aggregator domain.Aggregator
	config     EnsembleConfig

	logger  *zap.Logger
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// EnsembleConfig defines the fan-out parameters.
type EnsembleConfig struct {
	// MaxConcurrency limits simultaneous member calls.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=1,max=32"`
}

// DefaultEnsembleConfig returns the standard fan-out parameters.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{MaxConcurrency: DefaultEnsembleMaxConcurrency}
}

// EnsembleOption customizes an EnsembleAnalyzer.
type EnsembleOption func(*EnsembleAnalyzer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) EnsembleOption {
	return func(e *EnsembleAnalyzer) { e.logger = logger }
}

// WithMetrics sets the metrics collector. The default records nothing.
func WithMetrics(metrics ports.MetricsCollector) EnsembleOption {
	return func(e *EnsembleAnalyzer) { e.metrics = metrics }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) EnsembleOption {
	return func(e *EnsembleAnalyzer) { e.tracer = tp.Tracer(tracerName) }
}

// NewEnsembleAnalyzer creates an EnsembleAnalyzer. A nil primary defaults to
// the first member.
func NewEnsembleAnalyzer(
	name string,
	members []ports.Analyzer,
	primary ports.Analyzer,
	aggregator domain.Aggregator,
	config EnsembleConfig,
	opts ...EnsembleOption,
) (*EnsembleAnalyzer, error) {
	if name == "" {
		return nil, fmt.Errorf("analyzer name cannot be empty")
	}
	if len(members) == 0 {
		return nil, ErrNoAnalyzers
	}
	if aggregator == nil {
		return nil, fmt.Errorf("aggregator cannot be nil")
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: ensemble: %w", domain.ErrInvalidConfiguration, err)
	}
	if primary == nil {
		primary = members[0]
	}

	e := &EnsembleAnalyzer{
		name:       name,
		members:    append([]ports.Analyzer(nil), members...),
		primary:    primary,
		aggregator: aggregator,
		config:     config,
		logger:     zap.NewNop(),
		metrics:    noopMetrics{},
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Name returns the analyzer name.
func (e *EnsembleAnalyzer) Name() string { return e.name }

// Members returns the names of the ensemble members in order.
func (e *EnsembleAnalyzer) Members() []string {
	names := make([]string, len(e.members))
	for i, m := range e.members {
		names[i] = m.Name()
	}
	return names
}

// Analyze implements ports.Analyzer by returning the content of the
// consensus.
func (e *EnsembleAnalyzer) Analyze(ctx context.Context, img ports.Image) (domain.AnalysisResult, error) {
	consensus, err := e.AnalyzeConsensus(ctx, img, "")
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return consensus.AnalysisResult, nil
}

// AnalyzeConsensus fans img out to every member, aggregates the successes
// and stamps the consensus with ref.
func (e *EnsembleAnalyzer) AnalyzeConsensus(
	ctx context.Context,
	img ports.Image,
	ref domain.ImageRef,
) (domain.ConsensusResult, error) {
	ctx, span := e.tracer.Start(ctx, "ensemble.analyze",
		trace.WithAttributes(
			attribute.String("ensemble.name", e.name),
			attribute.Int("ensemble.members", len(e.members)),
		),
	)
	defer span.End()

	start := time.Now()
	results, errs := e.fanOut(ctx, img)
	span.SetAttributes(attribute.Int("ensemble.succeeded", len(results)))

	if len(results) == 0 {
		result, err := e.fallback(ctx, img, errs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "all models failed")
			return domain.ConsensusResult{}, err
		}
		span.SetAttributes(attribute.Bool("ensemble.primary_fallback", true))
		results = []domain.AnalysisResult{result}
	}

	consensus, err := e.aggregator.Aggregate(results, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ConsensusResult{}, fmt.Errorf("ensemble %s: %w", e.name, err)
	}

	e.record(consensus, time.Since(start))
	e.logger.Info("ensemble consensus reached",
		zap.String("ensemble", e.name),
		zap.String("consensus_id", consensus.ID),
		zap.Int("succeeded", len(results)),
		zap.Int("members", len(e.members)),
		zap.Float64("calories", consensus.Nutrition.Calories),
		zap.Float64("health_score", consensus.HealthScore),
		zap.Duration("elapsed", time.Since(start)))
	span.SetStatus(codes.Ok, "")
	return consensus, nil
}

// fanOut runs every member and returns the successes in member order along
// with the failures.
func (e *EnsembleAnalyzer) fanOut(ctx context.Context, img ports.Image) ([]domain.AnalysisResult, []error) {
	slots := make([]domain.AnalysisResult, len(e.members))
	failures := make([]error, len(e.members))

	// Members report failure through their slot so one failure does not
	// cancel the rest of the group.
	var g errgroup.Group
	g.SetLimit(e.config.MaxConcurrency)
	for i, m := range e.members {
		g.Go(func() error {
			result, err := m.Analyze(ctx, img)
			if err != nil {
				failures[i] = err
				return nil
			}
			slots[i] = result
			return nil
		})
	}
	_ = g.Wait()

	var (
		results []domain.AnalysisResult
		errs    []error
	)
	for i, m := range e.members {
		if err := failures[i]; err != nil {
			e.logger.Warn("ensemble member failed",
				zap.String("ensemble", e.name),
				zap.String("model", m.Name()),
				zap.Error(err))
			e.metrics.RecordCounter(middleware.MetricModelFailures, 1, map[string]string{
				"model": m.Name(),
				"mode":  ModeEnsemble,
			})
			errs = append(errs, err)
			continue
		}
		results = append(results, slots[i])
	}
	return results, errs
}

// fallback gives the primary analyzer one solo attempt after the whole
// ensemble failed.
func (e *EnsembleAnalyzer) fallback(ctx context.Context, img ports.Image, memberErrs []error) (domain.AnalysisResult, error) {
	errs := append([]error{ErrAllModelsFailed}, memberErrs...)
	if err := ctx.Err(); err != nil {
		return domain.AnalysisResult{}, errors.Join(append(errs, err)...)
	}

	e.logger.Warn("every ensemble member failed, falling back to primary model",
		zap.String("ensemble", e.name),
		zap.String("primary", e.primary.Name()))

	result, err := e.primary.Analyze(ctx, img)
	if err != nil {
		e.metrics.RecordCounter(middleware.MetricModelFailures, 1, map[string]string{
			"model": e.primary.Name(),
			"mode":  ModeEnsemble,
		})
		return domain.AnalysisResult{}, errors.Join(append(errs, err)...)
	}
	return result, nil
}

func (e *EnsembleAnalyzer) record(consensus domain.ConsensusResult, elapsed time.Duration) {
	labels := map[string]string{"mode": ModeEnsemble}
	e.metrics.RecordHistogram(middleware.MetricEnsembleSize, float64(consensus.EnsembleSize), labels)
	e.metrics.RecordHistogram(middleware.MetricHealthScore, consensus.HealthScore, labels)
	for _, item := range consensus.FoodItems {
		e.metrics.RecordHistogram(middleware.MetricConsensusConfidence, item.EffectiveConfidence(), labels)
	}
	e.metrics.RecordLatency("ensemble_analysis", elapsed, labels)
}

// noopMetrics discards every measurement.
type noopMetrics struct{}

func (noopMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (noopMetrics) RecordCounter(string, float64, map[string]string)       {}
func (noopMetrics) RecordGauge(string, float64, map[string]string)         {}
func (noopMetrics) RecordHistogram(string, float64, map[string]string)     {}
