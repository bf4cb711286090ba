package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-nutriscan/infrastructure/llm"
	"github.com/ahrav/go-nutriscan/infrastructure/middleware"
	"github.com/ahrav/go-nutriscan/infrastructure/units"
	"github.com/ahrav/go-nutriscan/internal/domain"
	"github.com/ahrav/go-nutriscan/internal/ports"
)

// Mode selects how a meal photo is analyzed.
type Mode string

// Supported analysis modes.
const (
	// ModeEnsemble asks every ensemble model and merges the answers.
	ModeEnsemble Mode = units.ModeEnsemble
	// ModeFallback asks models one at a time until one answers.
	ModeFallback Mode = "fallback"
	// ModeSingle asks only the primary model.
	ModeSingle Mode = "single"
)

// Modes lists the valid modes.
var Modes = []Mode{ModeEnsemble, ModeFallback, ModeSingle}

// ErrUnknownMode is returned by Analyze for a mode outside Modes.
var ErrUnknownMode = errors.New("unknown analysis mode")

// ParseMode maps a user supplied string to a Mode. The empty string selects
// ModeEnsemble.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeEnsemble, nil
	}
	m := Mode(s)
	if !slices.Contains(Modes, m) {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// ClientFactory hands out LLM clients for "provider/model" specs.
// *llm.Registry satisfies it.
type ClientFactory interface {
	GetClient(spec string) (ports.LLMClient, error)
}

// ServiceOption customizes a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clients ClientFactory
	unitOps []units.EnsembleOption
}

// WithClientFactory replaces the provider registry, typically with fakes in
// tests.
func WithClientFactory(f ClientFactory) ServiceOption {
	return func(o *serviceOptions) { o.clients = f }
}

// WithEnsembleOptions forwards extra options to the ensemble analyzer.
func WithEnsembleOptions(opts ...units.EnsembleOption) ServiceOption {
	return func(o *serviceOptions) { o.unitOps = append(o.unitOps, opts...) }
}

// Service analyzes meal photos in any of the supported modes.
// It is safe for concurrent use.
type Service struct {
	config  AppConfig
	logger  *zap.Logger
	metrics ports.MetricsCollector

	aggregator *units.ConsensusAggregator
	ensemble   *units.EnsembleAnalyzer
	fallback   *units.FallbackAnalyzer
	single     ports.Analyzer

	// sf collapses concurrent requests for the same image and mode.
	sf singleflight.Group
}

// NewService builds the provider registry with the configured middleware
// chain and the analyzers for every mode. A nil logger or metrics
// collector disables logging or metrics.
func NewService(
	cfg AppConfig,
	logger *zap.Logger,
	metrics ports.MetricsCollector,
	opts ...ServiceOption,
) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clients == nil {
		registry, err := NewRegistry(cfg, metrics)
		if err != nil {
			return nil, err
		}
		o.clients = registry
	}

	aggregator, err := units.NewConsensusAggregator(cfg.Aggregator)
	if err != nil {
		return nil, err
	}

	b := analyzerBuilder{
		clients: o.clients,
		config:  cfg.Analysis,
		logger:  logger,
		built:   make(map[string]*units.VisionAnalyzer),
	}

	members, err := b.all(cfg.Ensemble.Models)
	if err != nil {
		return nil, err
	}
	primary, err := b.get(cfg.PrimaryModel())
	if err != nil {
		return nil, err
	}
	chain, err := b.all(cfg.FallbackModels())
	if err != nil {
		return nil, err
	}

	ensembleOpts := []units.EnsembleOption{units.WithLogger(logger)}
	if metrics != nil {
		ensembleOpts = append(ensembleOpts, units.WithMetrics(metrics))
	}
	ensembleOpts = append(ensembleOpts, o.unitOps...)

	ensemble, err := units.NewEnsembleAnalyzer(
		string(ModeEnsemble),
		members,
		primary,
		aggregator,
		units.EnsembleConfig{MaxConcurrency: cfg.Ensemble.MaxConcurrency},
		ensembleOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ensemble analyzer: %w", err)
	}

	fallback, err := units.NewFallbackAnalyzer(string(ModeFallback), chain, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback analyzer: %w", err)
	}

	return &Service{
		config:     cfg,
		logger:     logger,
		metrics:    metrics,
		aggregator: aggregator,
		ensemble:   ensemble,
		fallback:   fallback,
		single:     primary,
	}, nil
}

// Config returns the configuration the service was built with.
func (s *Service) Config() AppConfig { return s.config }

// Analyze runs one analysis of img in mode and stamps the result with ref.
//
// Concurrent calls with identical image bytes and mode share a single
// execution. The shared work is detached from any one caller's cancellation
// and bounded by the configured analysis timeout instead; a caller whose ctx ends stops
// waiting and gets ctx.Err() while the others still receive the result. Each
// caller of a shared execution gets its own copy with a fresh ID, timestamp
// and ref.
func (s *Service) Analyze(
	ctx context.Context,
	img ports.Image,
	ref domain.ImageRef,
	mode Mode,
) (domain.ConsensusResult, error) {
	if mode == "" {
		mode = ModeEnsemble
	}
	if !slices.Contains(Modes, mode) {
		return domain.ConsensusResult{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if img.IsEmpty() {
		return domain.ConsensusResult{}, units.ErrEmptyImage
	}
	if err := ctx.Err(); err != nil {
		return domain.ConsensusResult{}, err
	}

	work := context.WithoutCancel(ctx)
	ch := s.sf.DoChan(requestKey(img, mode), func() (any, error) {
		return s.analyze(work, img, ref, mode)
	})

	select {
	case <-ctx.Done():
		return domain.ConsensusResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.ConsensusResult{}, res.Err
		}
		result := res.Val.(domain.ConsensusResult)
		if res.Shared {
			result = s.aggregator.Restamp(result, ref)
		}
		return result, nil
	}
}

func (s *Service) analyze(
	ctx context.Context,
	img ports.Image,
	ref domain.ImageRef,
	mode Mode,
) (domain.ConsensusResult, error) {
	if s.config.Timeout.Analysis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout.Analysis)
		defer cancel()
	}

	start := time.Now()
	var (
		result domain.ConsensusResult
		err    error
	)
	switch mode {
	case ModeEnsemble:
		result, err = s.ensemble.AnalyzeConsensus(ctx, img, ref)
	case ModeFallback:
		result, err = s.analyzeOne(ctx, s.fallback, img, ref)
	case ModeSingle:
		result, err = s.analyzeOne(ctx, s.single, img, ref)
	}
	elapsed := time.Since(start)

	s.record(mode, err, elapsed)
	if err != nil {
		s.logger.Warn("analysis failed",
			zap.String("mode", string(mode)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return domain.ConsensusResult{}, err
	}

	s.logger.Info("analysis completed",
		zap.String("mode", string(mode)),
		zap.String("id", result.ID),
		zap.Strings("models", result.Models),
		zap.Float64("health_score", result.HealthScore),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

// analyzeOne wraps a single analyzer's answer in a one-member consensus so
// every mode returns the same shape.
func (s *Service) analyzeOne(
	ctx context.Context,
	analyzer ports.Analyzer,
	img ports.Image,
	ref domain.ImageRef,
) (domain.ConsensusResult, error) {
	result, err := analyzer.Analyze(ctx, img)
	if err != nil {
		return domain.ConsensusResult{}, err
	}
	return s.aggregator.Aggregate([]domain.AnalysisResult{result}, ref)
}

func (s *Service) record(mode Mode, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	labels := map[string]string{"mode": string(mode), "status": outcome(err)}
	s.metrics.RecordCounter(middleware.MetricAnalyses, 1, labels)
	s.metrics.RecordLatency("analysis_"+string(mode), elapsed, labels)
}

// outcome classifies err for the analyses counter.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, units.ErrNoFoodDetected):
		return "no_food"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, units.ErrAllModelsFailed):
		return "all_failed"
	default:
		return "error"
	}
}

func requestKey(img ports.Image, mode Mode) string {
	sum := sha256.Sum256(img.Data)
	return string(mode) + ":" + hex.EncodeToString(sum[:])
}

// NewRegistry builds an llm.Registry whose clients share the middleware
// chain described by cfg. The first middleware is the outermost, so a
// traced request covers every retry and each retry passes the rate
// limiter and circuit breaker on its own.
func NewRegistry(cfg AppConfig, metrics ports.MetricsCollector) (*llm.Registry, error) {
	var chain []llm.Middleware
	if cfg.Tracing.Enabled {
		chain = append(chain, llm.TracingMiddleware(cfg.Tracing.ServiceName))
	}
	if metrics != nil {
		chain = append(chain, llm.MetricsMiddleware(metrics))
	}
	if cfg.Retry.MaxRetries > 0 {
		chain = append(chain, llm.RetryMiddleware(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay))
	}
	if cfg.CircuitBreaker.MaxFailures > 0 {
		chain = append(chain, llm.CircuitBreakerMiddleware(cfg.CircuitBreaker.MaxFailures, cfg.CircuitBreaker.Cooldown, metrics))
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		burst := max(cfg.RateLimit.Burst, 1)
		chain = append(chain, llm.RateLimitMiddleware(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst))
	}
	if cfg.Timeout.Request > 0 {
		chain = append(chain, llm.TimeoutMiddleware(cfg.Timeout.Request))
	}

	registry, err := llm.NewRegistry(llm.RegistryConfig{
		Providers:         cfg.ProviderConfigs(),
		DefaultProvider:   cfg.DefaultProvider,
		DefaultTimeout:    cfg.Timeout.Request,
		DefaultMiddleware: chain,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider registry: %w", err)
	}
	return registry, nil
}

// analyzerBuilder creates one VisionAnalyzer per model spec and reuses it
// across modes.
type analyzerBuilder struct {
	clients ClientFactory
	config  units.VisionAnalyzerConfig
	logger  *zap.Logger
	built   map[string]*units.VisionAnalyzer
}

func (b *analyzerBuilder) get(spec string) (*units.VisionAnalyzer, error) {
	if va, ok := b.built[spec]; ok {
		return va, nil
	}

	client, err := b.clients.GetClient(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", spec, err)
	}

	va, err := units.NewVisionAnalyzer(specClient{LLMClient: client, spec: spec}, b.config, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer for %s: %w", spec, err)
	}
	b.built[spec] = va
	return va, nil
}

func (b *analyzerBuilder) all(specs []string) ([]ports.Analyzer, error) {
	out := make([]ports.Analyzer, 0, len(specs))
	for _, spec := range specs {
		va, err := b.get(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, va)
	}
	return out, nil
}

// specClient reports the full "provider/model" spec as its model so results
// and logs name the provider too.
type specClient struct {
	ports.LLMClient
	spec string
}

func (c specClient) GetModel() string { return c.spec }
