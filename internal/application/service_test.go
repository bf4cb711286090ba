package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ahrav/go-nutriscan/infrastructure/middleware"
	"github.com/ahrav/go-nutriscan/infrastructure/units"
	"github.com/ahrav/go-nutriscan/internal/domain"
	"github.com/ahrav/go-nutriscan/internal/ports"
	"github.com/ahrav/go-nutriscan/internal/testutils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	gptSpec    = "openai/gpt-4o"
	claudeSpec = "anthropic/claude-3-5-sonnet-20241022"
	geminiSpec = "google/gemini-1.5-flash"
)

// fakeClients serves MockLLMClients by spec and counts lookups.
type fakeClients struct {
	mu      sync.Mutex
	clients map[string]*testutils.MockLLMClient
	lookups map[string]int
}

func newFakeClients(specs ...string) *fakeClients {
	f := &fakeClients{
		clients: make(map[string]*testutils.MockLLMClient),
		lookups: make(map[string]int),
	}
	for _, spec := range specs {
		f.clients[spec] = testutils.NewMockLLMClient(spec)
	}
	return f
}

func (f *fakeClients) GetClient(spec string) (ports.LLMClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups[spec]++
	c, ok := f.clients[spec]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", spec)
	}
	return c, nil
}

// countingMetrics records analyses counters keyed by mode and status.
type countingMetrics struct {
	mu       sync.Mutex
	analyses map[string]float64
	latency  map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{analyses: make(map[string]float64), latency: make(map[string]int)}
}

func (c *countingMetrics) RecordLatency(op string, _ time.Duration, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency[op]++
}

func (c *countingMetrics) RecordCounter(metric string, v float64, labels map[string]string) {
	if metric != middleware.MetricAnalyses {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.analyses[labels["mode"]+"/"+labels["status"]] += v
}

func (c *countingMetrics) RecordGauge(string, float64, map[string]string)     {}
func (c *countingMetrics) RecordHistogram(string, float64, map[string]string) {}

func testConfig() AppConfig {
	cfg := DefaultConfig()
	cfg.Ensemble.Models = []string{gptSpec, claudeSpec, geminiSpec}
	return cfg
}

func newTestService(t *testing.T, cfg AppConfig, clients *fakeClients, metrics ports.MetricsCollector) *Service {
	t.Helper()
	svc, err := NewService(cfg, nil, metrics,
		WithClientFactory(clients),
		WithEnsembleOptions(units.WithTracerProvider(noop.NewTracerProvider())),
	)
	require.NoError(t, err)
	return svc
}

func TestService_AnalyzeEnsemble(t *testing.T) {
	clients := newFakeClients(gptSpec, claudeSpec, geminiSpec)
	clients.clients[claudeSpec].AddResponse(testutils.MockResponse{Response: testutils.BurgerJSON})
	metrics := newCountingMetrics()
	svc := newTestService(t, testConfig(), clients, metrics)

	got, err := svc.Analyze(context.Background(), testutils.PNGImage(), "s3://meals/1.jpg", ModeEnsemble)
	require.NoError(t, err)

	assert.Equal(t, 3, got.EnsembleSize)
	assert.Equal(t, []string{gptSpec, claudeSpec, geminiSpec}, got.Models)
	assert.Equal(t, domain.ImageRef("s3://meals/1.jpg"), got.ImageRef)
	assert.Equal(t, 420.0, got.Nutrition.Calories)
	assert.Equal(t, []string{"gluten", "dairy"}, got.Allergens)
	assert.NotEmpty(t, got.ID)

	for _, spec := range []string{gptSpec, claudeSpec, geminiSpec} {
		assert.Equal(t, 1, clients.clients[spec].CallCount(), spec)
		assert.Equal(t, 1, clients.lookups[spec], "one client per spec is shared across modes")
	}
	assert.Equal(t, 1.0, metrics.analyses["ensemble/success"])
	assert.Equal(t, 1, metrics.latency["analysis_ensemble"])
}

func TestService_AnalyzeFallback(t *testing.T) {
	clients := newFakeClients(gptSpec, claudeSpec, geminiSpec)
	clients.clients[gptSpec].AddResponse(testutils.MockResponse{Err: errors.New("503 service unavailable")})
	clients.clients[claudeSpec].AddResponse(testutils.MockResponse{Response: testutils.BurgerJSON})
	svc := newTestService(t, testConfig(), clients, nil)

	got, err := svc.Analyze(context.Background(), testutils.PNGImage(), "img", ModeFallback)
	require.NoError(t, err)

	assert.Equal(t, 1, got.EnsembleSize)
	assert.Equal(t, []string{claudeSpec}, got.Models)
	assert.Equal(t, testutils.BurgerAnalysis(claudeSpec), got.AnalysisResult)
	assert.Zero(t, clients.clients[geminiSpec].CallCount())
}

func TestService_AnalyzeSingle(t *testing.T) {
	clients := newFakeClients(gptSpec, claudeSpec, geminiSpec)
	cfg := testConfig()
	cfg.Ensemble.Primary = geminiSpec
	svc := newTestService(t, cfg, clients, nil)

	got, err := svc.Analyze(context.Background(), testutils.PNGImage(), "img", ModeSingle)
	require.NoError(t, err)

	assert.Equal(t, testutils.SaladAnalysis(geminiSpec), got.AnalysisResult)
	assert.Equal(t, 1, clients.clients[geminiSpec].CallCount())
	assert.Zero(t, clients.clients[gptSpec].CallCount())
	assert.Zero(t, clients.clients[claudeSpec].CallCount())
}

func TestService_AnalyzeErrors(t *testing.T) {
	clients := newFakeClients(gptSpec, claudeSpec, geminiSpec)
	metrics := newCountingMetrics()
	svc := newTestService(t, testConfig(), clients, metrics)

	_, err := svc.Analyze(context.Background(), testutils.PNGImage(), "img", Mode("parallel"))
	assert.ErrorIs(t, err, ErrUnknownMode)

	_, err = svc.Analyze(context.Background(), ports.Image{MIMEType: "image/png"}, "img", ModeSingle)
	assert.ErrorIs(t, err, units.ErrEmptyImage)

	clients.clients[gptSpec].AddResponse(testutils.MockResponse{Response: testutils.NoFoodJSON})
	_, err = svc.Analyze(context.Background(), testutils.PNGImage(), "img", ModeSingle)
	assert.ErrorIs(t, err, units.ErrNoFoodDetected)
	assert.Equal(t, 1.0, metrics.analyses["single/no_food"])

	for _, spec := range []string{gptSpec, claudeSpec, geminiSpec} {
		clients.clients[spec].SetDefault(testutils.MockResponse{Err: errors.New("401 unauthorized")})
	}
	_, err = svc.Analyze(context.Background(), testutils.PNGImage(), "img", ModeEnsemble)
	assert.ErrorIs(t, err, units.ErrAllModelsFailed)
	assert.Equal(t, 1.0, metrics.analyses["ensemble/all_failed"])
}

func TestService_AnalysisTimeout(t *testing.T) {
	clients := newFakeClients(gptSpec, claudeSpec, geminiSpec)
	clients.clients[gptSpec].SetDefault(testutils.MockResponse{Response: testutils.SaladJSON, Delay: time.Minute})
	cfg := testConfig()
	cfg.Timeout.Analysis = 20 * time.Millisecond
	svc := newTestService(t, cfg, clients, nil)

	_, err := svc.Analyze(context.Background(), testutils.PNGImage(), "img", ModeSingle)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_SharesConcurrentIdenticalRequests(t *testing.T) {
	clients := newFakeClients(gptSpec, claudeSpec, geminiSpec)
	for _, c := range clients.clients {
		c.SetDefault(testutils.MockResponse{Response: testutils.SaladJSON, Delay: 100 * time.Millisecond})
	}
	svc := newTestService(t, testConfig(), clients, nil)

	const callers = 5
	results := make([]domain.ConsensusResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref := domain.ImageRef(fmt.Sprintf("upload-%d", i))
			results[i], errs[i] = svc.Analyze(context.Background(), testutils.PNGImage(), ref, ModeEnsemble)
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, domain.ImageRef(fmt.Sprintf("upload-%d", i)), results[i].ImageRef, "each caller keeps its own reference")
		assert.Equal(t, results[0].AnalysisResult, results[i].AnalysisResult)
	}
	ids := make(map[string]bool, callers)
	for _, r := range results {
		require.NotEmpty(t, r.ID)
		ids[r.ID] = true
	}
	assert.Len(t, ids, callers, "every caller gets its own consensus ID")
	for _, c := range clients.clients {
		assert.Equal(t, 1, c.CallCount(), "identical requests share one execution")
	}

	// A different mode is a different request.
	_, err := svc.Analyze(context.Background(), testutils.PNGImage(), "img", ModeSingle)
	require.NoError(t, err)
	assert.Equal(t, 2, clients.clients[gptSpec].CallCount())
}

func TestService_CancelledCallerDoesNotFailOthers(t *testing.T) {
	clients := newFakeClients(gptSpec, claudeSpec, geminiSpec)
	clients.clients[gptSpec].SetDefault(testutils.MockResponse{Response: testutils.SaladJSON, Delay: 150 * time.Millisecond})
	svc := newTestService(t, testConfig(), clients, nil)

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		wg        sync.WaitGroup
		leaderErr error
		got       domain.ConsensusResult
		gotErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, leaderErr = svc.Analyze(leaderCtx, testutils.PNGImage(), "leader", ModeSingle)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		got, gotErr = svc.Analyze(context.Background(), testutils.PNGImage(), "follower", ModeSingle)
	}()
	time.AfterFunc(50*time.Millisecond, cancel)
	wg.Wait()

	assert.ErrorIs(t, leaderErr, context.Canceled)
	require.NoError(t, gotErr)
	assert.Equal(t, domain.ImageRef("follower"), got.ImageRef)
	assert.Equal(t, testutils.SaladAnalysis(gptSpec), got.AnalysisResult)
	assert.Equal(t, 1, clients.clients[gptSpec].CallCount(), "the follower joined the running analysis")
}

func TestService_AlreadyCancelledContext(t *testing.T) {
	clients := newFakeClients(gptSpec, claudeSpec, geminiSpec)
	svc := newTestService(t, testConfig(), clients, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Analyze(ctx, testutils.PNGImage(), "img", ModeSingle)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, clients.clients[gptSpec].CallCount())
}

func TestService_SharedResultsAreIndependent(t *testing.T) {
	clients := newFakeClients(gptSpec, claudeSpec, geminiSpec)
	for _, c := range clients.clients {
		c.SetDefault(testutils.MockResponse{Response: testutils.BurgerJSON, Delay: 50 * time.Millisecond})
	}
	svc := newTestService(t, testConfig(), clients, nil)

	var wg sync.WaitGroup
	results := make([]domain.ConsensusResult, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = svc.Analyze(context.Background(), testutils.PNGImage(), "img", ModeEnsemble)
		}()
	}
	wg.Wait()

	require.NotEmpty(t, results[0].Warnings)
	results[0].Warnings[0] = "mutated"
	assert.NotEqual(t, "mutated", results[1].Warnings[0])
}

func TestService_LogsOutcome(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	clients := newFakeClients(gptSpec, claudeSpec, geminiSpec)
	svc, err := NewService(testConfig(), zap.New(core), nil,
		WithClientFactory(clients),
		WithEnsembleOptions(units.WithTracerProvider(noop.NewTracerProvider())),
	)
	require.NoError(t, err)

	_, err = svc.Analyze(context.Background(), testutils.PNGImage(), "img", ModeSingle)
	require.NoError(t, err)

	entries := logs.FilterMessage("analysis completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "single", fields["mode"])
	assert.Equal(t, 88.0, fields["health_score"])
}

func TestNewService_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.Ensemble.MaxConcurrency = 0
	_, err := NewService(cfg, nil, nil, WithClientFactory(newFakeClients(gptSpec, claudeSpec, geminiSpec)))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = NewService(testConfig(), nil, nil, WithClientFactory(newFakeClients(gptSpec, claudeSpec)))
	assert.ErrorContains(t, err, "failed to create client for "+geminiSpec)

	cfg = testConfig()
	cfg.Analysis.Prompt = "Describe this meal photo {{.Unknown"
	_, err = NewService(cfg, nil, nil, WithClientFactory(newFakeClients(gptSpec, claudeSpec, geminiSpec)))
	assert.ErrorContains(t, err, "failed to create analyzer for "+gptSpec)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeEnsemble},
		{in: "ensemble", want: ModeEnsemble},
		{in: "fallback", want: ModeFallback},
		{in: "single", want: ModeSingle},
		{in: "Single", wantErr: true},
		{in: "all", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRegistry(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-one, sk-two")

	cfg := testConfig()
	cfg.Tracing.Enabled = true
	registry, err := NewRegistry(cfg, newCountingMetrics())
	require.NoError(t, err)

	client, err := registry.GetClient(gptSpec)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", client.GetModel())
	assert.Equal(t, []string{"openai"}, registry.ActiveProviders())

	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err = registry.GetClient(claudeSpec)
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}
