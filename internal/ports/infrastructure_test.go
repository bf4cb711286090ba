package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-nutriscan/internal/domain"
)

// Test that our interfaces can be implemented correctly

// mockLLMClient implements LLMClient interface
type mockLLMClient struct {
	model      string
	lastImages []Image
}

func (m *mockLLMClient) Complete(ctx context.Context, prompt string, images []Image, options map[string]any) (string, error) {
	out, _, _, err := m.CompleteWithUsage(ctx, prompt, images, options)
	return out, err
}

func (m *mockLLMClient) CompleteWithUsage(
	ctx context.Context,
	prompt string,
	images []Image,
	options map[string]any,
) (string, int, int, error) {
	m.lastImages = images
	return `{"foodItems":[]}`, len(prompt) / 4, 4, nil
}

func (m *mockLLMClient) EstimateTokens(text string) (int, error) {
	// Simple estimation: ~4 characters per token
	return len(text) / 4, nil
}

func (m *mockLLMClient) GetModel() string { return m.model }

// mockMetricsCollector implements MetricsCollector interface
type mockMetricsCollector struct {
	latencies  []time.Duration
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

func newMockMetricsCollector() *mockMetricsCollector {
	return &mockMetricsCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (m *mockMetricsCollector) RecordLatency(operation string, d time.Duration, labels map[string]string) {
	m.latencies = append(m.latencies, d)
}

func (m *mockMetricsCollector) RecordCounter(metric string, value float64, labels map[string]string) {
	m.counters[metric] += value
}

func (m *mockMetricsCollector) RecordGauge(metric string, value float64, labels map[string]string) {
	m.gauges[metric] = value
}

func (m *mockMetricsCollector) RecordHistogram(metric string, value float64, labels map[string]string) {
	m.histograms[metric] = append(m.histograms[metric], value)
}

// stubAnalyzer implements Analyzer interface
type stubAnalyzer struct{ name string }

func (s stubAnalyzer) Name() string { return s.name }

func (s stubAnalyzer) Analyze(ctx context.Context, img Image) (domain.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AnalysisResult{}, err
	}
	return domain.AnalysisResult{Model: s.name, HealthScore: domain.DefaultHealthScore}, nil
}

func TestInterfaceCompliance(t *testing.T) {
	var _ LLMClient = (*mockLLMClient)(nil)
	var _ MetricsCollector = (*mockMetricsCollector)(nil)
	var _ Analyzer = stubAnalyzer{}
}

func TestLLMClientReceivesImages(t *testing.T) {
	client := &mockLLMClient{model: "gpt-4o"}
	img := Image{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}

	resp, in, out, err := client.CompleteWithUsage(context.Background(), "describe this meal", []Image{img}, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"foodItems":[]}`, resp)
	assert.Equal(t, 4, in)
	assert.Equal(t, 4, out)
	require.Len(t, client.lastImages, 1)
	assert.Equal(t, "image/png", client.lastImages[0].MIMEType)
}

func TestImageEncoding(t *testing.T) {
	img := Image{MIMEType: "image/jpeg", Data: []byte("meal")}

	assert.Equal(t, "bWVhbA==", img.Base64())
	assert.Equal(t, "data:image/jpeg;base64,bWVhbA==", img.DataURL())
	assert.False(t, img.IsEmpty())
	assert.True(t, Image{}.IsEmpty())
}

func TestMetricsCollector(t *testing.T) {
	m := newMockMetricsCollector()

	m.RecordLatency("analyze", 150*time.Millisecond, map[string]string{"mode": "ensemble"})
	m.RecordCounter("analyses_total", 1, nil)
	m.RecordCounter("analyses_total", 2, nil)
	m.RecordGauge("ensemble_size", 3, nil)
	m.RecordHistogram("consensus_confidence", 0.8, nil)
	m.RecordHistogram("consensus_confidence", 0.6, nil)

	assert.Len(t, m.latencies, 1)
	assert.InDelta(t, 3.0, m.counters["analyses_total"], 1e-9)
	assert.InDelta(t, 3.0, m.gauges["ensemble_size"], 1e-9)
	assert.Equal(t, []float64{0.8, 0.6}, m.histograms["consensus_confidence"])
}

func TestAnalyzerHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stubAnalyzer{name: "openai/gpt-4o"}.Analyze(ctx, Image{})
	assert.ErrorIs(t, err, context.Canceled)
}
