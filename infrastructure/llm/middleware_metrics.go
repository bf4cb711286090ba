package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

// metricsLLM records latency, request counts, image counts, and token
// usage for every vision request.
type metricsLLM struct {
	forward
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects request metrics.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{forward: forward{next}, collector: collector}
	}
}

// DoRequest executes the request while collecting metrics.
func (m *metricsLLM) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.DoRequest(ctx, prompt, images, opts)

	if m.collector == nil {
		return response, tokensIn, tokensOut, err
	}

	model := m.next.GetModel()
	labels := map[string]string{
		"provider": providerForModel(model),
		"model":    model,
		"status":   requestStatus(ctx, err),
	}

	m.collector.RecordHistogram("llm_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)

	if err == nil {
		m.collector.RecordCounter("llm_images_total", float64(len(images)), labels)

		inLabels := copyLabels(labels)
		inLabels["token_type"] = "input"
		m.collector.RecordCounter("llm_tokens_total", float64(tokensIn), inLabels)

		outLabels := copyLabels(labels)
		outLabels["token_type"] = "output"
		m.collector.RecordCounter("llm_tokens_total", float64(tokensOut), outLabels)
	}

	return response, tokensIn, tokensOut, err
}

func requestStatus(ctx context.Context, err error) string {
	var pe *ProviderError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &pe) && pe.Type == ErrorTypeRateLimit:
		return "rate_limited"
	default:
		return "error"
	}
}

// providerForModel guesses the provider from well-known model name prefixes.
func providerForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "gemini"):
		return "google"
	}
	return "unknown"
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
