package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

// MockLLMClient implements the LLMClient interface with scripted responses
// for consistent testing of the analysis pipeline.
// Responses are consumed in order; once the script is exhausted the default
// response is returned for every further call.
type MockLLMClient struct {
	// model is the mock model identifier.
	model string

	mu sync.Mutex
	// script holds the queued responses, consumed front to back.
	script []MockResponse
	// fallback is returned after the script runs out.
	fallback MockResponse
	// calls records every request in arrival order.
	calls []MockCall
}

// MockResponse defines one scripted reply of the mock client.
type MockResponse struct {
	// Response is the raw text returned to the caller.
	Response string
	// Err, when set, is returned instead of Response.
	Err error
	// Delay simulates provider latency. It honors context cancellation.
	Delay time.Duration
	// TokensIn and TokensOut are reported by CompleteWithUsage.
	TokensIn  int
	TokensOut int
}

// MockCall captures the arguments of one Complete invocation.
type MockCall struct {
	Prompt  string
	Images  []ports.Image
	Options map[string]any
}

// NewMockLLMClient creates a MockLLMClient whose default reply is a valid
// analysis of a grilled chicken salad.
func NewMockLLMClient(model string) *MockLLMClient {
	return &MockLLMClient{
		model:    model,
		fallback: MockResponse{Response: SaladJSON, TokensIn: 900, TokensOut: 180},
	}
}

// AddResponse queues a reply. Queued replies are served before the default.
func (m *MockLLMClient) AddResponse(response MockResponse) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, response)
	return m
}

// SetDefault replaces the reply served once the script is exhausted.
func (m *MockLLMClient) SetDefault(response MockResponse) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = response
	return m
}

// Complete implements the LLMClient.Complete method.
func (m *MockLLMClient) Complete(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	options map[string]any,
) (string, error) {
	text, _, _, err := m.CompleteWithUsage(ctx, prompt, images, options)
	return text, err
}

// CompleteWithUsage implements the LLMClient.CompleteWithUsage method.
func (m *MockLLMClient) CompleteWithUsage(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	options map[string]any,
) (string, int, int, error) {
	if ctx.Err() != nil {
		return "", 0, 0, ctx.Err()
	}
	if prompt == "" {
		return "", 0, 0, fmt.Errorf("prompt cannot be empty")
	}

	resp := m.next(MockCall{Prompt: prompt, Images: images, Options: options})

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		case <-timer.C:
		}
	}

	if resp.Err != nil {
		return "", 0, 0, resp.Err
	}
	return resp.Response, resp.TokensIn, resp.TokensOut, nil
}

func (m *MockLLMClient) next(call MockCall) MockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, call)
	if len(m.script) == 0 {
		return m.fallback
	}
	resp := m.script[0]
	m.script = m.script[1:]
	return resp
}

// EstimateTokens implements the LLMClient.EstimateTokens method using
// roughly four characters per token.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens, nil
}

// GetModel implements the LLMClient.GetModel method.
func (m *MockLLMClient) GetModel() string { return m.model }

// Calls returns a copy of every request received so far.
func (m *MockLLMClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of requests received so far.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears the script and the call log.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = nil
	m.calls = nil
}

// Verify interface compliance at compile time.
var _ ports.LLMClient = (*MockLLMClient)(nil)
