// Package llm provides a unified interface for sending meal photos to
// vision-capable LLM providers with built-in support for rate limiting,
// circuit breaking, retries, API-key rotation, metrics, and tracing.
//
// The package abstracts multiple providers (OpenAI, Anthropic, Google) behind
// a common CoreLLM interface and adds operational concerns through a
// middleware chain, so callers can switch providers without changing code.
//
// Basic usage:
//
//	client, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o",
//	})
//	img, err := llm.LoadImage("lunch.jpg")
//	response, err := client.Complete(ctx, prompt, []ports.Image{img}, nil)
//
// Advanced usage with middleware and key rotation:
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKeys: strings.Split(os.Getenv("ANTHROPIC_API_KEY"), ","),
//	    Model:   "claude-3-5-sonnet-20241022",
//	    Middleware: []llm.Middleware{
//	        llm.RateLimitMiddleware(5, 10),
//	        llm.CircuitBreakerMiddleware(5, 30*time.Second, metricsCollector),
//	        llm.MetricsMiddleware(metricsCollector),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

// CoreLLM defines the minimal interface that LLM providers must implement.
// The middleware system wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt and its images to the LLM provider and returns
	// the response text, input token count, output token count, and any error.
	// The opts parameter carries provider-neutral settings such as
	// temperature, max tokens, or JSON response mode.
	DoRequest(
		ctx context.Context,
		prompt string,
		images []ports.Image,
		opts map[string]any,
	) (
		response string,
		tokensIn, tokensOut int,
		err error,
	)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model to use for subsequent requests.
	SetModel(model string)
}

// TokenEstimator provides pluggable token estimation strategies.
type TokenEstimator interface {
	// EstimateTokens returns an approximate token count for the given text.
	EstimateTokens(text string) int
}

// ClientConfig holds all configuration options for creating an LLM client.
type ClientConfig struct {
	// APIKey authenticates requests to the LLM provider.
	APIKey string

	// APIKeys lists several keys for the same provider. When more than one
	// key is present the client rotates to the next key on authentication
	// or rate-limit failures. APIKey is ignored when APIKeys is non-empty.
	APIKeys []string

	// Model specifies which LLM model to use for requests.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// Timeout sets the maximum duration for individual requests.
	// Zero value means no timeout.
	Timeout time.Duration

	// TokenEstimator provides custom token counting logic.
	// If nil, a simple character-based estimator is used.
	TokenEstimator TokenEstimator

	// Middleware allows custom middleware insertion.
	// These are applied in the order specified, first is outermost.
	Middleware []Middleware
}

// keys returns the effective key list in rotation order.
func (c ClientConfig) keys() []string {
	if len(c.APIKeys) == 0 {
		if c.APIKey == "" {
			return nil
		}
		return []string{c.APIKey}
	}
	out := make([]string, 0, len(c.APIKeys))
	for _, k := range c.APIKeys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Client implements the ports.LLMClient interface with all cross-cutting concerns.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient creates a new LLM client with the specified provider and configuration.
// It builds one provider core per API key, puts them behind a key rotator
// when there is more than one, and then applies the middleware chain.
func NewClient(providerType string, config ClientConfig) (ports.LLMClient, error) {
	keys := config.keys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("API key is required")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := lookupProviderFactory(providerType)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	cores := make([]CoreLLM, 0, len(keys))
	for _, key := range keys {
		keyConfig := config
		keyConfig.APIKey = key
		keyConfig.APIKeys = nil

		core, err := factory(keyConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider: %w", err)
		}
		cores = append(cores, core)
	}

	core := cores[0]
	if len(cores) > 1 {
		core = newKeyRotatingLLM(cores)
	}

	core = Chain(core, config.Middleware...)

	estimator := config.TokenEstimator
	if estimator == nil {
		estimator = &SimpleTokenEstimator{}
	}

	return &Client{
		core:      core,
		estimator: estimator,
	}, nil
}

// Complete sends a prompt with images to the LLM and returns the response text.
func (c *Client) Complete(ctx context.Context, prompt string, images []ports.Image, options map[string]any) (string, error) {
	response, _, _, err := c.CompleteWithUsage(ctx, prompt, images, options)
	return response, err
}

// CompleteWithUsage sends a prompt with images to the LLM and returns detailed
// usage information for cost tracking.
func (c *Client) CompleteWithUsage(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	options map[string]any,
) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, images, options)
}

// EstimateTokens returns an approximate token count for the given text.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

// GetModel returns the currently configured model name from the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// SimpleTokenEstimator provides basic character-based token estimation,
// roughly 4 characters per token for English text.
type SimpleTokenEstimator struct{}

// EstimateTokens returns an approximate token count using character-based heuristics.
func (e *SimpleTokenEstimator) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ProviderFactory creates a CoreLLM implementation from configuration.
// Factories receive a config holding exactly one APIKey.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory allows registration of custom LLM provider factories.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[providerType] = factory
}

func lookupProviderFactory(providerType string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[providerType]
	return f, ok
}
