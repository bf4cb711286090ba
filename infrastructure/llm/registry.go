package llm

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

var (
	// ErrUnknownProvider is returned for a spec whose provider is not
	// configured.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUnsupportedModel is returned for a model outside the provider's
	// SupportedModels list.
	ErrUnsupportedModel = errors.New("model not supported")
	// ErrMissingAPIKey is returned when the provider's key variable is unset.
	ErrMissingAPIKey = errors.New("no API key")
)

// ProviderConfig describes one provider entry of a Registry.
type ProviderConfig struct {
	// Type selects the implementation: openai, anthropic or google. Any
	// OpenAI-compatible gateway uses "openai" with a BaseURL.
	Type string
	// EnvVar holds the API key, or several comma-separated keys for rotation.
	EnvVar       string
	DefaultModel string
	// SupportedModels restricts the accepted models. Empty accepts any.
	SupportedModels []string
	BaseURL         string
	// Middleware is appended after the registry-wide chain.
	Middleware []Middleware
}

// RegistryConfig configures NewRegistry.
type RegistryConfig struct {
	Providers         map[string]ProviderConfig
	DefaultProvider   string
	DefaultTimeout    time.Duration
	DefaultMiddleware []Middleware
}

// DefaultProviders lists the vision-capable models of each supported
// provider. The env var may hold several comma-separated keys.
var DefaultProviders = map[string]ProviderConfig{
	"openai": {
		Type:         "openai",
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: OpenAIDefaultModel,
		SupportedModels: []string{
			"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "gpt-4-turbo", "o4-mini",
		},
	},
	"anthropic": {
		Type:         "anthropic",
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
		SupportedModels: []string{
			"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022",
			"claude-3-7-sonnet-20250219", "claude-sonnet-4-20250514", "claude-opus-4-20250514",
		},
	},
	"google": {
		Type:         "google",
		EnvVar:       "GOOGLE_API_KEY",
		DefaultModel: GoogleDefaultModel,
		SupportedModels: []string{
			"gemini-1.5-flash", "gemini-1.5-pro", "gemini-2.0-flash", "gemini-2.5-flash", "gemini-2.5-pro",
		},
	},
	"openrouter": {
		Type:         "openai",
		EnvVar:       "OPENROUTER_API_KEY",
		DefaultModel: "openai/gpt-4o",
		BaseURL:      "https://openrouter.ai/api/v1",
	},
}

// Registry builds vision clients from "provider/model" specs and caches
// one client per resolved spec. API keys are read from the environment when
// a client is first requested. It is safe for concurrent use.
type Registry struct {
	providers       map[string]ProviderConfig
	defaultProvider string
	middleware      []Middleware
	timeout         time.Duration

	mu      sync.Mutex
	clients map[string]ports.LLMClient
}

// NewRegistry validates config and returns an empty Registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider cannot be empty")
	}
	if _, ok := config.Providers[config.DefaultProvider]; !ok {
		return nil, fmt.Errorf("%w: default provider %q", ErrUnknownProvider, config.DefaultProvider)
	}
	return &Registry{
		providers:       config.Providers,
		defaultProvider: config.DefaultProvider,
		middleware:      config.DefaultMiddleware,
		timeout:         config.DefaultTimeout,
		clients:         make(map[string]ports.LLMClient),
	}, nil
}

// Resolve splits spec at its first slash, so gateway models such as
// "openrouter/google/gemini-pro-vision" keep theirs. A bare provider name
// resolves to that provider's default model; the model is empty when the
// provider is unknown.
func (r *Registry) Resolve(spec string) (provider, model string) {
	provider, model, found := strings.Cut(spec, "/")
	if !found {
		model = r.providers[provider].DefaultModel
	}
	return provider, model
}

// GetDefaultClient returns the default model of the default provider.
func (r *Registry) GetDefaultClient() (ports.LLMClient, error) {
	return r.GetClient(r.defaultProvider)
}

// GetClient returns the cached client for spec, creating it on first use.
func (r *Registry) GetClient(spec string) (ports.LLMClient, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty model spec; use GetDefaultClient for the default provider")
	}
	provider, model := r.Resolve(spec)
	key := provider + "/" + model

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[key]; ok {
		return client, nil
	}
	client, err := r.newClient(provider, model)
	if err != nil {
		return nil, err
	}
	r.clients[key] = client
	return client, nil
}

func (r *Registry) newClient(provider, model string) (ports.LLMClient, error) {
	pc, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
	if len(pc.SupportedModels) > 0 && !slices.Contains(pc.SupportedModels, model) {
		return nil, fmt.Errorf("%w: %q by provider %q (supported: %s)",
			ErrUnsupportedModel, model, provider, strings.Join(pc.SupportedModels, ", "))
	}

	keys := LookupAPIKeys(pc.EnvVar)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w for provider %q: set %s", ErrMissingAPIKey, provider, pc.EnvVar)
	}

	return NewClient(pc.Type, ClientConfig{
		APIKeys:    keys,
		Model:      model,
		BaseURL:    pc.BaseURL,
		Timeout:    r.timeout,
		Middleware: slices.Concat(r.middleware, pc.Middleware),
	})
}

// ActiveProviders returns the sorted names of providers that have at least
// one client.
func (r *Registry) ActiveProviders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.clients))
	for key := range r.clients {
		provider, _, _ := strings.Cut(key, "/")
		names = append(names, provider)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// LookupAPIKeys reads envVar and splits it on commas, dropping blanks.
func LookupAPIKeys(envVar string) []string {
	var keys []string
	for _, k := range strings.Split(os.Getenv(envVar), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
