// Package application wires configuration, provider clients, and analyzers
// into the meal analysis service used by the CLI and the HTTP server.
package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-nutriscan/infrastructure/llm"
	"github.com/ahrav/go-nutriscan/infrastructure/units"
	"github.com/ahrav/go-nutriscan/internal/domain"
)

// AppConfig is the complete service configuration, normally read from a
// YAML file. Omitted sections keep the values from DefaultConfig.
type AppConfig struct {
	// DefaultProvider names the provider used for specs without a model.
	DefaultProvider string `yaml:"default_provider" validate:"required"`
	// Providers overrides or extends llm.DefaultProviders by name.
	Providers map[string]ProviderSettings `yaml:"providers" validate:"omitempty,dive"`
	// Analysis controls the prompt and request parameters of every model.
	Analysis units.VisionAnalyzerConfig `yaml:"analysis"`
	// Ensemble selects the models that are asked and merged.
	Ensemble EnsembleSettings `yaml:"ensemble"`
	// Aggregator tunes consensus merging.
	Aggregator units.AggregatorConfig `yaml:"aggregator"`
	// Retry configures retries of transient provider failures.
	Retry RetryConfig `yaml:"retry"`
	// RateLimit throttles requests per client.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// CircuitBreaker stops calling a provider after repeated failures.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	// Timeout bounds single requests and whole analyses.
	Timeout TimeoutConfig `yaml:"timeout"`
	// Tracing enables OpenTelemetry spans around provider calls.
	Tracing TracingConfig `yaml:"tracing"`
	// Logging configures the zap logger built by the CLI.
	Logging LoggingConfig `yaml:"logging"`
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`
}

// ProviderSettings describes one provider entry. Unlike llm.ProviderConfig
// it carries no middleware, which is assembled from the other sections.
type ProviderSettings struct {
	Type            string   `yaml:"type" validate:"required,oneof=openai anthropic google"`
	EnvVar          string   `yaml:"env_var" validate:"required"`
	DefaultModel    string   `yaml:"default_model" validate:"required"`
	SupportedModels []string `yaml:"supported_models" validate:"omitempty,dive,min=1"`
	BaseURL         string   `yaml:"base_url" validate:"omitempty,url"`
}

// EnsembleSettings lists models as "provider/model" specs.
type EnsembleSettings struct {
	// Models are queried concurrently in ensemble mode.
	Models []string `yaml:"models" validate:"required,min=1,max=8,dive,modelspec"`
	// Primary is consulted when every ensemble member fails and serves
	// single mode. Defaults to the first model.
	Primary string `yaml:"primary" validate:"omitempty,modelspec"`
	// Fallback is the order tried in fallback mode. Defaults to the
	// primary followed by the remaining models.
	Fallback []string `yaml:"fallback" validate:"omitempty,max=8,dive,modelspec"`
	// MaxConcurrency bounds in-flight member requests per analysis.
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=1,max=32"`
}

// RetryConfig controls llm.RetryMiddleware. MaxRetries of zero disables it.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" validate:"min=0,max=10"`
	BaseDelay  time.Duration `yaml:"base_delay" validate:"min=0"`
	MaxDelay   time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// RateLimitConfig controls llm.RateLimitMiddleware. A zero rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0,max=1000"`
	Burst             int     `yaml:"burst" validate:"min=0,max=1000"`
}

// CircuitBreakerConfig controls llm.CircuitBreakerMiddleware. MaxFailures
// of zero disables it.
type CircuitBreakerConfig struct {
	MaxFailures int           `yaml:"max_failures" validate:"min=0,max=100"`
	Cooldown    time.Duration `yaml:"cooldown" validate:"min=0"`
}

// TimeoutConfig holds the per-request and per-analysis deadlines.
type TimeoutConfig struct {
	Request  time.Duration `yaml:"request" validate:"min=0"`
	Analysis time.Duration `yaml:"analysis" validate:"min=0"`
}

// TracingConfig toggles llm.TracingMiddleware.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name" validate:"required_if=Enabled true"`
}

// LoggingConfig selects the zap level and encoding.
type LoggingConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Encoding string `yaml:"encoding" validate:"oneof=json console"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required,hostname_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"min=0"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" validate:"min=1024,max=33554432"`
}

// DefaultConfig returns a configuration that asks one model from each of
// the three native providers.
func DefaultConfig() AppConfig {
	return AppConfig{
		DefaultProvider: "openai",
		Analysis:        units.DefaultVisionAnalyzerConfig(),
		Ensemble: EnsembleSettings{
			Models: []string{
				"openai/" + llm.OpenAIDefaultModel,
				"anthropic/" + llm.AnthropicDefaultModel,
				"google/" + llm.GoogleDefaultModel,
			},
			MaxConcurrency: units.DefaultEnsembleMaxConcurrency,
		},
		Aggregator: units.DefaultAggregatorConfig(),
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   8 * time.Second,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 5, Burst: 10},
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
		Timeout: TimeoutConfig{
			Request:  60 * time.Second,
			Analysis: 3 * time.Minute,
		},
		Tracing: TracingConfig{ServiceName: "nutriscan"},
		Logging: LoggingConfig{Level: "info", Encoding: "json"},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 4 * time.Minute,
			MaxBodyBytes: 28 << 20,
		},
	}
}

// LoadConfig reads and validates the YAML configuration at path.
func LoadConfig(path string) (AppConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return AppConfig{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes data over DefaultConfig and validates the result.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func ParseConfig(data []byte) (AppConfig, error) {
	cfg := DefaultConfig()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	// An empty document decodes to io.EOF and leaves the defaults.
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return AppConfig{}, fmt.Errorf("YAML decode failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and then the cross-field rules tags cannot
// express: every referenced provider must be known.
func (c AppConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}

	providers := c.ProviderConfigs()
	if _, ok := providers[c.DefaultProvider]; !ok {
		return fmt.Errorf("%w: default provider %q is not configured",
			domain.ErrInvalidConfiguration, c.DefaultProvider)
	}

	specs := append([]string{c.Ensemble.Primary}, c.Ensemble.Models...)
	specs = append(specs, c.Ensemble.Fallback...)
	for _, spec := range specs {
		if spec == "" {
			continue
		}
		provider, _ := splitSpec(spec)
		if _, ok := providers[provider]; !ok {
			return fmt.Errorf("%w: model %q uses unknown provider %q",
				domain.ErrInvalidConfiguration, spec, provider)
		}
	}
	return nil
}

// ProviderConfigs merges the configured providers over llm.DefaultProviders.
func (c AppConfig) ProviderConfigs() map[string]llm.ProviderConfig {
	out := make(map[string]llm.ProviderConfig, len(llm.DefaultProviders)+len(c.Providers))
	for name, p := range llm.DefaultProviders {
		out[name] = p
	}
	for name, p := range c.Providers {
		out[name] = llm.ProviderConfig{
			Type:            p.Type,
			EnvVar:          p.EnvVar,
			DefaultModel:    p.DefaultModel,
			SupportedModels: p.SupportedModels,
			BaseURL:         p.BaseURL,
		}
	}
	return out
}

// PrimaryModel returns the configured primary or the first ensemble model.
func (c AppConfig) PrimaryModel() string {
	if c.Ensemble.Primary != "" {
		return c.Ensemble.Primary
	}
	return c.Ensemble.Models[0]
}

// FallbackModels returns the fallback order without duplicates.
func (c AppConfig) FallbackModels() []string {
	order := c.Ensemble.Fallback
	if len(order) == 0 {
		order = append([]string{c.PrimaryModel()}, c.Ensemble.Models...)
	}

	seen := make(map[string]struct{}, len(order))
	out := make([]string, 0, len(order))
	for _, spec := range order {
		if _, dup := seen[spec]; dup {
			continue
		}
		seen[spec] = struct{}{}
		out = append(out, spec)
	}
	return out
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterConfigValidators(v); err != nil {
		panic(err)
	}
	return v
}
