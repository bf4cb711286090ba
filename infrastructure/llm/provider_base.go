package llm

import (
	"sync"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

// BaseProvider provides common, thread-safe functionality for all LLM
// providers, primarily for managing the model name.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the name of the model currently configured for the provider.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name for the provider.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions represents a standardized set of configuration parameters
// for a vision request.
type RequestOptions struct {
	// MaxTokens specifies the maximum number of tokens to generate.
	MaxTokens int
	// Model is the identifier of the language model to use for the request.
	Model string
	// Temperature controls the randomness of the output. Nil selects
	// DefaultTemperature.
	Temperature *float64
	// TopP is the nucleus sampling threshold. Nil leaves the provider default.
	TopP *float64
	// System provides instructions that precede the user turn.
	System string
	// JSON asks the provider to constrain output to a JSON object.
	JSON bool
	// Extra holds any provider-specific options that are not part of the
	// standardized set.
	Extra map[string]any
}

// ParseRequestOptions extracts and validates request parameters from a map,
// using defaults for missing or invalid entries. Unrecognized options are
// collected into Extra.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	temp := ExtractOptionalFloat64(opts, OptTemperature, DefaultTemperature, IsValidTemperature)
	options := RequestOptions{
		MaxTokens:   ExtractOptionalInt(opts, OptMaxTokens, DefaultMaxTokens, IsPositiveInt),
		Model:       ExtractOptionalString(opts, OptModel, defaultModel, IsNonEmptyString),
		System:      ExtractOptionalString(opts, OptSystem, "", nil),
		Temperature: &temp,
		JSON:        wantsJSON(opts),
		Extra:       make(map[string]any),
	}

	if topP := ExtractOptionalFloat64(opts, OptTopP, -1, IsValidTopP); topP != -1 {
		options.TopP = &topP
	}

	for k, v := range opts {
		switch k {
		case OptMaxTokens, OptModel, OptSystem, OptTemperature, OptTopP, OptResponseFormat:
		default:
			options.Extra[k] = v
		}
	}

	return options
}

// imageTokenCost approximates the prompt tokens billed for one image when
// the provider does not report usage.
const imageTokenCost = 765

// TokenCounter estimates token counts when a provider omits usage data.
type TokenCounter struct {
	// CharactersPerToken is the average number of characters per token.
	CharactersPerToken float64
}

// NewTokenCounter creates a new TokenCounter with the usual English ratio.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4.0}
}

// EstimateTokens calculates an estimated token count for a given string of text.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text)) / tc.CharactersPerToken)
}

// GetTokenCount returns actualCount when positive and an estimate otherwise.
func (tc *TokenCounter) GetTokenCount(actualCount int, text string) int {
	if actualCount > 0 {
		return actualCount
	}
	return tc.EstimateTokens(text)
}

// GetPromptTokenCount is GetTokenCount for the input side, which also pays
// for the attached images.
func (tc *TokenCounter) GetPromptTokenCount(actualCount int, prompt string, images []ports.Image) int {
	if actualCount > 0 {
		return actualCount
	}
	return tc.EstimateTokens(prompt) + len(images)*imageTokenCost
}
