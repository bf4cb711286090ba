package units

import (
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/ahrav/go-nutriscan/internal/domain"
	"github.com/ahrav/go-nutriscan/internal/ports"
)

var _ ports.Analyzer = (*VisionAnalyzer)(nil)

// Request defaults for meal analysis: low temperature for stable numbers and
// enough output room for a full JSON reply.
const (
	DefaultAnalysisTemperature = 0.3
	DefaultAnalysisMaxTokens   = 2000
	DefaultAlternativeBelow    = 70
)

// VisionAnalyzer asks a single vision model to analyze a meal photo and
// turns its reply into an AnalysisResult.
// The analyzer is stateless apart from its client and is safe for concurrent
// use.
type VisionAnalyzer struct {
	client ports.LLMClient
	config VisionAnalyzerConfig
	tmpl   *template.Template
	logger *zap.Logger
}

// VisionAnalyzerConfig defines the request parameters of a VisionAnalyzer.
type VisionAnalyzerConfig struct {
	// Temperature controls sampling randomness.
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`

	// MaxTokens bounds the reply length.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"required,min=256,max=8192"`

	// Prompt overrides DefaultAnalysisPrompt. It is a text/template rendered
	// with PromptData.
	Prompt string `yaml:"prompt" json:"prompt" validate:"omitempty,min=20"`

	// AlternativeBelow is the health score under which the model is asked
	// for a healthier alternative.
	AlternativeBelow int `yaml:"alternative_below" json:"alternative_below" validate:"min=0,max=100"`

	// Notes is appended to the prompt as user context.
	Notes string `yaml:"notes" json:"notes" validate:"max=500"`

	// JSONMode requests structured JSON output from providers that support it.
	JSONMode bool `yaml:"json_mode" json:"json_mode"`
}

// DefaultVisionAnalyzerConfig returns the standard request parameters.
func DefaultVisionAnalyzerConfig() VisionAnalyzerConfig {
	return VisionAnalyzerConfig{
		Temperature:      DefaultAnalysisTemperature,
		MaxTokens:        DefaultAnalysisMaxTokens,
		AlternativeBelow: DefaultAlternativeBelow,
		JSONMode:         true,
	}
}

// NewVisionAnalyzer creates a VisionAnalyzer backed by client.
// A nil logger disables logging.
func NewVisionAnalyzer(client ports.LLMClient, config VisionAnalyzerConfig, logger *zap.Logger) (*VisionAnalyzer, error) {
	if client == nil {
		return nil, fmt.Errorf("LLM client cannot be nil")
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: vision analyzer: %w", domain.ErrInvalidConfiguration, err)
	}

	text := config.Prompt
	if text == "" {
		text = DefaultAnalysisPrompt
	}
	tmpl, err := parsePrompt(text)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &VisionAnalyzer{
		client: client,
		config: config,
		tmpl:   tmpl,
		logger: logger.With(zap.String("model", client.GetModel())),
	}, nil
}

// Name returns the model identifier of the underlying client.
func (va *VisionAnalyzer) Name() string { return va.client.GetModel() }

// Analyze sends img with the analysis prompt and parses the reply.
// Errors are wrapped with the model name.
func (va *VisionAnalyzer) Analyze(ctx context.Context, img ports.Image) (domain.AnalysisResult, error) {
	if img.IsEmpty() {
		return domain.AnalysisResult{}, fmt.Errorf("model %s: %w", va.Name(), ErrEmptyImage)
	}

	prompt, err := renderPrompt(va.tmpl, PromptData{
		AlternativeBelow: va.config.AlternativeBelow,
		Notes:            va.config.Notes,
	})
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("model %s: %w", va.Name(), err)
	}

	options := map[string]any{
		"temperature": va.config.Temperature,
		"max_tokens":  va.config.MaxTokens,
	}
	if va.config.JSONMode {
		options["response_format"] = map[string]string{"type": "json_object"}
	}

	start := time.Now()
	reply, tokensIn, tokensOut, err := va.client.CompleteWithUsage(ctx, prompt, []ports.Image{img}, options)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("model %s: %w", va.Name(), err)
	}

	result, err := ParseAnalysisResponse(va.Name(), reply)
	if err != nil {
		if !errors.Is(err, ErrNoFoodDetected) {
			va.logger.Debug("unusable model reply",
				zap.Int("reply_chars", len(reply)),
				zap.Error(err))
		}
		return domain.AnalysisResult{}, fmt.Errorf("model %s: %w", va.Name(), err)
	}

	va.logger.Debug("meal analyzed",
		zap.Duration("latency", time.Since(start)),
		zap.Int("tokens_in", tokensIn),
		zap.Int("tokens_out", tokensOut),
		zap.Int("food_items", len(result.FoodItems)),
		zap.Float64("calories", result.Nutrition.Calories))
	return result, nil
}
