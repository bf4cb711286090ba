package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

const (
	// AnthropicDefaultModel is the default vision-capable Claude model.
	AnthropicDefaultModel = "claude-3-5-sonnet-20241022"
)

// jsonOnlyInstruction is appended to the system prompt when JSON output is
// requested, since the Messages API has no response-format switch.
const jsonOnlyInstruction = "Respond with a single JSON object and no surrounding prose."

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider implements the CoreLLM interface for Anthropic's
// Messages API, sending images as base64 image blocks.
type anthropicProvider struct {
	BaseProvider
	client       anthropic.Client
	tokenCounter *TokenCounter
}

func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	// Retries belong to RetryMiddleware so they stay visible to metrics and
	// key rotation.
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		opts = append(opts, option.WithBaseURL(validatedURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: ValidateTimeout(config.Timeout)}))
	}

	return &anthropicProvider{
		BaseProvider: BaseProvider{model: model},
		client:       anthropic.NewClient(opts...),
		tokenCounter: NewTokenCounter(),
	}, nil
}

// DoRequest sends the prompt and images to Claude and returns the
// concatenated text blocks of the reply.
func (p *anthropicProvider) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())
	params := p.buildParams(prompt, images, options)

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	return p.processResponse(message, prompt, images)
}

// buildParams places the images ahead of the text prompt, which is the
// ordering Anthropic recommends for vision requests.
func (p *anthropicProvider) buildParams(
	prompt string,
	images []ports.Image,
	options RequestOptions,
) anthropic.MessageNewParams {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MIMEType, img.Base64()))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: int64(options.MaxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}

	if options.Temperature != nil {
		// Anthropic caps temperature at 1.0.
		params.Temperature = anthropic.Float(ClampFloat64(*options.Temperature, MinTemperature, 1.0))
	}

	if options.TopP != nil {
		params.TopP = anthropic.Float(*options.TopP)
	}

	system := options.System
	if options.JSON {
		system = strings.TrimSpace(system + "\n" + jsonOnlyInstruction)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	return params
}

func (p *anthropicProvider) processResponse(
	message *anthropic.Message,
	prompt string,
	images []ports.Image,
) (string, int, int, error) {
	var responseText strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			responseText.WriteString(text.Text)
		}
	}

	content := responseText.String()
	if content == "" {
		return "", 0, 0, ErrEmptyResponse
	}

	tokensIn := p.tokenCounter.GetPromptTokenCount(int(message.Usage.InputTokens), prompt, images)
	tokensOut := p.tokenCounter.GetTokenCount(int(message.Usage.OutputTokens), content)

	return content, tokensIn, tokensOut, nil
}

// handleError classifies Anthropic SDK errors into ProviderErrors.
func (p *anthropicProvider) handleError(err error) error {
	if isContextError(err) {
		return classifyContext("anthropic", err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus("anthropic", apiErr.StatusCode, "", err)
	}

	return NewProviderError("anthropic", ErrorTypeNetwork, 0, "request failed", err)
}
