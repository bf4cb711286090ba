package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

func testGoogleProvider() *googleProvider {
	return &googleProvider{
		BaseProvider: BaseProvider{model: GoogleDefaultModel},
		tokenCounter: NewTokenCounter(),
	}
}

func TestGoogleProvider_BuildContents(t *testing.T) {
	p := testGoogleProvider()
	img := testImage()

	contents := p.buildContents("Describe the meal.", []ports.Image{img})
	require.Len(t, contents, 1)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)

	parts := contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "Describe the meal.", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
	assert.Equal(t, img.Data, parts[1].InlineData.Data)
}

func TestGoogleProvider_BuildGenerationConfig(t *testing.T) {
	p := testGoogleProvider()

	cfg := p.buildGenerationConfig(ParseRequestOptions(map[string]any{
		OptResponseFormat: ResponseFormatJSON,
		OptSystem:         "You are a nutritionist.",
		"top_k":           100,
	}, GoogleDefaultModel))

	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, DefaultTemperature, *cfg.Temperature, 1e-6)
	assert.EqualValues(t, DefaultMaxTokens, cfg.MaxOutputTokens)
	require.NotNil(t, cfg.TopK)
	assert.InDelta(t, 40, *cfg.TopK, 1e-6)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "You are a nutritionist.", cfg.SystemInstruction.Parts[0].Text)

	plain := p.buildGenerationConfig(ParseRequestOptions(nil, GoogleDefaultModel))
	assert.Empty(t, plain.ResponseMIMEType)
	assert.Nil(t, plain.SystemInstruction)
}

func TestGoogleProvider_HandleError(t *testing.T) {
	p := testGoogleProvider()

	tests := []struct {
		name     string
		err      error
		wantType ErrorType
	}{
		{"genai auth", genai.APIError{Code: 403, Message: "API key not valid"}, ErrorTypeAuthentication},
		{"genai quota", genai.APIError{Code: 429, Message: "quota exceeded"}, ErrorTypeRateLimit},
		{"genai safety", genai.APIError{Code: 400, Message: "Request blocked by safety settings"}, ErrorTypeContentPolicy},
		{"googleapi server", &googleapi.Error{Code: 503, Message: "unavailable"}, ErrorTypeServerError},
		{"googleapi reason", &googleapi.Error{Code: 400, Errors: []googleapi.ErrorItem{{Reason: "SAFETY"}}}, ErrorTypeContentPolicy},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout},
		{"transport", errors.New("dial tcp: refused"), ErrorTypeNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pe *ProviderError
			require.ErrorAs(t, p.handleError(tt.err), &pe)
			assert.Equal(t, tt.wantType, pe.Type)
		})
	}
}

func TestNewGoogleProvider_RequiresKey(t *testing.T) {
	_, err := newGoogleProvider(ClientConfig{})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)
}
