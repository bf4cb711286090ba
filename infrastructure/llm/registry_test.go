package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryConfig{
		DefaultProvider: "openai",
		Providers:       DefaultProviders,
		DefaultTimeout:  30 * time.Second,
	})
	require.NoError(t, err)
	return r
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{Providers: DefaultProviders})
	assert.Error(t, err)

	_, err = NewRegistry(RegistryConfig{DefaultProvider: "missing", Providers: DefaultProviders})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry_Resolve(t *testing.T) {
	r := testRegistry(t)

	tests := []struct {
		spec     string
		provider string
		model    string
	}{
		{"openai/gpt-4o-mini", "openai", "gpt-4o-mini"},
		{"google", "google", GoogleDefaultModel},
		{"openrouter/google/gemini-pro-vision", "openrouter", "google/gemini-pro-vision"},
		{"unknown", "unknown", ""},
		{"anthropic/", "anthropic", ""},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			provider, model := r.Resolve(tt.spec)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.model, model)
		})
	}
}

func TestRegistry_GetClient(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-one, sk-two")
	r := testRegistry(t)

	client, err := r.GetClient("openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", client.GetModel())

	again, err := r.GetClient("openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.Same(t, client, again, "clients are cached per provider/model")

	def, err := r.GetDefaultClient()
	require.NoError(t, err)
	assert.Equal(t, OpenAIDefaultModel, def.GetModel())

	assert.Equal(t, []string{"openai"}, r.ActiveProviders())
}

func TestRegistry_GetClientErrors(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "")
	r := testRegistry(t)

	_, err := r.GetClient("")
	assert.Error(t, err)

	_, err = r.GetClient("openai/text-davinci-003")
	require.ErrorIs(t, err, ErrUnsupportedModel)
	assert.Contains(t, err.Error(), "gpt-4o-mini", "the error lists the supported models")

	_, err = r.GetClient("anthropic")
	require.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

	_, err = r.GetClient("mistral/pixtral")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.Empty(t, r.ActiveProviders(), "failed lookups cache nothing")
}

func TestRegistry_OpenRouterAcceptsAnyModel(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	r := testRegistry(t)

	client, err := r.GetClient("openrouter/meta-llama/llama-3.2-90b-vision-instruct")
	require.NoError(t, err)
	assert.Equal(t, "meta-llama/llama-3.2-90b-vision-instruct", client.GetModel())
}

func TestLookupAPIKeys(t *testing.T) {
	t.Setenv("NUTRISCAN_TEST_KEYS", " a ,, b,c ")
	assert.Equal(t, []string{"a", "b", "c"}, LookupAPIKeys("NUTRISCAN_TEST_KEYS"))

	t.Setenv("NUTRISCAN_TEST_KEYS", "")
	assert.Empty(t, LookupAPIKeys("NUTRISCAN_TEST_KEYS"))
}
