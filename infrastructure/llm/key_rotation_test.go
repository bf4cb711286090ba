package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

func failingCore(err error) *funcCore {
	return newFuncCore("m", func(context.Context, string, []ports.Image, map[string]any) (string, int, int, error) {
		return "", 0, 0, err
	})
}

func okCore(resp string) *funcCore {
	return newFuncCore("m", func(context.Context, string, []ports.Image, map[string]any) (string, int, int, error) {
		return resp, 1, 1, nil
	})
}

func TestKeyRotatingLLM(t *testing.T) {
	authErr := NewProviderError("openai", ErrorTypeAuthentication, 401, "bad key", nil)
	rateErr := NewProviderError("openai", ErrorTypeRateLimit, 429, "slow down", nil)
	badReq := NewProviderError("openai", ErrorTypeBadRequest, 400, "bad image", nil)

	t.Run("first key succeeds", func(t *testing.T) {
		a, b := okCore("a"), okCore("b")
		k := newKeyRotatingLLM([]CoreLLM{a, b})

		resp, _, _, err := k.DoRequest(context.Background(), "p", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "a", resp)
		assert.Equal(t, 0, b.callCount())
	})

	t.Run("rotates on auth and rate limit errors", func(t *testing.T) {
		a, b, c := failingCore(authErr), failingCore(rateErr), okCore("c")
		k := newKeyRotatingLLM([]CoreLLM{a, b, c})

		resp, _, _, err := k.DoRequest(context.Background(), "p", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "c", resp)

		// The cursor stays on the working key for later requests.
		_, _, _, err = k.DoRequest(context.Background(), "p", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, a.callCount())
		assert.Equal(t, 1, b.callCount())
		assert.Equal(t, 2, c.callCount())
	})

	t.Run("does not rotate on other errors", func(t *testing.T) {
		a, b := failingCore(badReq), okCore("b")
		k := newKeyRotatingLLM([]CoreLLM{a, b})

		_, _, _, err := k.DoRequest(context.Background(), "p", nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, badReq))
		assert.Equal(t, 0, b.callCount())
	})

	t.Run("each key tried once", func(t *testing.T) {
		a, b := failingCore(rateErr), failingCore(authErr)
		k := newKeyRotatingLLM([]CoreLLM{a, b})

		_, _, _, err := k.DoRequest(context.Background(), "p", nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all 2 API keys exhausted")
		assert.True(t, errors.Is(err, authErr))
		assert.Equal(t, 1, a.callCount())
		assert.Equal(t, 1, b.callCount())
	})

	t.Run("set model reaches every core", func(t *testing.T) {
		a, b := okCore("a"), okCore("b")
		k := newKeyRotatingLLM([]CoreLLM{a, b})

		k.SetModel("gpt-4o-mini")
		assert.Equal(t, "gpt-4o-mini", a.GetModel())
		assert.Equal(t, "gpt-4o-mini", b.GetModel())
		assert.Equal(t, "gpt-4o-mini", k.GetModel())
	})
}
