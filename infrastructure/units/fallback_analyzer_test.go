package units

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-nutriscan/internal/ports"
	"github.com/ahrav/go-nutriscan/internal/testutils"
)

func TestFallbackAnalyzer_Analyze(t *testing.T) {
	errRate := errors.New("429 too many requests")
	errAuth := errors.New("401 unauthorized")

	t.Run("first success wins", func(t *testing.T) {
		first := &stubAnalyzer{name: "a", err: errRate}
		second := &stubAnalyzer{name: "b", result: testutils.SaladAnalysis("b")}
		third := &stubAnalyzer{name: "c", result: testutils.BurgerAnalysis("c")}

		fa, err := NewFallbackAnalyzer("fallback", []ports.Analyzer{first, second, third}, nil)
		require.NoError(t, err)

		got, err := fa.Analyze(context.Background(), testutils.PNGImage())
		require.NoError(t, err)
		assert.Equal(t, "b", got.Model)
		assert.EqualValues(t, 1, first.calls.Load())
		assert.EqualValues(t, 1, second.calls.Load())
		assert.Zero(t, third.calls.Load())
	})

	t.Run("all failures are joined", func(t *testing.T) {
		fa, err := NewFallbackAnalyzer("fallback", []ports.Analyzer{
			&stubAnalyzer{name: "a", err: errRate},
			&stubAnalyzer{name: "b", err: errAuth},
		}, nil)
		require.NoError(t, err)

		_, err = fa.Analyze(context.Background(), testutils.PNGImage())
		require.ErrorIs(t, err, ErrAllModelsFailed)
		assert.ErrorIs(t, err, errRate)
		assert.ErrorIs(t, err, errAuth)
	})

	t.Run("no food stops the chain", func(t *testing.T) {
		second := &stubAnalyzer{name: "b", result: testutils.SaladAnalysis("b")}
		fa, err := NewFallbackAnalyzer("fallback", []ports.Analyzer{
			&stubAnalyzer{name: "a", err: fmt.Errorf("model a: %w: empty plate", ErrNoFoodDetected)},
			second,
		}, nil)
		require.NoError(t, err)

		_, err = fa.Analyze(context.Background(), testutils.PNGImage())
		require.ErrorIs(t, err, ErrNoFoodDetected)
		assert.NotErrorIs(t, err, ErrAllModelsFailed)
		assert.Zero(t, second.calls.Load())
	})

	t.Run("cancelled context stops the chain", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		only := &stubAnalyzer{name: "a", result: testutils.SaladAnalysis("a")}

		fa, err := NewFallbackAnalyzer("fallback", []ports.Analyzer{only}, nil)
		require.NoError(t, err)

		_, err = fa.Analyze(ctx, testutils.PNGImage())
		require.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, ErrAllModelsFailed)
		assert.Zero(t, only.calls.Load())
	})
}

func TestNewFallbackAnalyzer_Validation(t *testing.T) {
	_, err := NewFallbackAnalyzer("", []ports.Analyzer{&stubAnalyzer{name: "a"}}, nil)
	assert.Error(t, err)

	_, err = NewFallbackAnalyzer("fallback", nil, nil)
	assert.ErrorIs(t, err, ErrNoAnalyzers)
}
