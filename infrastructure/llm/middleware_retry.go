package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

// maxBackoffShift keeps baseDelay<<attempt from overflowing.
const maxBackoffShift = 30

type retryLLM struct {
	forward
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware retries transient failures up to maxRetries times with
// jittered exponential backoff capped at maxDelay. Rate-limit failures back
// off twice as long. Authentication, bad request and content policy errors
// are returned at once.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			forward:    forward{next},
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

func (r *retryLLM) DoRequest(ctx context.Context, prompt string, images []ports.Image, opts map[string]any) (string, int, int, error) {
	var err error
	for attempt := 0; ; attempt++ {
		var (
			response            string
			tokensIn, tokensOut int
		)
		response, tokensIn, tokensOut, err = r.next.DoRequest(ctx, prompt, images, opts)
		if err == nil {
			return response, tokensIn, tokensOut, nil
		}
		if ctx.Err() != nil || !isRetryable(err) {
			return "", 0, 0, err
		}
		if attempt == r.maxRetries {
			break
		}

		timer := time.NewTimer(r.backoff(attempt, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", 0, 0, ctx.Err()
		case <-timer.C:
		}
	}
	return "", 0, 0, fmt.Errorf("request failed after %d attempts: %w", r.maxRetries+1, err)
}

// backoff returns baseDelay*2^attempt with ±25% jitter, doubled for rate
// limits, never above maxDelay.
func (r *retryLLM) backoff(attempt int, err error) time.Duration {
	shift := ClampInt(attempt, 0, maxBackoffShift)
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Type == ErrorTypeRateLimit {
		shift = min(shift+1, maxBackoffShift)
	}
	// #nosec G115 - shift is bounded by maxBackoffShift
	delay := r.baseDelay << uint(shift)

	// #nosec G404 - jitter does not need a cryptographic source
	jitter := time.Duration(rand.Float64() * float64(delay) / 2)
	delay = delay - delay/4 + jitter

	return min(delay, r.maxDelay)
}
