package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

type rateLimitedLLM struct {
	forward
	limiter *rate.Limiter
}

// RateLimitMiddleware paces requests with a token bucket of limit requests
// per second and the given burst. Each wrapped CoreLLM gets its own bucket,
// so the models of an ensemble are paced independently.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{
			forward: forward{next},
			limiter: rate.NewLimiter(limit, burst),
		}
	}
}

// DoRequest waits for a token, giving up when ctx is done first.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, prompt string, images []ports.Image, opts map[string]any) (string, int, int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", 0, 0, fmt.Errorf("rate limit wait for %s: %w", r.GetModel(), err)
	}
	return r.next.DoRequest(ctx, prompt, images, opts)
}
