package llm

import (
	"context"
	"time"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

type timeoutLLM struct {
	forward
	timeout time.Duration
}

// TimeoutMiddleware bounds every attempt by timeout. A shorter deadline
// already on the context still wins.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &timeoutLLM{forward: forward{next}, timeout: timeout}
	}
}

func (t *timeoutLLM) DoRequest(ctx context.Context, prompt string, images []ports.Image, opts map[string]any) (string, int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.DoRequest(ctx, prompt, images, opts)
}
