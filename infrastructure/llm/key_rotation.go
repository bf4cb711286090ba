package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

// keyRotatingLLM spreads one provider across several API keys. Requests go
// to the current key; an authentication or rate-limit failure advances to
// the next key and tries again, visiting each key at most once per request.
// The cursor is shared, so a key that just failed is skipped by later
// requests as well.
type keyRotatingLLM struct {
	mu      sync.Mutex
	cores   []CoreLLM
	current int
}

func newKeyRotatingLLM(cores []CoreLLM) *keyRotatingLLM {
	return &keyRotatingLLM{cores: cores}
}

func (k *keyRotatingLLM) cursor() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// advance moves the shared cursor past failed, unless another request has
// already moved it.
func (k *keyRotatingLLM) advance(failed int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current == failed {
		k.current = (failed + 1) % len(k.cores)
	}
}

// DoRequest tries each key in rotation order starting at the cursor.
func (k *keyRotatingLLM) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	start := k.cursor()
	var lastErr error

	for i := range k.cores {
		idx := (start + i) % len(k.cores)
		response, tokensIn, tokensOut, err := k.cores[idx].DoRequest(ctx, prompt, images, opts)
		if err == nil {
			return response, tokensIn, tokensOut, nil
		}

		lastErr = err
		if !shouldRotateKey(err) || ctx.Err() != nil {
			return "", 0, 0, err
		}
		k.advance(idx)
	}

	return "", 0, 0, fmt.Errorf("all %d API keys exhausted: %w", len(k.cores), lastErr)
}

// GetModel returns the model of the current key's core. All cores share
// one model.
func (k *keyRotatingLLM) GetModel() string { return k.cores[k.cursor()].GetModel() }

// SetModel updates the model on every core.
func (k *keyRotatingLLM) SetModel(m string) {
	for _, c := range k.cores {
		c.SetModel(m)
	}
}
