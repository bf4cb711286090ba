package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

// ErrCircuitOpen is returned without contacting the provider while a
// model's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Metric names reported by CircuitBreakerMiddleware.
const (
	MetricCircuitState      = "llm_circuit_state"
	MetricCircuitRejections = "llm_circuit_rejections_total"
)

// BreakerState is the state of a CircuitBreaker. The numeric values are
// what the state gauge reports.
type BreakerState int

const (
	// BreakerClosed passes every request through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the cooldown has elapsed.
	BreakerOpen
	// BreakerHalfOpen lets a single probe through to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after maxFailures consecutive failures and, once the
// cooldown has passed, admits one probe whose outcome closes or reopens it.
// The lock is never held while the guarded call runs.
type CircuitBreaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: max(maxFailures, 1),
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Call runs fn unless the breaker rejects it with ErrCircuitOpen. A nil
// return from fn counts as success.
func (cb *CircuitBreaker) Call(fn func() error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}
	err = fn()
	cb.release(probe, err != nil)
	return err
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return false, nil
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.state = BreakerHalfOpen
	}
	if cb.probing {
		return false, ErrCircuitOpen
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) release(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	if !failed {
		cb.failures = 0
		cb.state = BreakerClosed
		return
	}

	cb.failures++
	if probe || cb.failures >= cb.maxFailures {
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
	}
}

type circuitBreakerLLM struct {
	forward
	cb      *CircuitBreaker
	metrics ports.MetricsCollector
}

// CircuitBreakerMiddleware gives every wrapped CoreLLM its own breaker, so
// one failing model in an ensemble does not block the others. State changes
// and rejections are reported to metrics when it is non-nil.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration, metrics ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &circuitBreakerLLM{
			forward: forward{next},
			cb:      NewCircuitBreaker(maxFailures, cooldown),
			metrics: metrics,
		}
	}
}

// DoRequest sends the request through the breaker. A cancellation by the
// caller says nothing about the provider and is not counted as a failure.
func (c *circuitBreakerLLM) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	var (
		response            string
		tokensIn, tokensOut int
		callErr             error
	)
	before := c.cb.State()
	err := c.cb.Call(func() error {
		response, tokensIn, tokensOut, callErr = c.next.DoRequest(ctx, prompt, images, opts)
		if errors.Is(callErr, context.Canceled) {
			return nil
		}
		return callErr
	})
	c.report(before, err)

	if err != nil {
		return "", 0, 0, err
	}
	if callErr != nil {
		return "", 0, 0, callErr
	}
	return response, tokensIn, tokensOut, nil
}

func (c *circuitBreakerLLM) report(before BreakerState, err error) {
	if c.metrics == nil {
		return
	}
	labels := map[string]string{"model": c.next.GetModel()}
	if errors.Is(err, ErrCircuitOpen) {
		c.metrics.RecordCounter(MetricCircuitRejections, 1, labels)
	}
	if after := c.cb.State(); after != before {
		c.metrics.RecordGauge(MetricCircuitState, float64(after), labels)
	}
}
