package aigen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

// ProviderFactory creates the provider collaborator from the validated
// configuration. Adapters such as provider/openai expose one.
type ProviderFactory func(cfg Config) (Provider, error)

// UseProvider returns a ProviderFactory that ignores the configuration and
// returns p. It is mostly useful in tests.
func UseProvider(p Provider) ProviderFactory {
	return func(Config) (Provider, error) {
		return p, nil
	}
}

// Client generates structured output through a provider.
//
// Configure the client before using it concurrently. Setters are safe to
// call at any time, but a Generate call already in flight keeps the
// configuration it started with.
type Client struct {
	config   atomic.Pointer[Config]
	mu       sync.Mutex
	provider Provider
	breaker  *CircuitBreakerWrapper[*ProviderRequest, *ProviderResponse]
	stats    *retryStats
}

// New creates a Client. Options are applied in order on top of
// DefaultConfig; the first invalid option is returned as ai/invalid-config.
//
// Example:
//
//	client, err := aigen.New(openai.Factory(),
//	    aigen.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    aigen.WithTimeout(20*time.Second),
//	    aigen.WithCircuitBreaker(),
//	)
func New(factory ProviderFactory, opts ...Option) (*Client, error) {
	if factory == nil {
		return nil, invalidConfig(&fieldError{field: "provider", reason: "must not be nil"})
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := factory(*cfg.clone())
	if err != nil {
		if _, ok := problem.As(err); ok {
			return nil, err
		}
		return nil, ErrInvalidConfig.New(
			problem.WithDetail("could not create provider"),
			problem.WithCause(err),
		)
	}
	if provider == nil {
		return nil, invalidConfig(&fieldError{field: "provider", reason: "factory returned nil"})
	}

	c := &Client{
		provider: provider,
		stats:    &retryStats{},
	}

	if cfg.CircuitBreaker != nil {
		breakerCfg := *cfg.CircuitBreaker
		if breakerCfg.Logger == nil {
			breakerCfg.Logger = cfg.Logger
		}
		c.breaker = newCircuitBreakerWrapper(provider, &breakerCfg)
		c.provider = c.breaker
	}

	c.config.Store(cfg)
	return c, nil
}

// Config returns a copy of the current configuration.
func (c *Client) Config() Config {
	return *c.config.Load().clone()
}

// SetModel changes the default model.
func (c *Client) SetModel(model string) error {
	return c.update(WithModel(model))
}

// SetParameters changes the default sampling parameters.
func (c *Client) SetParameters(params Parameters) error {
	return c.update(WithParameters(params))
}

// SetTimeout changes the per-attempt timeout.
func (c *Client) SetTimeout(timeout time.Duration) error {
	return c.update(WithTimeout(timeout))
}

// SetRetryPolicy changes the retry policy.
func (c *Client) SetRetryPolicy(policy RetryPolicy) error {
	return c.update(WithRetryPolicy(policy))
}

// SetHeaders replaces the extra provider headers.
func (c *Client) SetHeaders(headers map[string]string) error {
	return c.update(WithHeaders(headers))
}

// Configure applies a partial configuration. Either every field in the
// patch is applied or, on the first invalid field, none is.
func (c *Client) Configure(patch ConfigPatch) error {
	return c.update(patch.options()...)
}

func (c *Client) update(opts ...Option) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.config.Load().clone()
	for _, opt := range opts {
		if err := opt(next); err != nil {
			return err
		}
	}
	c.config.Store(next)
	return nil
}

// Stats returns a snapshot of the attempt statistics across all calls.
func (c *Client) Stats() RetryStats {
	return c.stats.snapshot()
}

// CircuitState returns the breaker state, or false when no breaker is configured.
func (c *Client) CircuitState() (CircuitBreakerState, bool) {
	if c.breaker == nil {
		return StateClosed, false
	}
	return c.breaker.State(), true
}

// Health reports breaker and retry state.
func (c *Client) Health() HealthStatus {
	var breaker *BreakerHealth
	if c.breaker != nil {
		counts := c.breaker.Counts()
		breaker = &BreakerHealth{
			State:                c.breaker.State().String(),
			Requests:             counts.Requests,
			TotalSuccesses:       counts.TotalSuccesses,
			TotalFailures:        counts.TotalFailures,
			ConsecutiveFailures:  counts.ConsecutiveFailures,
			ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		}
	}
	return newHealthStatus(c.config.Load().Model, breaker, c.stats.snapshot())
}

// Result is a validated value together with details of how it was obtained.
type Result[T any] struct {
	Value    T
	Model    string
	Attempts int
	Usage    Usage
	Duration time.Duration
}

// Generate runs spec against the client's provider and returns the
// validated result.
//
// Each attempt is bounded by the effective timeout, transient failures are
// retried under the retry policy, and the payload is validated against the
// request schema. Every failure is an "ai" domain error; the zero value of T
// is returned with it.
//
// Example:
//
//	answer, err := aigen.Generate(ctx, client, spec)
//	if errors.Is(err, aigen.ErrRetryExhausted) {
//	    // provider kept failing
//	}
func Generate[T any](ctx context.Context, c *Client, spec RequestSpec[T]) (T, error) {
	res, err := GenerateWithResult(ctx, c, spec)
	return res.Value, err
}

// GenerateWithResult is like Generate but also reports the model, the number
// of provider attempts, token usage and elapsed time. Attempts and Duration
// are set on failure too.
func GenerateWithResult[T any](ctx context.Context, c *Client, spec RequestSpec[T]) (Result[T], error) {
	if err := spec.validate(); err != nil {
		return Result[T]{}, err
	}

	start := time.Now()
	cfg := c.config.Load()

	model := cfg.Model
	if spec.model != "" {
		model = spec.model
	}
	params := cfg.Parameters
	if p, ok := spec.Parameters(); ok {
		params = p
	}
	timeout := cfg.Timeout
	if spec.timeout > 0 {
		timeout = spec.timeout
	}

	req := &ProviderRequest{
		Model:      model,
		System:     spec.SystemPrompt(),
		User:       spec.user,
		SchemaName: spec.schema.Name(),
		Schema:     spec.schema.Definition(),
		Parameters: params,
		Headers:    cloneHeaders(cfg.Headers),
	}

	logger := cfg.Logger.With("model", model, "schema", spec.schema.Name())

	guard := NewTimeoutGuard[*ProviderRequest, *ProviderResponse](c.provider, timeout, model)
	retrier, err := NewRetryWrapper[*ProviderRequest, *ProviderResponse](guard,
		WithPolicy(cfg.RetryPolicy),
		WithClassifier(cfg.ErrorClassifier),
		WithRetryLogger(logger),
		withRetryStats(c.stats),
	)
	if err != nil {
		return Result[T]{Model: model, Duration: time.Since(start)}, err
	}

	resp, attempts, err := retrier.execute(ctx, req)
	result := Result[T]{Model: model, Attempts: attempts}
	if err != nil {
		result.Duration = time.Since(start)
		logger.Warn("generation failed",
			"code", errorCode(err),
			"attempts", attempts,
			"duration", result.Duration)
		return result, err
	}

	if resp == nil {
		result.Duration = time.Since(start)
		return result, ErrParseError.New(
			problem.WithDetail("provider returned no response"),
			problem.WithMeta(map[string]any{"reason": "empty", "bytes": 0}),
		)
	}
	if resp.Model != "" {
		result.Model = resp.Model
	}
	result.Usage = resp.Usage

	value, err := spec.schema.Validate(resp.Payload)
	result.Duration = time.Since(start)
	if err != nil {
		logger.Warn("provider output rejected",
			"code", errorCode(err),
			"attempts", attempts)
		return result, err
	}

	result.Value = value
	logger.Debug("generation succeeded",
		"attempts", attempts,
		"duration", result.Duration,
		"total_tokens", resp.Usage.TotalTokens)
	return result, nil
}
