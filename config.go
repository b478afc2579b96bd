package aigen

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

// Configuration bounds.
const (
	MinTimeout = 500 * time.Millisecond
	MaxTimeout = 60 * time.Second

	MaxTemperature = 2.0
	MaxTokensLimit = 4000

	MaxRetriesLimit = 5
	MinBaseDelay    = 10 * time.Millisecond
	MaxBaseDelay    = 10 * time.Second
	MinMaxDelay     = 50 * time.Millisecond
	MaxMaxDelay     = 60 * time.Second

	maxModelLength = 128
)

// Parameters are the sampling parameters sent to the provider.
type Parameters struct {
	// Temperature in [0, 2].
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// MaxTokens in [1, 4000].
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// TopP in [0, 1].
	TopP float64 `json:"top_p" yaml:"top_p"`

	// Seed requests deterministic sampling when the provider supports it.
	Seed *int `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Validate checks the parameter ranges.
func (p Parameters) Validate() error {
	switch {
	case p.Temperature < 0 || p.Temperature > MaxTemperature:
		return &fieldError{field: "parameters.temperature", reason: fmt.Sprintf("must be between 0 and %g", MaxTemperature)}
	case p.MaxTokens < 1 || p.MaxTokens > MaxTokensLimit:
		return &fieldError{field: "parameters.maxTokens", reason: fmt.Sprintf("must be between 1 and %d", MaxTokensLimit)}
	case p.TopP < 0 || p.TopP > 1:
		return &fieldError{field: "parameters.topP", reason: "must be between 0 and 1"}
	}
	return nil
}

// RetryPolicy controls the attempt loop of a Generate call.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt, in [0, 5].
	// Zero means exactly one attempt.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// BaseDelay is the delay before the first retry, in [10ms, 10s].
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`

	// MaxDelay caps every delay, in [50ms, 60s] and not below BaseDelay.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// Jitter adds a random extra of up to 10% to each delay.
	Jitter bool `json:"jitter" yaml:"jitter"`
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Jitter:     true,
	}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 0 || p.MaxRetries > MaxRetriesLimit:
		return &fieldError{field: "retryPolicy.maxRetries", reason: fmt.Sprintf("must be between 0 and %d", MaxRetriesLimit)}
	case p.BaseDelay < MinBaseDelay || p.BaseDelay > MaxBaseDelay:
		return &fieldError{field: "retryPolicy.baseDelay", reason: fmt.Sprintf("must be between %s and %s", MinBaseDelay, MaxBaseDelay)}
	case p.MaxDelay < MinMaxDelay || p.MaxDelay > MaxMaxDelay:
		return &fieldError{field: "retryPolicy.maxDelay", reason: fmt.Sprintf("must be between %s and %s", MinMaxDelay, MaxMaxDelay)}
	case p.BaseDelay > p.MaxDelay:
		return &fieldError{field: "retryPolicy.baseDelay", reason: "must not exceed maxDelay"}
	}
	return nil
}

// Delay returns the un-jittered backoff after the given zero-based attempt:
// min(BaseDelay * 2^attempt, MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Backoff returns the delay to wait after the given attempt, including
// jitter when enabled. Jitter is uniform in [0, delay/10].
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.Delay(attempt)
	if !p.Jitter {
		return delay
	}

	// Add jitter to prevent thundering herd using crypto/rand
	jitterMax := int64(delay / 10)
	if jitterMax <= 0 {
		return delay
	}
	jitterBig, err := rand.Int(rand.Reader, big.NewInt(jitterMax+1))
	if err != nil {
		// Fallback to no jitter if crypto/rand fails
		return delay
	}
	return delay + time.Duration(jitterBig.Int64())
}

// Config is the client configuration. A Client never mutates a Config it
// has published; setters publish a modified copy.
type Config struct {
	// APIKey is the provider credential. It is passed to the ProviderFactory
	// and never logged.
	APIKey string

	// BaseURL overrides the provider endpoint.
	BaseURL string

	// Model is the default model id.
	// Default: gpt-4o-mini
	Model string

	// Parameters are the default sampling parameters.
	Parameters Parameters

	// Timeout bounds each provider attempt, in [500ms, 60s].
	// Default: 30 seconds
	Timeout time.Duration

	// RetryPolicy drives the attempt loop.
	RetryPolicy RetryPolicy

	// Headers are extra headers sent with every provider request.
	Headers map[string]string

	// Logger for generation operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// ErrorClassifier maps provider failures to domain errors.
	// Default: HTTPStatusClassifier
	ErrorClassifier ErrorClassifier

	// CircuitBreaker enables a circuit breaker around the provider when set.
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: "gpt-4o-mini",
		Parameters: Parameters{
			Temperature: 0.7,
			MaxTokens:   1000,
			TopP:        1,
		},
		Timeout:         30 * time.Second,
		RetryPolicy:     DefaultRetryPolicy(),
		Logger:          slog.Default(),
		ErrorClassifier: DefaultErrorClassifier(),
	}
}

// Validate checks every field and returns an ai/invalid-config error for
// the first violation.
func (c *Config) Validate() error {
	if err := validateModel(c.Model); err != nil {
		return invalidConfig(err)
	}
	if err := c.Parameters.Validate(); err != nil {
		return invalidConfig(err)
	}
	if err := validateTimeout(c.Timeout); err != nil {
		return invalidConfig(err)
	}
	if err := c.RetryPolicy.Validate(); err != nil {
		return invalidConfig(err)
	}
	if err := validateHeaders(c.Headers); err != nil {
		return invalidConfig(err)
	}
	if c.Logger == nil {
		return invalidConfig(&fieldError{field: "logger", reason: "must not be nil"})
	}
	if c.ErrorClassifier == nil {
		return invalidConfig(&fieldError{field: "errorClassifier", reason: "must not be nil"})
	}
	return nil
}

func (c *Config) clone() *Config {
	out := *c
	if c.Headers != nil {
		out.Headers = cloneHeaders(c.Headers)
	}
	if c.Parameters.Seed != nil {
		seed := *c.Parameters.Seed
		out.Parameters.Seed = &seed
	}
	return &out
}

// ConfigPatch is a partial configuration applied by Client.Configure.
// Nil fields are left unchanged.
type ConfigPatch struct {
	Model       *string
	Parameters  *Parameters
	Timeout     *time.Duration
	RetryPolicy *RetryPolicy
	Headers     map[string]string
}

func (p ConfigPatch) options() []Option {
	var opts []Option
	if p.Model != nil {
		opts = append(opts, WithModel(*p.Model))
	}
	if p.Parameters != nil {
		opts = append(opts, WithParameters(*p.Parameters))
	}
	if p.Timeout != nil {
		opts = append(opts, WithTimeout(*p.Timeout))
	}
	if p.RetryPolicy != nil {
		opts = append(opts, WithRetryPolicy(*p.RetryPolicy))
	}
	if p.Headers != nil {
		opts = append(opts, WithHeaders(p.Headers))
	}
	return opts
}

// fieldError describes one invalid field. It is converted into
// ai/invalid-config or ai/invalid-input depending on where it was found.
type fieldError struct {
	field  string
	reason string
}

func (e *fieldError) Error() string {
	return e.field + " " + e.reason
}

func invalidConfig(err error) error {
	return fieldProblem(ErrInvalidConfig, err)
}

func invalidInput(err error) error {
	return fieldProblem(ErrInvalidInput, err)
}

func fieldProblem(kind *problem.Kind, err error) error {
	fe, ok := err.(*fieldError)
	if !ok {
		return kind.New(problem.WithDetail(err.Error()), problem.WithCause(err))
	}
	return kind.New(
		problem.WithDetail(fe.Error()),
		problem.WithField("field", fe.field),
	)
}

func validateModel(model string) error {
	switch {
	case strings.TrimSpace(model) == "":
		return &fieldError{field: "model", reason: "must not be empty"}
	case len(model) > maxModelLength:
		return &fieldError{field: "model", reason: fmt.Sprintf("must be at most %d characters", maxModelLength)}
	case strings.ContainsAny(model, " \t\r\n"):
		return &fieldError{field: "model", reason: "must not contain whitespace"}
	}
	return nil
}

func validateTimeout(timeout time.Duration) error {
	if timeout < MinTimeout || timeout > MaxTimeout {
		return &fieldError{field: "timeout", reason: fmt.Sprintf("must be between %s and %s", MinTimeout, MaxTimeout)}
	}
	return nil
}

func validateHeaders(headers map[string]string) error {
	for name, value := range headers {
		switch {
		case name == "" || strings.ContainsAny(name, " \t\r\n:"):
			return &fieldError{field: "headers", reason: fmt.Sprintf("invalid header name %q", name)}
		case strings.EqualFold(name, "Authorization"):
			return &fieldError{field: "headers", reason: "must not set Authorization, configure the API key instead"}
		case strings.ContainsAny(value, "\r\n"):
			return &fieldError{field: "headers", reason: fmt.Sprintf("invalid value for header %q", name)}
		}
	}
	return nil
}

func cloneHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}
