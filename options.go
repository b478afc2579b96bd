package aigen

import (
	"log/slog"
	"strings"
	"time"
)

// Option configures a Client. Every option validates its input when it is
// applied and returns an ai/invalid-config error, so a bad configuration is
// reported by New or the setter rather than by the first provider call.
type Option func(*Config) error

// WithAPIKey sets the provider credential.
func WithAPIKey(key string) Option {
	return func(c *Config) error {
		if strings.TrimSpace(key) == "" {
			return invalidConfig(&fieldError{field: "apiKey", reason: "must not be empty"})
		}
		c.APIKey = key
		return nil
	}
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) error {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return invalidConfig(&fieldError{field: "baseURL", reason: "must be an http(s) URL"})
		}
		c.BaseURL = strings.TrimRight(url, "/")
		return nil
	}
}

// WithModel sets the default model id.
//
// Example:
//
//	aigen.WithModel("gpt-4o-mini")
func WithModel(model string) Option {
	return func(c *Config) error {
		if err := validateModel(model); err != nil {
			return invalidConfig(err)
		}
		c.Model = model
		return nil
	}
}

// WithParameters sets the default sampling parameters.
//
// Example:
//
//	aigen.WithParameters(aigen.Parameters{Temperature: 0.2, MaxTokens: 800, TopP: 1})
func WithParameters(params Parameters) Option {
	return func(c *Config) error {
		if err := params.Validate(); err != nil {
			return invalidConfig(err)
		}
		c.Parameters = params
		return nil
	}
}

// WithTimeout sets the per-attempt timeout.
//
// Example:
//
//	aigen.WithTimeout(20 * time.Second)
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if err := validateTimeout(timeout); err != nil {
			return invalidConfig(err)
		}
		c.Timeout = timeout
		return nil
	}
}

// WithRetryPolicy sets the retry policy.
//
// Example:
//
//	aigen.WithRetryPolicy(aigen.RetryPolicy{
//	    MaxRetries: 3,
//	    BaseDelay:  200 * time.Millisecond,
//	    MaxDelay:   5 * time.Second,
//	    Jitter:     true,
//	})
//	// Delays: ~200ms, ~400ms, ~800ms
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Config) error {
		if err := policy.Validate(); err != nil {
			return invalidConfig(err)
		}
		c.RetryPolicy = policy
		return nil
	}
}

// WithHeaders replaces the extra provider headers.
func WithHeaders(headers map[string]string) Option {
	return func(c *Config) error {
		if err := validateHeaders(headers); err != nil {
			return invalidConfig(err)
		}
		c.Headers = cloneHeaders(headers)
		return nil
	}
}

// WithLogger sets a custom logger.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	aigen.WithLogger(logger)
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		if logger == nil {
			return invalidConfig(&fieldError{field: "logger", reason: "must not be nil"})
		}
		c.Logger = logger
		return nil
	}
}

// WithErrorClassifier sets a custom error classifier.
func WithErrorClassifier(classifier ErrorClassifier) Option {
	return func(c *Config) error {
		if classifier == nil {
			return invalidConfig(&fieldError{field: "errorClassifier", reason: "must not be nil"})
		}
		c.ErrorClassifier = classifier
		return nil
	}
}

// WithCircuitBreaker enables a circuit breaker around the provider.
// It only takes effect when passed to New.
//
// Example:
//
//	aigen.WithCircuitBreaker(aigen.WithBreakerTimeout(time.Minute))
func WithCircuitBreaker(opts ...CircuitBreakerOption) Option {
	return func(c *Config) error {
		cfg := DefaultCircuitBreakerConfig()
		for _, opt := range opts {
			opt(cfg)
		}
		if cfg.MaxRequests == 0 {
			return invalidConfig(&fieldError{field: "circuitBreaker.maxRequests", reason: "must be positive"})
		}
		if cfg.Timeout <= 0 {
			return invalidConfig(&fieldError{field: "circuitBreaker.timeout", reason: "must be positive"})
		}
		if cfg.ReadyToTrip == nil {
			return invalidConfig(&fieldError{field: "circuitBreaker.readyToTrip", reason: "must not be nil"})
		}
		c.CircuitBreaker = cfg
		return nil
	}
}

// RetryConfig holds the configuration of a RetryWrapper.
type RetryConfig struct {
	// Policy drives attempts and backoff.
	// Default: DefaultRetryPolicy()
	Policy RetryPolicy

	// ErrorClassifier maps failures to domain errors before the retry decision.
	// Default: HTTPStatusClassifier
	ErrorClassifier ErrorClassifier

	// Logger for retry operations.
	// Default: slog.Default()
	Logger *slog.Logger

	stats *retryStats
}

// RetryOption is a functional option for configuring retry behavior.
type RetryOption func(*RetryConfig)

// WithPolicy sets the retry policy of a RetryWrapper.
func WithPolicy(policy RetryPolicy) RetryOption {
	return func(c *RetryConfig) {
		c.Policy = policy
	}
}

// WithClassifier sets the error classifier of a RetryWrapper.
func WithClassifier(classifier ErrorClassifier) RetryOption {
	return func(c *RetryConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// withRetryStats shares a statistics sink between short-lived wrappers.
func withRetryStats(stats *retryStats) RetryOption {
	return func(c *RetryConfig) {
		c.stats = stats
	}
}

// DefaultRetryConfig returns retry configuration with sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		Policy:          DefaultRetryPolicy(),
		ErrorClassifier: DefaultErrorClassifier(),
		Logger:          slog.Default(),
	}
}

// CircuitBreakerConfig holds circuit breaker configuration options.
type CircuitBreakerConfig struct {
	// ReadyToTrip is called with a copy of counts whenever a request fails in the closed state.
	// If ReadyToTrip returns true, the circuit breaker will be placed into the open state.
	// Default: trips after 3 requests with 60% failure rate
	ReadyToTrip func(counts CircuitBreakerCounts) bool

	// ErrorClassifier determines which errors should trip the circuit breaker.
	// Default: HTTPStatusClassifier
	ErrorClassifier CircuitBreakerErrorClassifier

	// OnStateChange is called whenever the circuit breaker changes state.
	OnStateChange func(name string, from, to CircuitBreakerState)

	// Logger for circuit breaker operations.
	// Default: the client's logger
	Logger *slog.Logger

	// Name identifies the breaker in logs.
	// Default: "provider"
	Name string

	// Interval is the cyclic period of the closed state for the circuit breaker
	// to clear the internal counts. If 0, never clears.
	// Default: 10 seconds
	Interval time.Duration

	// Timeout is the period of the open state, after which the state becomes half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is in the half-open state.
	// Default: 3
	MaxRequests uint32
}

// CircuitBreakerOption is a functional option for configuring circuit breaker behavior.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// CircuitBreakerCounts holds the internal counts of the circuit breaker.
type CircuitBreakerCounts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed CircuitBreakerState = iota

	// StateHalfOpen means the circuit is testing if the provider has recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected immediately.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// WithMaxRequests sets the maximum number of requests in half-open state.
func WithMaxRequests(maxRequests uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.MaxRequests = maxRequests
	}
}

// WithInterval sets the interval for clearing counts in closed state.
func WithInterval(interval time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Interval = interval
	}
}

// WithBreakerTimeout sets the timeout for staying in open state.
//
// Example:
//
//	aigen.WithBreakerTimeout(60 * time.Second)
func WithBreakerTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Timeout = timeout
	}
}

// WithReadyToTrip sets a custom function to determine when to trip the circuit.
//
// Example:
//
//	aigen.WithReadyToTrip(func(counts aigen.CircuitBreakerCounts) bool {
//	    return counts.ConsecutiveFailures >= 5
//	})
func WithReadyToTrip(fn func(counts CircuitBreakerCounts) bool) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ReadyToTrip = fn
	}
}

// WithCircuitBreakerErrorClassifier sets a custom error classifier for circuit breaker decisions.
func WithCircuitBreakerErrorClassifier(classifier CircuitBreakerErrorClassifier) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithStateChangeHandler sets a callback for circuit breaker state changes.
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithCircuitBreakerLogger sets a custom logger for circuit breaker operations.
func WithCircuitBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Logger = logger
	}
}

// DefaultCircuitBreakerConfig returns circuit breaker configuration with sensible defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:        "provider",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts CircuitBreakerCounts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		ErrorClassifier: DefaultCircuitBreakerErrorClassifier(),
	}
}
