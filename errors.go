package aigen

import (
	"context"
	"errors"
	"net/http"

	jperrors "github.com/JohnPlummer/jp-go-errors"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

var aiDomain = problem.MustDefineDomain("ai",
	problem.KindSpec{Name: "InvalidInput", Status: http.StatusBadRequest},
	problem.KindSpec{Name: "InvalidConfig", Status: http.StatusInternalServerError},
	problem.KindSpec{Name: "Unauthorized", Status: http.StatusUnauthorized},
	problem.KindSpec{Name: "Forbidden", Status: http.StatusForbidden},
	problem.KindSpec{Name: "BadRequest", Status: http.StatusBadRequest},
	problem.KindSpec{Name: "RateLimited", Status: http.StatusTooManyRequests},
	problem.KindSpec{Name: "Timeout", Status: http.StatusGatewayTimeout},
	problem.KindSpec{Name: "ProviderError", Status: http.StatusBadGateway},
	problem.KindSpec{Name: "ServiceUnavailable", Status: http.StatusServiceUnavailable},
	problem.KindSpec{Name: "SchemaError", Status: http.StatusInternalServerError},
	problem.KindSpec{Name: "ValidationFailed", Status: http.StatusUnprocessableEntity},
	problem.KindSpec{Name: "ParseError", Status: http.StatusBadGateway},
	problem.KindSpec{Name: "RetryExhausted", Status: http.StatusServiceUnavailable},
)

// Error kinds of the "ai" domain. Use them with errors.Is:
//
//	if errors.Is(err, aigen.ErrRetryExhausted) { ... }
var (
	ErrInvalidInput       = aiDomain.Kind("InvalidInput")
	ErrInvalidConfig      = aiDomain.Kind("InvalidConfig")
	ErrUnauthorized       = aiDomain.Kind("Unauthorized")
	ErrForbidden          = aiDomain.Kind("Forbidden")
	ErrBadRequest         = aiDomain.Kind("BadRequest")
	ErrRateLimited        = aiDomain.Kind("RateLimited")
	ErrTimeout            = aiDomain.Kind("Timeout")
	ErrProviderError      = aiDomain.Kind("ProviderError")
	ErrServiceUnavailable = aiDomain.Kind("ServiceUnavailable")
	ErrSchemaError        = aiDomain.Kind("SchemaError")
	ErrValidationFailed   = aiDomain.Kind("ValidationFailed")
	ErrParseError         = aiDomain.Kind("ParseError")
	ErrRetryExhausted     = aiDomain.Kind("RetryExhausted")
)

// Domain returns the "ai" error domain.
func Domain() *problem.Domain {
	return aiDomain
}

// ErrorClassifier maps a raw attempt failure to exactly one "ai" domain error.
// Implement this interface to recognise provider-specific failures.
type ErrorClassifier interface {
	// Classify returns a domain error for recognised failures. Domain errors
	// pass through unchanged and unrecognised errors are returned as-is, so
	// they surface as unexpected failures rather than being swallowed.
	Classify(err error) error
}

// CircuitBreakerErrorClassifier determines whether an error should trip the circuit breaker.
// Implement this interface to customize circuit breaker behavior for your specific error types.
type CircuitBreakerErrorClassifier interface {
	// ShouldTripCircuit returns true if the error represents a failure serious enough
	// to open the circuit breaker and stop requests temporarily.
	ShouldTripCircuit(err error) bool
}

// HTTPError represents an error with an associated HTTP status code.
// Many HTTP client libraries provide errors that implement this interface.
type HTTPError interface {
	error
	StatusCode() int
}

// ProviderCodeError is implemented by errors that carry a provider's
// machine-readable error code, e.g. "rate_limit_exceeded".
type ProviderCodeError interface {
	error
	ProviderCode() string
}

// HTTPStatusClassifier classifies failures by HTTP status code, provider
// error code, context errors and jp-go-errors sentinels.
type HTTPStatusClassifier struct {
	// RateLimitCodes lists provider error codes treated as rate limiting
	// regardless of status.
	// Defaults to rate_limit_exceeded, rate_limited, too_many_requests if nil.
	RateLimitCodes []string
}

// NewHTTPStatusClassifier creates a classifier with the default rate-limit codes.
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{
		RateLimitCodes: defaultRateLimitCodes(),
	}
}

// DefaultErrorClassifier returns the classifier used when none is configured.
func DefaultErrorClassifier() ErrorClassifier {
	return NewHTTPStatusClassifier()
}

// DefaultCircuitBreakerErrorClassifier trips on authentication errors and
// server errors, but not on rate limits, timeouts or other client errors.
func DefaultCircuitBreakerErrorClassifier() CircuitBreakerErrorClassifier {
	return NewHTTPStatusClassifier()
}

// Classify implements ErrorClassifier.
func (c *HTTPStatusClassifier) Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := problem.As(err); ok {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || jperrors.IsTimeout(err) {
		return ErrTimeout.New(
			problem.WithDetail("provider call did not complete in time"),
			problem.WithCause(err),
		)
	}

	status := extractStatusCode(err)
	code := extractProviderCode(err)

	meta := map[string]any{}
	if status != 0 {
		meta["status"] = status
	}
	if code != "" {
		meta["providerCode"] = code
	}

	if errors.Is(err, jperrors.ErrRateLimited) || c.isRateLimitCode(code) || status == http.StatusTooManyRequests {
		return ErrRateLimited.New(
			problem.WithDetail("provider rate limit reached"),
			problem.WithMeta(meta),
			problem.WithCause(err),
		)
	}

	switch {
	case status == http.StatusServiceUnavailable:
		return ErrServiceUnavailable.New(problem.WithDetail("provider unavailable"), problem.WithMeta(meta), problem.WithCause(err))
	case status >= 500:
		return ErrProviderError.New(problem.WithDetail("provider failed"), problem.WithMeta(meta), problem.WithCause(err))
	case status == http.StatusUnauthorized:
		return ErrUnauthorized.New(problem.WithDetail("provider rejected the credentials"), problem.WithMeta(meta), problem.WithCause(err))
	case status == http.StatusForbidden:
		return ErrForbidden.New(problem.WithDetail("provider denied access"), problem.WithMeta(meta), problem.WithCause(err))
	case status >= 400:
		return ErrBadRequest.New(problem.WithDetail("provider rejected the request"), problem.WithMeta(meta), problem.WithCause(err))
	}

	return err
}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier.
func (c *HTTPStatusClassifier) ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	e, ok := problem.As(c.Classify(err))
	if !ok {
		// Unknown errors should trip the circuit to be safe
		return true
	}

	switch e.Kind() {
	case ErrProviderError, ErrServiceUnavailable, ErrUnauthorized, ErrForbidden:
		return true
	default:
		return false
	}
}

func (c *HTTPStatusClassifier) isRateLimitCode(code string) bool {
	if code == "" {
		return false
	}
	codes := c.RateLimitCodes
	if codes == nil {
		codes = defaultRateLimitCodes()
	}
	for _, rc := range codes {
		if rc == code {
			return true
		}
	}
	return false
}

func defaultRateLimitCodes() []string {
	return []string{"rate_limit_exceeded", "rate_limited", "too_many_requests"}
}

// retryableKinds is the transient class retried under a RetryPolicy.
var retryableKinds = []*problem.Kind{ErrRateLimited, ErrTimeout, ErrProviderError, ErrServiceUnavailable}

// IsRetryable reports whether err is a domain error of a transient kind.
// Only the outermost domain error counts: RetryExhausted wrapping a rate
// limit is not retryable.
func IsRetryable(err error) bool {
	e, ok := problem.As(err)
	if !ok {
		return false
	}
	for _, k := range retryableKinds {
		if e.Kind() == k {
			return true
		}
	}
	return false
}

// extractStatusCode attempts to extract an HTTP status code from various error types.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

func extractProviderCode(err error) string {
	var codeErr ProviderCodeError
	if errors.As(err, &codeErr) {
		return codeErr.ProviderCode()
	}
	return ""
}

// StatusCodeError wraps an error with an HTTP status code and, optionally,
// the provider's error code.
type StatusCodeError struct {
	Err       error
	Code      int
	ErrorCode string
}

// Error implements the error interface.
func (e *StatusCodeError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code.
// This implements the HTTPError interface.
func (e *StatusCodeError) StatusCode() int {
	return e.Code
}

// ProviderCode returns the provider's error code.
// This implements the ProviderCodeError interface.
func (e *StatusCodeError) ProviderCode() string {
	return e.ErrorCode
}

// NewStatusCodeError creates a new StatusCodeError.
// This is useful when wrapping errors from systems that don't provide status codes.
//
// Example:
//
//	err := doRequest()
//	if err != nil {
//	    return aigen.NewStatusCodeError(http.StatusServiceUnavailable, err)
//	}
func NewStatusCodeError(statusCode int, err error) error {
	return &StatusCodeError{
		Code: statusCode,
		Err:  err,
	}
}

// NewProviderError wraps err with both a status code and a provider error code.
func NewProviderError(statusCode int, providerCode string, err error) error {
	return &StatusCodeError{
		Code:      statusCode,
		ErrorCode: providerCode,
		Err:       err,
	}
}
