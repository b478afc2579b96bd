package aigen

import "time"

// HealthStatus reports the state of a Client. It provides a strongly-typed
// alternative to map[string]interface{} for health endpoints.
type HealthStatus struct {
	// Healthy is false only while the provider circuit is open.
	Healthy bool `json:"healthy"`

	// Status is a short description: "ok", "degraded" or "unavailable".
	Status string `json:"status"`

	// Model is the current default model.
	Model string `json:"model"`

	// CircuitBreaker is nil when no breaker is configured.
	CircuitBreaker *BreakerHealth `json:"circuit_breaker,omitempty"`

	// Retry summarises the attempt loop since the client was created.
	Retry RetryHealth `json:"retry"`
}

// BreakerHealth is the circuit breaker part of HealthStatus.
type BreakerHealth struct {
	// State is "closed", "half-open" or "open".
	State string `json:"state"`

	// Requests is the total number of requests in the current interval.
	Requests uint32 `json:"requests"`

	// TotalSuccesses is the total number of successful requests.
	TotalSuccesses uint32 `json:"total_successes"`

	// TotalFailures is the total number of failed requests.
	TotalFailures uint32 `json:"total_failures"`

	// ConsecutiveFailures is the number of consecutive failures.
	ConsecutiveFailures uint32 `json:"consecutive_failures"`

	// ConsecutiveSuccesses is the number of consecutive successes.
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// RetryHealth is the retry part of HealthStatus.
type RetryHealth struct {
	TotalAttempts   int64      `json:"total_attempts"`
	TotalRetries    int64      `json:"total_retries"`
	TotalSuccesses  int64      `json:"total_successes"`
	TotalFailures   int64      `json:"total_failures"`
	LastAttemptTime *time.Time `json:"last_attempt_time,omitempty"`

	// LastErrorCode is the domain code of the last failure, never its message.
	LastErrorCode string `json:"last_error_code,omitempty"`
}

func newHealthStatus(model string, breaker *BreakerHealth, stats RetryStats) HealthStatus {
	h := HealthStatus{
		Healthy:        true,
		Status:         "ok",
		Model:          model,
		CircuitBreaker: breaker,
		Retry: RetryHealth{
			TotalAttempts:  stats.TotalAttempts,
			TotalRetries:   stats.TotalRetries,
			TotalSuccesses: stats.TotalSuccesses,
			TotalFailures:  stats.TotalFailures,
		},
	}
	if !stats.LastAttemptTime.IsZero() {
		t := stats.LastAttemptTime
		h.Retry.LastAttemptTime = &t
	}
	if stats.LastError != nil {
		h.Retry.LastErrorCode = errorCode(stats.LastError)
	}

	if breaker != nil {
		switch breaker.State {
		case StateHalfOpen.String():
			// Degraded but operational
			h.Status = "degraded"
		case StateOpen.String():
			h.Healthy = false
			h.Status = "unavailable"
		}
	}
	return h
}
