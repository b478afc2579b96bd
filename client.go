// Package aigen provides a resilient structured-generation client for
// language-model providers. A call is bounded by a per-attempt timeout,
// retried with exponential backoff and jitter on transient failures,
// re-validated against the caller's schema, and every failure is classified
// into the closed "ai" error domain so it can be rendered as a problem
// document at the request boundary.
//
// The retry, timeout and circuit breaker layers are generic over any
// ResilientClient, so they can wrap provider adapters, HTTP clients or test
// doubles alike.
package aigen

import (
	"context"
)

// ResilientClient defines a generic interface for executing requests with retry, timeout
// and circuit breaker support.
//
// Example:
//
//	type echoProvider struct{}
//
//	func (echoProvider) Execute(ctx context.Context, req *aigen.ProviderRequest) (*aigen.ProviderResponse, error) {
//	    return &aigen.ProviderResponse{Payload: []byte(`{"ok":true}`), Model: req.Model}, nil
//	}
type ResilientClient[Req, Resp any] interface {
	// Execute performs a request and returns a response or error.
	// The context should be used to control timeouts and cancellation.
	Execute(ctx context.Context, req Req) (Resp, error)
}

// Provider is the language-model collaborator: given a model id, prompts and
// a schema hint it returns the raw structured payload, or fails with a
// transport/provider error optionally carrying a status code.
type Provider = ResilientClient[*ProviderRequest, *ProviderResponse]

// ProviderRequest is one provider exchange. A new value is built for every
// Generate call and shared read-only by its attempts.
type ProviderRequest struct {
	Model  string
	System string
	User   string

	// SchemaName and Schema carry the JSON Schema hint for the payload.
	SchemaName string
	Schema     []byte

	Parameters Parameters
	Headers    map[string]string
}

// ProviderResponse is the raw result of a successful provider exchange.
// Payload has not been validated yet.
type ProviderResponse struct {
	Payload []byte
	Model   string
	Usage   Usage
}

// Usage reports token accounting when the provider supplies it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error)

// Execute implements Provider.
func (f ProviderFunc) Execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	return f(ctx, req)
}
