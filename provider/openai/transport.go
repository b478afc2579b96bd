package openai

import (
	"context"
	"net/http"
)

type headersKey struct{}

func withHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return context.WithValue(ctx, headersKey{}, headers)
}

// headerTransport adds the extra headers of the current request.
type headerTransport struct {
	base http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	headers, _ := req.Context().Value(headersKey{}).(map[string]string)
	if len(headers) == 0 {
		return base.RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	for name, value := range headers {
		out.Header.Set(name, value)
	}
	return base.RoundTrip(out)
}
