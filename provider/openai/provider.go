// Package openai adapts the OpenAI chat completions API (and compatible
// endpoints) to aigen.Provider. The request schema is sent as a json_schema
// response format, and API failures are returned as aigen.StatusCodeError
// so the client's classifier can map them.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/sashabaranov/go-openai"

	aigen "github.com/JohnPlummer/jp-go-aigen"
	"github.com/JohnPlummer/jp-go-aigen/problem"
)

// Provider calls the chat completions endpoint.
type Provider struct {
	client *openai.Client
	logger *slog.Logger
	strict bool
}

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	strict     bool
}

// Option configures a Provider.
type Option func(*options)

// WithHTTPClient sets the HTTP client. Its transport is wrapped to add the
// per-request headers.
// Default: a new http.Client
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets the provider logger.
// Default: the client configuration's logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStrictSchema controls the "strict" flag of the json_schema response
// format.
// Default: true
func WithStrictSchema(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// Factory returns an aigen.ProviderFactory that builds a Provider from the
// client configuration.
//
// Example:
//
//	client, err := aigen.New(openai.Factory(), aigen.WithAPIKey(key))
func Factory(opts ...Option) aigen.ProviderFactory {
	return func(cfg aigen.Config) (aigen.Provider, error) {
		return New(cfg, opts...)
	}
}

// New creates a Provider. cfg.APIKey is required; cfg.BaseURL overrides the
// default endpoint.
func New(cfg aigen.Config, opts ...Option) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, aigen.ErrInvalidConfig.New(
			problem.WithDetail("apiKey must not be empty"),
			problem.WithField("field", "apiKey"),
		)
	}

	o := &options{strict: true, logger: cfg.Logger}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	httpClient := &http.Client{}
	if o.httpClient != nil {
		c := *o.httpClient
		httpClient = &c
	}
	httpClient.Transport = &headerTransport{base: httpClient.Transport}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = httpClient

	return &Provider{
		client: openai.NewClientWithConfig(clientCfg),
		logger: o.logger,
		strict: o.strict,
	}, nil
}

// Execute implements aigen.Provider.
func (p *Provider) Execute(ctx context.Context, req *aigen.ProviderRequest) (*aigen.ProviderResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: temperature(req.Parameters.Temperature),
		MaxTokens:   req.Parameters.MaxTokens,
		TopP:        float32(req.Parameters.TopP),
		Seed:        req.Parameters.Seed,
	}
	if len(req.Schema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: json.RawMessage(req.Schema),
				Strict: p.strict,
			},
		}
	}

	resp, err := p.client.CreateChatCompletion(withHeaders(ctx, req.Headers), chatReq)
	if err != nil {
		p.logger.Debug("chat completion failed", "model", req.Model, "error", err)
		return nil, mapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, aigen.ErrParseError.New(
			problem.WithDetail("provider returned no choices"),
			problem.WithMeta(map[string]any{"reason": "no-choices", "bytes": 0}),
		)
	}

	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, aigen.ErrParseError.New(
			problem.WithDetail("model refused to answer"),
			problem.WithMeta(map[string]any{"reason": "refusal", "bytes": 0}),
		)
	}

	return &aigen.ProviderResponse{
		Payload: []byte(msg.Content),
		Model:   resp.Model,
		Usage: aigen.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// temperature keeps an explicit zero on the wire; go-openai omits zero values.
func temperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return aigen.NewProviderError(apiErr.HTTPStatusCode, apiErrorCode(apiErr), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return aigen.NewStatusCodeError(reqErr.HTTPStatusCode, err)
	}

	return aigen.ErrServiceUnavailable.New(
		problem.WithDetail("provider unreachable"),
		problem.WithCause(err),
	)
}

func apiErrorCode(err *openai.APIError) string {
	switch code := err.Code.(type) {
	case string:
		if code != "" {
			return code
		}
	case nil:
	default:
		return fmt.Sprint(code)
	}
	return err.Type
}
