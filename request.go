package aigen

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

// Prompt limits, in characters.
const (
	MaxSystemPromptLength = 5000
	MaxUserPromptLength   = 20000
)

// DefaultSystemPrompt is used when a request does not set a system prompt.
const DefaultSystemPrompt = "You are a precise assistant. Respond only with JSON that matches the provided schema."

// RequestSpec is an immutable, validated generation request. The only way to
// obtain one is RequestBuilder.Build.
type RequestSpec[T any] struct {
	system     string
	user       string
	schema     *Schema[T]
	model      string
	parameters *Parameters
	timeout    time.Duration
}

// SystemPrompt returns the system prompt, DefaultSystemPrompt when none was set.
func (r RequestSpec[T]) SystemPrompt() string {
	if r.system == "" {
		return DefaultSystemPrompt
	}
	return r.system
}

// UserPrompt returns the user prompt.
func (r RequestSpec[T]) UserPrompt() string { return r.user }

// Schema returns the expected output schema.
func (r RequestSpec[T]) Schema() *Schema[T] { return r.schema }

// Model returns the model override, or "" to use the client default.
func (r RequestSpec[T]) Model() string { return r.model }

// Parameters returns the parameter override, if any.
func (r RequestSpec[T]) Parameters() (Parameters, bool) {
	if r.parameters == nil {
		return Parameters{}, false
	}
	return *r.parameters, true
}

// Timeout returns the per-attempt timeout override, or 0 to use the client default.
func (r RequestSpec[T]) Timeout() time.Duration { return r.timeout }

// validate is the single check for a complete request. Build and Generate
// both call it, so a zero RequestSpec never reaches the provider.
func (r RequestSpec[T]) validate() error {
	var missing []string
	if strings.TrimSpace(r.user) == "" {
		missing = append(missing, "userPrompt")
	}
	if r.schema == nil {
		missing = append(missing, "schema")
	}
	if len(missing) == 0 {
		return nil
	}
	return ErrInvalidInput.New(
		problem.WithDetailf("request is missing %s", strings.Join(missing, " and ")),
		problem.WithField("missing", missing),
	)
}

// RequestBuilder assembles a RequestSpec. Every setter checks its argument
// immediately and returns an ai/invalid-input error, leaving the builder
// unchanged on failure.
//
// Example:
//
//	spec, err := aigen.NewRequest[Answer]().
//	    SetSchema(answerSchema).
//	    SetUserPrompt(question).
//	    Build()
//
// Chained calls stop at the first error, which Build then returns.
type RequestBuilder[T any] struct {
	spec RequestSpec[T]
	err  error
}

// NewRequest starts a request for results of type T.
func NewRequest[T any]() *RequestBuilder[T] {
	return &RequestBuilder[T]{}
}

// SetSystemPrompt sets the system prompt.
func (b *RequestBuilder[T]) SetSystemPrompt(prompt string) *RequestBuilder[T] {
	if b.err != nil {
		return b
	}
	if err := checkPrompt("systemPrompt", prompt, MaxSystemPromptLength, false); err != nil {
		b.err = err
		return b
	}
	b.spec.system = prompt
	return b
}

// SetUserPrompt sets the user prompt. It is required.
func (b *RequestBuilder[T]) SetUserPrompt(prompt string) *RequestBuilder[T] {
	if b.err != nil {
		return b
	}
	if err := checkPrompt("userPrompt", prompt, MaxUserPromptLength, true); err != nil {
		b.err = err
		return b
	}
	b.spec.user = prompt
	return b
}

// SetSchema sets the expected output schema. It is required.
func (b *RequestBuilder[T]) SetSchema(schema *Schema[T]) *RequestBuilder[T] {
	if b.err != nil {
		return b
	}
	if schema == nil {
		b.err = invalidInput(&fieldError{field: "schema", reason: "must not be nil"})
		return b
	}
	b.spec.schema = schema
	return b
}

// SetModel overrides the client's default model for this request.
func (b *RequestBuilder[T]) SetModel(model string) *RequestBuilder[T] {
	if b.err != nil {
		return b
	}
	if err := validateModel(model); err != nil {
		b.err = invalidInput(err)
		return b
	}
	b.spec.model = model
	return b
}

// SetParameters overrides the client's default parameters for this request.
func (b *RequestBuilder[T]) SetParameters(params Parameters) *RequestBuilder[T] {
	if b.err != nil {
		return b
	}
	if err := params.Validate(); err != nil {
		b.err = invalidInput(err)
		return b
	}
	if params.Seed != nil {
		seed := *params.Seed
		params.Seed = &seed
	}
	b.spec.parameters = &params
	return b
}

// SetTimeout overrides the client's per-attempt timeout for this request.
func (b *RequestBuilder[T]) SetTimeout(timeout time.Duration) *RequestBuilder[T] {
	if b.err != nil {
		return b
	}
	if err := validateTimeout(timeout); err != nil {
		b.err = invalidInput(err)
		return b
	}
	b.spec.timeout = timeout
	return b
}

// Err returns the first setter error, if any.
func (b *RequestBuilder[T]) Err() error {
	return b.err
}

// Build returns the finished request, or the first error recorded by a
// setter, or an ai/invalid-input error naming the missing required parts.
func (b *RequestBuilder[T]) Build() (RequestSpec[T], error) {
	if b.err != nil {
		return RequestSpec[T]{}, b.err
	}
	if err := b.spec.validate(); err != nil {
		return RequestSpec[T]{}, err
	}
	return b.spec, nil
}

func checkPrompt(field, prompt string, limit int, required bool) error {
	if required && strings.TrimSpace(prompt) == "" {
		return invalidInput(&fieldError{field: field, reason: "must not be empty"})
	}
	if n := utf8.RuneCountInString(prompt); n > limit {
		return invalidInput(&fieldError{field: field, reason: fmt.Sprintf("must be at most %d characters, got %d", limit, n)})
	}
	return nil
}
