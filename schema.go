package aigen

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

const maxReportedIssues = 20

var schemaNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Schema describes the expected shape of a generation result. It is derived
// from the struct type T: the JSON Schema sent to the provider as a hint is
// reflected from T's json and jsonschema tags, and the payload is re-checked
// locally against T's validate tags.
//
// Example:
//
//	type Answer struct {
//	    Summary string   `json:"summary" jsonschema:"maxLength=300" validate:"required,max=300"`
//	    Tags    []string `json:"tags" validate:"max=5,dive,required"`
//	}
//
//	schema, err := aigen.NewSchema[Answer]("answer")
type Schema[T any] struct {
	name       string
	definition []byte
	validate   *validator.Validate
}

// NewSchema builds the schema for T. T must be a struct type and name must
// match [a-zA-Z0-9_-]{1,64}. A schema that cannot be built is reported as
// ai/schema-error.
func NewSchema[T any](name string) (*Schema[T], error) {
	if !schemaNamePattern.MatchString(name) {
		return nil, ErrSchemaError.New(
			problem.WithDetailf("invalid schema name %q", name),
			problem.WithField("schema", name),
		)
	}

	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, ErrSchemaError.New(
			problem.WithDetailf("schema type must be a struct, got %s", typ.Kind()),
			problem.WithField("schema", name),
		)
	}

	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	definition, err := json.Marshal(reflector.ReflectFromType(typ))
	if err != nil {
		return nil, ErrSchemaError.New(
			problem.WithDetail("could not encode json schema"),
			problem.WithField("schema", name),
			problem.WithCause(err),
		)
	}

	s := &Schema[T]{
		name:       name,
		definition: definition,
		validate:   newValidator(),
	}

	// Undefined validate tags panic on first use; surface them now.
	var zero T
	if err := s.check(&zero); err != nil && errors.Is(err, ErrSchemaError) {
		return nil, err
	}
	return s, nil
}

// MustNewSchema is like NewSchema but panics on error. It is intended for
// package-level schema variables.
func MustNewSchema[T any](name string) *Schema[T] {
	s, err := NewSchema[T](name)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name sent to the provider.
func (s *Schema[T]) Name() string {
	return s.name
}

// Definition returns a copy of the JSON Schema document.
func (s *Schema[T]) Definition() []byte {
	return bytes.Clone(s.definition)
}

// Validate decodes payload into T and checks T's validation rules.
//
// A payload that is not a JSON object of the right shape fails with
// ai/parse-error; a decoded value that breaks a rule fails with
// ai/validation-failed listing the offending fields. The zero value is
// returned on any failure. Markdown code fences around the JSON are ignored.
func (s *Schema[T]) Validate(payload []byte) (T, error) {
	var zero T

	body := stripCodeFence(payload)
	if len(body) == 0 {
		return zero, ErrParseError.New(
			problem.WithDetail("provider returned an empty payload"),
			problem.WithMeta(map[string]any{"reason": "empty", "bytes": len(payload)}),
		)
	}

	var value T
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&value); err != nil {
		return zero, ErrParseError.New(
			problem.WithDetail("provider payload is not valid JSON for the schema"),
			problem.WithMeta(map[string]any{"reason": decodeReason(err), "bytes": len(payload)}),
			problem.WithCause(err),
		)
	}
	if dec.More() {
		return zero, ErrParseError.New(
			problem.WithDetail("provider payload has trailing data"),
			problem.WithMeta(map[string]any{"reason": "trailing-data", "bytes": len(payload)}),
		)
	}

	if err := s.check(&value); err != nil {
		return zero, err
	}
	return value, nil
}

func (s *Schema[T]) check(value *T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrSchemaError.New(
				problem.WithDetailf("schema %s has invalid validation rules: %v", s.name, r),
				problem.WithField("schema", s.name),
			)
		}
	}()

	verr := s.validate.Struct(value)
	if verr == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(verr, &fieldErrs) {
		return ErrSchemaError.New(
			problem.WithDetail("schema value cannot be validated"),
			problem.WithField("schema", s.name),
			problem.WithCause(verr),
		)
	}

	issues := make([]map[string]any, 0, min(len(fieldErrs), maxReportedIssues))
	for _, fe := range fieldErrs {
		if len(issues) == maxReportedIssues {
			break
		}
		issue := map[string]any{
			"path": fieldPath(fe.Namespace()),
			"rule": fe.Tag(),
		}
		if p := fe.Param(); p != "" {
			issue["param"] = p
		}
		issues = append(issues, issue)
	}

	return ErrValidationFailed.New(
		problem.WithDetailf("provider output failed %d validation rule(s)", len(fieldErrs)),
		problem.WithMeta(map[string]any{"schema": s.name, "issues": issues}),
		problem.WithCause(verr),
	)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// fieldPath drops the root type name from a validator namespace:
// "FlashcardSet.cards[0].front" becomes "cards[0].front".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func decodeReason(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("syntax error at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			return fmt.Sprintf("field %s: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)
	default:
		return "malformed"
	}
}

func stripCodeFence(payload []byte) []byte {
	body := bytes.TrimSpace(payload)
	if !bytes.HasPrefix(body, []byte("```")) {
		return body
	}
	// Drop the opening fence line, including any language tag.
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		return nil
	}
	body = bytes.TrimSpace(body)
	body = bytes.TrimSuffix(body, []byte("```"))
	return bytes.TrimSpace(body)
}
