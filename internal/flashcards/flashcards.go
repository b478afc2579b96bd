// Package flashcards turns source text into study flashcards using a
// structured generation client, and records every attempt in the
// generation store.
package flashcards

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	aigen "github.com/JohnPlummer/jp-go-aigen"
	"github.com/JohnPlummer/jp-go-aigen/internal/store"
	"github.com/JohnPlummer/jp-go-aigen/problem"
)

// Card limits.
const (
	MaxFrontLength = 200
	MaxBackLength  = 500
	MaxCards       = 20
	DefaultCount   = 5
)

// Flashcard is one question/answer pair.
type Flashcard struct {
	Front string `json:"front" jsonschema:"minLength=1,maxLength=200" validate:"required,max=200"`
	Back  string `json:"back" jsonschema:"minLength=1,maxLength=500" validate:"required,max=500"`
}

// Set is the structured output requested from the model.
type Set struct {
	Cards []Flashcard `json:"cards" jsonschema:"minItems=1,maxItems=20" validate:"required,min=1,max=20,dive"`
}

// SetSchema is the output schema shared by every request.
var SetSchema = aigen.MustNewSchema[Set]("flashcard_set")

const systemPromptFormat = `You write study flashcards from the text the user provides.
Write exactly %d flashcards. Each front is a single question of at most %d characters.
Each back is a concise answer of at most %d characters, taken from the text.
Respond only with JSON that matches the provided schema.`

// Input is a generation request.
type Input struct {
	SourceText string `json:"source_text" binding:"required,max=20000"`
	Count      int    `json:"count" binding:"omitempty,min=1,max=20"`
	Model      string `json:"model" binding:"omitempty,max=128"`

	// Caller identifies who asked, for the generation record.
	Caller string `json:"-"`
}

// Output is a successful generation.
type Output struct {
	Cards    []Flashcard `json:"cards"`
	Model    string      `json:"model"`
	Attempts int         `json:"attempts"`
}

// Recorder saves generation records.
type Recorder interface {
	Insert(ctx context.Context, rec *store.GenerationRecord) error
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sets where generation records are saved.
// Default: records are not saved
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithLogger sets the service logger.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service generates flashcard sets.
type Service struct {
	client   *aigen.Client
	recorder Recorder
	logger   *slog.Logger
}

// NewService creates a Service backed by client.
func NewService(client *aigen.Client, opts ...Option) *Service {
	s := &Service{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Generate asks the model for in.Count cards (DefaultCount when zero).
// Every outcome that reaches the provider is recorded; a recorder failure is
// logged and does not fail the call. Errors are domain errors.
func (s *Service) Generate(ctx context.Context, in Input) (Output, error) {
	count := in.Count
	if count == 0 {
		count = DefaultCount
	}
	if count < 1 || count > MaxCards {
		return Output{}, aigen.ErrInvalidInput.New(
			problem.WithDetailf("count must be between 1 and %d", MaxCards),
			problem.WithField("field", "count"),
		)
	}

	builder := aigen.NewRequest[Set]().
		SetSystemPrompt(fmt.Sprintf(systemPromptFormat, count, MaxFrontLength, MaxBackLength)).
		SetUserPrompt(in.SourceText).
		SetSchema(SetSchema)
	if in.Model != "" {
		builder.SetModel(in.Model)
	}
	spec, err := builder.Build()
	if err != nil {
		return Output{}, err
	}

	start := time.Now()
	res, err := aigen.GenerateWithResult(ctx, s.client, spec)

	rec := &store.GenerationRecord{
		CorrelationID: problem.CorrelationIDFromContext(ctx),
		Caller:        in.Caller,
		Model:         res.Model,
		Attempts:      res.Attempts,
		DurationMs:    time.Since(start).Milliseconds(),
	}
	if err != nil {
		rec.Status = store.StatusFailed
		rec.Code = problem.FromError(err).Code()
		s.record(ctx, rec)
		return Output{}, err
	}

	cards := res.Value.Cards
	if len(cards) > count {
		cards = cards[:count]
	}
	rec.Status = store.StatusSucceeded
	rec.CardCount = len(cards)
	s.record(ctx, rec)

	return Output{Cards: cards, Model: res.Model, Attempts: res.Attempts}, nil
}

func (s *Service) record(ctx context.Context, rec *store.GenerationRecord) {
	if s.recorder == nil {
		return
	}
	// the request may already be canceled; the record is still wanted
	if err := s.recorder.Insert(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("failed to record generation",
			"correlation_id", rec.CorrelationID,
			"status", rec.Status,
			"error", err)
	}
}
