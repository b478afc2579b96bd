// Package ginproblem is the request boundary for gin: every failure that
// leaves a handler, including panics, is rendered as an
// application/problem+json document carrying a correlation id.
package ginproblem

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

// HeaderCorrelationID carries the correlation id on requests and responses.
const HeaderCorrelationID = "X-Correlation-ID"

const (
	correlationKey = "ginproblem.correlation_id"
	loggerKey      = "ginproblem.logger"
)

// correlationPattern admits printable ASCII tokens without spaces, which
// keeps control characters out of logs and response headers.
var correlationPattern = regexp.MustCompile(`^[\x21-\x7E]{1,128}$`)

type config struct {
	logger *slog.Logger
}

// Option configures the middleware.
type Option func(*config)

// WithLogger sets the logger used for request failures.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Middleware assigns the correlation id and renders failures.
//
// An inbound X-Correlation-ID is reused when it is a printable token of 1 to
// 128 characters; otherwise a new UUID is generated. The id is set on the response before any handler
// runs, so it is present on every response.
//
// Errors recorded with c.Error (see Handle) are rendered after the handler
// chain returns, unless a response body was already written. Domain errors
// keep their status and code; anything else, including a panic value, becomes
// system/unexpected with status 500 and is logged with its cause.
func Middleware(opts ...Option) gin.HandlerFunc {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return func(c *gin.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if !correlationPattern.MatchString(id) {
			id = uuid.NewString()
		}

		logger := cfg.logger.With("correlation_id", id)
		c.Header(HeaderCorrelationID, id)
		c.Set(correlationKey, id)
		c.Set(loggerKey, logger)
		c.Request = c.Request.WithContext(problem.WithCorrelationID(c.Request.Context(), id))

		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panicked", "panic", fmt.Sprint(r))
				render(c, logger, panicError(r))
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			render(c, logger, c.Errors.Last().Err)
		}
	}
}

// Handle adapts an error-returning handler. A returned error aborts the
// chain and is rendered by Middleware.
//
// Example:
//
//	router.POST("/decks", ginproblem.Handle(func(c *gin.Context) error {
//	    deck, err := service.Create(c.Request.Context(), input)
//	    if err != nil {
//	        return err
//	    }
//	    c.JSON(http.StatusCreated, deck)
//	    return nil
//	}))
func Handle(h func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h(c); err != nil {
			_ = c.Error(err)
			c.Abort()
		}
	}
}

// Write renders err immediately. It is useful in middleware that rejects a
// request before the handler runs.
func Write(c *gin.Context, err error) {
	render(c, Logger(c), err)
}

// CorrelationID returns the correlation id of the request, or "" outside
// Middleware.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// CorrelationIDFromContext returns the correlation id stored in a request
// context by Middleware. It is problem.CorrelationIDFromContext.
func CorrelationIDFromContext(ctx context.Context) string {
	return problem.CorrelationIDFromContext(ctx)
}

// Logger returns the request-scoped logger, which carries the correlation id.
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if logger, ok := v.(*slog.Logger); ok {
			return logger
		}
	}
	return slog.Default()
}

func render(c *gin.Context, logger *slog.Logger, err error) {
	perr := problem.FromError(err)
	doc := problem.ToProblem(perr, c.Request.URL.Path)

	if doc.Status >= 500 {
		logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", doc.Code,
			"status", doc.Status,
			"error", err)
	} else {
		logger.Warn("request rejected",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", doc.Code,
			"status", doc.Status)
	}

	if c.Writer.Written() {
		return
	}
	c.Header("Content-Type", problem.ContentType)
	c.AbortWithStatusJSON(doc.Status, doc)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
