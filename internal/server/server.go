// Package server exposes flashcard generation over HTTP with gin. Every
// failure leaves as an application/problem+json document.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	aigen "github.com/JohnPlummer/jp-go-aigen"
	"github.com/JohnPlummer/jp-go-aigen/internal/flashcards"
	"github.com/JohnPlummer/jp-go-aigen/internal/ratelimit"
	"github.com/JohnPlummer/jp-go-aigen/internal/reqerr"
	"github.com/JohnPlummer/jp-go-aigen/internal/store"
	"github.com/JohnPlummer/jp-go-aigen/problem"
	"github.com/JohnPlummer/jp-go-aigen/problem/ginproblem"
)

// Lister reads generation records.
type Lister interface {
	List(ctx context.Context, f store.Filter) ([]store.GenerationRecord, error)
}

// Deps are the collaborators of the server. Limiter is optional.
type Deps struct {
	Client     *aigen.Client
	Flashcards *flashcards.Service
	Records    Lister
	Limiter    *ratelimit.Limiter
	Logger     *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	engine *gin.Engine
	logger *slog.Logger
}

// New builds the router.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Client == nil:
		return nil, errors.New("server: client is required")
	case deps.Flashcards == nil:
		return nil, errors.New("server: flashcards service is required")
	case deps.Records == nil:
		return nil, errors.New("server: records are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	useJSONFieldNames()

	r := gin.New()
	r.Use(ginproblem.Middleware(ginproblem.WithLogger(logger)))
	r.NoRoute(func(c *gin.Context) {
		ginproblem.Write(c, reqerr.ErrNotFound.New(
			problem.WithDetailf("no route for %s %s", c.Request.Method, c.Request.URL.Path),
		))
	})

	h := &handler{client: deps.Client, flashcards: deps.Flashcards, records: deps.Records}
	r.GET("/healthz", h.health)

	api := r.Group("/api")
	if deps.Limiter != nil {
		api.Use(ratelimit.Middleware(deps.Limiter))
	}
	{
		api.POST("/flashcards/generate", ginproblem.Handle(h.generate))
		api.GET("/generations", ginproblem.Handle(h.listGenerations))
	}

	return &Server{engine: r, logger: logger}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

var fieldNamesOnce sync.Once

// useJSONFieldNames makes binding errors report json/form names.
func useJSONFieldNames() {
	fieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return f.Name
		})
	})
}
