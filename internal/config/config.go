// Package config loads the application settings from defaults, an optional
// YAML file, an optional .env file and the process environment, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	aigen "github.com/JohnPlummer/jp-go-aigen"
)

// DefaultEnvFile is read when present.
const DefaultEnvFile = ".env"

// Settings is the application configuration.
type Settings struct {
	Provider ProviderSettings `yaml:"provider"`
	Retry    RetrySettings    `yaml:"retry"`
	Breaker  BreakerSettings  `yaml:"circuit_breaker"`
	Server   ServerSettings   `yaml:"server"`
	Store    StoreSettings    `yaml:"store"`
	Log      LogSettings      `yaml:"log"`
}

// ProviderSettings configure the generation client.
type ProviderSettings struct {
	// APIKey is only read from the environment.
	APIKey      string            `yaml:"-" env:"OPENAI_API_KEY"`
	BaseURL     string            `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model       string            `yaml:"model" env:"AIGEN_MODEL"`
	Timeout     time.Duration     `yaml:"timeout" env:"AIGEN_TIMEOUT"`
	Temperature float64           `yaml:"temperature" env:"AIGEN_TEMPERATURE"`
	MaxTokens   int               `yaml:"max_tokens" env:"AIGEN_MAX_TOKENS"`
	TopP        float64           `yaml:"top_p" env:"AIGEN_TOP_P"`
	Headers     map[string]string `yaml:"headers" env:"AIGEN_HEADERS"`
}

// RetrySettings configure the retry policy.
type RetrySettings struct {
	MaxRetries int           `yaml:"max_retries" env:"AIGEN_MAX_RETRIES"`
	BaseDelay  time.Duration `yaml:"base_delay" env:"AIGEN_RETRY_BASE_DELAY"`
	MaxDelay   time.Duration `yaml:"max_delay" env:"AIGEN_RETRY_MAX_DELAY"`
	Jitter     bool          `yaml:"jitter" env:"AIGEN_RETRY_JITTER"`
}

// BreakerSettings configure the provider circuit breaker.
type BreakerSettings struct {
	Enabled bool          `yaml:"enabled" env:"AIGEN_BREAKER_ENABLED"`
	Timeout time.Duration `yaml:"timeout" env:"AIGEN_BREAKER_TIMEOUT"`
}

// ServerSettings configure the HTTP server.
type ServerSettings struct {
	Addr            string        `yaml:"addr" env:"AIGEN_ADDR"`
	RateLimit       int           `yaml:"rate_limit" env:"AIGEN_RATE_LIMIT"`
	RateWindow      time.Duration `yaml:"rate_window" env:"AIGEN_RATE_WINDOW"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"AIGEN_SHUTDOWN_TIMEOUT"`
}

// StoreSettings configure the generation record store.
type StoreSettings struct {
	Path string `yaml:"path" env:"AIGEN_DB_PATH"`
}

// LogSettings configure the process logger.
type LogSettings struct {
	Format string `yaml:"format" env:"AIGEN_LOG_FORMAT"`
	Level  string `yaml:"level" env:"AIGEN_LOG_LEVEL"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Settings {
	cfg := aigen.DefaultConfig()
	return &Settings{
		Provider: ProviderSettings{
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Parameters.Temperature,
			MaxTokens:   cfg.Parameters.MaxTokens,
			TopP:        cfg.Parameters.TopP,
		},
		Retry: RetrySettings{
			MaxRetries: cfg.RetryPolicy.MaxRetries,
			BaseDelay:  cfg.RetryPolicy.BaseDelay,
			MaxDelay:   cfg.RetryPolicy.MaxDelay,
			Jitter:     cfg.RetryPolicy.Jitter,
		},
		Breaker: BreakerSettings{
			Enabled: true,
			Timeout: aigen.DefaultCircuitBreakerConfig().Timeout,
		},
		Server: ServerSettings{
			Addr:            ":8080",
			RateLimit:       60,
			RateWindow:      time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreSettings{
			Path: "data/aigen.db",
		},
		Log: LogSettings{
			Format: "text",
			Level:  "info",
		},
	}
}

// LoadOptions select the sources read by Load.
type LoadOptions struct {
	// ConfigFile is a YAML settings file. It must exist when set.
	ConfigFile string

	// EnvFile is a dotenv file. A missing file is ignored.
	// Default: DefaultEnvFile
	EnvFile string

	// Environment replaces the process environment.
	Environment map[string]string
}

// Load builds the settings. Values in the environment override the .env
// file, which overrides the YAML file, which overrides Default.
func Load(opts LoadOptions) (*Settings, error) {
	s := Default()

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", opts.ConfigFile, err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", opts.ConfigFile, err)
		}
	}

	environment, err := environment(opts)
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(s, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// environment merges the dotenv file under the real environment.
func environment(opts LoadOptions) (map[string]string, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}

	merged := map[string]string{}
	dotenv, err := godotenv.Read(envFile)
	switch {
	case err == nil:
		for k, v := range dotenv {
			merged[k] = v
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: read %s: %w", envFile, err)
	}

	actual := opts.Environment
	if actual == nil {
		actual = env.ToMap(os.Environ())
	}
	for k, v := range actual {
		merged[k] = v
	}
	return merged, nil
}

// Validate checks the settings that the client options do not cover.
func (s *Settings) Validate() error {
	switch {
	case s.Server.Addr == "":
		return errors.New("config: server.addr must not be empty")
	case s.Server.RateLimit < 1:
		return fmt.Errorf("config: server.rate_limit must be at least 1, got %d", s.Server.RateLimit)
	case s.Server.RateWindow <= 0:
		return fmt.Errorf("config: server.rate_window must be positive, got %v", s.Server.RateWindow)
	case s.Store.Path == "":
		return errors.New("config: store.path must not be empty")
	}
	if _, err := s.Log.level(); err != nil {
		return err
	}
	if f := strings.ToLower(s.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("config: log.format must be text or json, got %q", s.Log.Format)
	}
	return nil
}

// ClientOptions converts the settings into aigen options. The options are
// validated by aigen.New.
func (s *Settings) ClientOptions(logger *slog.Logger) []aigen.Option {
	p := s.Provider
	opts := []aigen.Option{
		aigen.WithModel(p.Model),
		aigen.WithTimeout(p.Timeout),
		aigen.WithParameters(aigen.Parameters{
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
			TopP:        p.TopP,
		}),
		aigen.WithRetryPolicy(aigen.RetryPolicy{
			MaxRetries: s.Retry.MaxRetries,
			BaseDelay:  s.Retry.BaseDelay,
			MaxDelay:   s.Retry.MaxDelay,
			Jitter:     s.Retry.Jitter,
		}),
	}
	if p.APIKey != "" {
		opts = append(opts, aigen.WithAPIKey(p.APIKey))
	}
	if p.BaseURL != "" {
		opts = append(opts, aigen.WithBaseURL(p.BaseURL))
	}
	if len(p.Headers) > 0 {
		opts = append(opts, aigen.WithHeaders(p.Headers))
	}
	if logger != nil {
		opts = append(opts, aigen.WithLogger(logger))
	}
	if s.Breaker.Enabled {
		opts = append(opts, aigen.WithCircuitBreaker(aigen.WithBreakerTimeout(s.Breaker.Timeout)))
	}
	return opts
}

// NewLogger builds the process logger writing to w.
func (l LogSettings) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(l.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

func (l LogSettings) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}
