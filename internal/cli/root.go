// Package cli wires the aigen command line: an HTTP server and a one-shot
// flashcard generator sharing the same settings.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	aigen "github.com/JohnPlummer/jp-go-aigen"
	"github.com/JohnPlummer/jp-go-aigen/internal/config"
	"github.com/JohnPlummer/jp-go-aigen/internal/flashcards"
	"github.com/JohnPlummer/jp-go-aigen/internal/store"
	"github.com/JohnPlummer/jp-go-aigen/provider/openai"
)

// Options holds CLI-level dependencies. Zero fields use the process
// defaults.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ProviderFactory builds the model provider.
	// Default: openai.Factory()
	ProviderFactory aigen.ProviderFactory

	// Environment replaces the process environment when loading settings.
	Environment map[string]string
}

type globalFlags struct {
	configFile string
	envFile    string
}

// NewRootCmd wires the cobra root command.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.ProviderFactory == nil {
		opts.ProviderFactory = openai.Factory()
	}

	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "aigen",
		Short:         "Resilient structured generation",
		Long:          "aigen generates study flashcards with a language model, retrying transient provider failures and validating every answer.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(opts.Stdin)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML settings file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", config.DefaultEnvFile, "dotenv file, ignored when missing")

	root.AddCommand(newServeCommand(opts, flags))
	root.AddCommand(newGenerateCommand(opts, flags))
	return root
}

// app holds the collaborators shared by the commands.
type app struct {
	settings   *config.Settings
	logger     *slog.Logger
	client     *aigen.Client
	records    *store.SQLite
	flashcards *flashcards.Service
}

func buildApp(ctx context.Context, opts Options, flags *globalFlags) (*app, error) {
	settings, err := config.Load(config.LoadOptions{
		ConfigFile:  flags.configFile,
		EnvFile:     flags.envFile,
		Environment: opts.Environment,
	})
	if err != nil {
		return nil, err
	}

	logger, err := settings.Log.NewLogger(opts.Stderr)
	if err != nil {
		return nil, err
	}

	client, err := aigen.New(opts.ProviderFactory, settings.ClientOptions(logger)...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	records, err := store.Open(ctx, settings.Store.Path)
	if err != nil {
		return nil, err
	}

	return &app{
		settings: settings,
		logger:   logger,
		client:   client,
		records:  records,
		flashcards: flashcards.NewService(client,
			flashcards.WithRecorder(records),
			flashcards.WithLogger(logger)),
	}, nil
}

func (a *app) Close() error {
	return a.records.Close()
}
