package cli

import (
	"github.com/spf13/cobra"

	"github.com/JohnPlummer/jp-go-aigen/internal/ratelimit"
	"github.com/JohnPlummer/jp-go-aigen/internal/server"
)

func newServeCommand(opts Options, flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, opts, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			limiter, err := ratelimit.New(a.settings.Server.RateLimit, a.settings.Server.RateWindow)
			if err != nil {
				return err
			}

			srv, err := server.New(server.Deps{
				Client:     a.client,
				Flashcards: a.flashcards,
				Records:    a.records,
				Limiter:    limiter,
				Logger:     a.logger,
			})
			if err != nil {
				return err
			}

			if addr == "" {
				addr = a.settings.Server.Addr
			}
			return srv.Run(ctx, addr, a.settings.Server.ShutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from settings)")
	return cmd
}
