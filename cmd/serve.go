package cmd

import (
	"fmt"

	"gatekeeper/bootstrap"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand
func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := bootstrap.NewApp(ctx, opts.configFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			if err := app.Start(ctx); err != nil {
				app.Shutdown()
				return fmt.Errorf("failed to start application: %w", err)
			}

			waitErr := app.WaitForShutdown(ctx)
			app.Shutdown()
			if waitErr != nil {
				return fmt.Errorf("API server stopped: %w", waitErr)
			}
			return nil
		},
	}
}
