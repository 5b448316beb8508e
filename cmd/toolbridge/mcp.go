package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"toolbridge/internal/adapter/mcpserver"
)

func newMCPCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool catalog to MCP clients over stdio",
		Long: `Serve the compiled tool catalog over the Model Context Protocol on
stdin/stdout. Logs go to stderr or the configured log file so that stdout
carries protocol messages only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, o, func(ctx context.Context, a *app) error {
				srv, err := mcpserver.New(a.catalog, "toolbridge", version, a.logger)
				if err != nil {
					return err
				}
				return srv.Serve(ctx, o.in, o.out)
			})
		},
	}
}
