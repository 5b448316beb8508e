package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"toolbridge/internal/adapter/gateway"
	"toolbridge/internal/adapter/llm"
	"toolbridge/internal/usecase/orchestrator"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, o, serve)
		},
	}
}

// serve runs the gateway until ctx is cancelled, then shuts it down
// gracefully.
func serve(ctx context.Context, a *app) error {
	provider, err := llm.NewProvider(a.cfg.LLM, a.logger)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}

	orch := orchestrator.New(
		provider,
		a.catalog.Registry(),
		a.catalog,
		orchestrator.ConfigFrom(a.cfg.Orchestrator, a.cfg.LLM.Model),
		a.logger,
		orchestrator.WithMetrics(a.metrics),
	)

	srv := gateway.NewServer(a.cfg.Server, gateway.Deps{
		Chat:    orch,
		Catalog: a.catalog,
		Metrics: a.metrics,
	}, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		return reloadOnHangup(gctx, a)
	})
	return g.Wait()
}

// reloadOnHangup recompiles the catalog on every SIGHUP until ctx ends.
// A failed reload keeps the current catalog.
func reloadOnHangup(ctx context.Context, a *app) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutdown signal received")
			return nil
		case <-hup:
			if _, err := a.catalog.Reload(ctx); err != nil {
				a.logger.Error("catalog reload failed", "error", err)
			}
		}
	}
}
