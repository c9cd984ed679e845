package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/logging"
	"github.com/vedran77/pulsedm/internal/supervisor"
	"github.com/vedran77/pulsedm/internal/transport/http/router"
	"github.com/vedran77/pulsedm/internal/transport/ws"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and realtime gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.close()

	svcs := newServices(cfg, st)
	registry := newRegistry(cfg, st)
	svcs.dm.SetNotifier(ws.NewRegistryNotifier(registry))

	gateway := ws.NewGateway(registry, svcs.dm, svcs.identity, cfg.Realtime)
	handler := router.New(cfg, router.Deps{
		DM:      svcs.dm,
		Auth:    svcs.identity,
		Gateway: gateway,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	if cfg.Reconcile.SweepInterval > 0 {
		tree.AddJobService(supervisor.NewReconcileSweeper(registry, svcs.reconcile, cfg.Reconcile.SweepInterval))
	}

	logging.Info().
		Str("addr", server.Addr).
		Str("environment", cfg.Server.Environment).
		Str("driver", cfg.Database.Driver).
		Msg("starting server")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logging.Info().Msg("server stopped")
	return nil
}
