package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"accord/internal/ops/handler"
	"accord/internal/platform/httpserver"
	"accord/pkg/platform/middleware/metadata"
	"accord/pkg/platform/middleware/requesttime"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a node: sync endpoint, ops endpoints and the audit relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			opts.logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	h, err := handler.New(a.node, a.logger, a.registry,
		handler.WithChecks(a.checks...),
		handler.WithSyncMiddleware(a.limiter.PerPeer),
	)
	if err != nil {
		return err
	}
	r := chi.NewRouter()
	r.Use(metadata.RequestMetadata)
	r.Use(requesttime.Middleware)
	h.Register(r)

	srv := httpserver.New(opts.cfg.Server.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.InfoContext(gctx, "starting accord node", "addr", opts.cfg.Server.Addr, "node_id", opts.cfg.NodeID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down accord node")
		return srv.Shutdown(shutdownCtx)
	})
	if a.relay != nil {
		g.Go(func() error {
			if err := a.relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
