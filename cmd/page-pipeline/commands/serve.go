package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/spherical/page-pipeline/internal/api"
)

var (
	serveNoSweep         bool
	serveProcessOnSubmit bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the pending-task sweeper",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		handler, jobs := api.NewRouter(api.Deps{
			Store:   a.store,
			Runner:  a.orchestrator,
			Prompts: a.prompts,
			Layout:  a.layout,
			Cache:   a.cache,
			Logger:  logger,
		}, api.RouterConfig{
			RequestTimeout:  cfg.Server.WriteTimeout,
			UploadDir:       cfg.Paths.UploadDir,
			ProcessOnSubmit: serveProcessOnSubmit,
			DisableMetrics:  !cfg.Observability.MetricsEnabled,
		})

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		srv := &http.Server{
			Addr:        addr,
			Handler:     handler,
			ReadTimeout: cfg.Server.ReadTimeout,
			IdleTimeout: cfg.Server.IdleTimeout,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", addr).Str("database", cfg.Database.Driver).Str("cache", cfg.Cache.Driver).
				Msg("HTTP server listening")
			serverErrors <- srv.ListenAndServe()
		}()

		sweepDone := make(chan struct{})
		go func() {
			defer close(sweepDone)
			if serveNoSweep {
				return
			}
			_ = a.orchestrator.Watch(ctx, cfg.Pipeline.SweepInterval)
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("server error")
			}
			cancel()
		case <-ctx.Done():
			logger.Info().Msg("shutdown signal received")
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
		defer stop()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
			if err := srv.Close(); err != nil {
				logger.Error().Err(err).Msg("forced shutdown failed")
			}
		}
		if err := jobs.Wait(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("background task runs still active at shutdown")
		}
		<-sweepDone

		logger.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoSweep, "no-sweep", false, "do not process pending tasks in the background")
	serveCmd.Flags().BoolVar(&serveProcessOnSubmit, "process-on-submit", false, "start processing uploaded tasks immediately")
	rootCmd.AddCommand(serveCmd)
}
