package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"container-invoker/internal/app"
	api "container-invoker/internal/delivery/http"

	_ "container-invoker/docs"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the invocation API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(os.Stdout)
			if err != nil {
				return err
			}
			log.Info().
				Str("default_provider", cfg.DefaultProvider).
				Msg("bootstrapping service")

			a, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				log.Error().Err(err).Msg("open application")
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn().Err(err).Msg("closing clients")
				}
			}()

			handler := api.NewHandler(a.Invoker, log)
			srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			errc := make(chan error, 1)
			go func() {
				log.Info().Str("listen", cfg.ListenAddr).Msg("HTTP server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					log.Error().Err(err).Msg("http server failed")
					return err
				}
			case <-cmd.Context().Done():
			}

			log.Info().Msg("shutting down server...")
			// In-flight invocations finish their teardown before the server returns.
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("server shutdown")
			}
			log.Info().Msg("shutdown complete")
			return nil
		},
	}
}
