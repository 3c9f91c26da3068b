package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/cadence/internal/adapters/rest"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}

			a, err := wire(cfg, log, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []rest.Option{
				rest.WithEngineInfo(newEngineInfo(cfg, a)),
				rest.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
			}
			if a.store != nil {
				opts = append(opts, rest.WithRecordingStore(a.store))
			}
			handler := rest.NewHandler(a.orch, log.WithField("component", "rest"), opts...)

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
			}

			serverErr := make(chan error, 1)
			go func() {
				err := srv.ListenAndServe()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
					return
				}
				serverErr <- nil
			}()
			log.WithField("addr", cfg.Server.Addr).WithField("backend", cfg.Transcriber.Backend).Info("Cadence API is running")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-serverErr:
				return err
			case <-ctx.Done():
				log.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.WithError(err).Error("shutdown error")
				}
				return nil
			}
		},
	}
}
