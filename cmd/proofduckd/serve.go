package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"proofduck/internal/config"
	"proofduck/internal/daemon"
	"proofduck/internal/httpapi"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	var watch bool
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		Example: "  proofduckd serve --addr 127.0.0.1:8080 -c ~/.config/proofduck/config.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Addr = addr
			}
			return a.serve(cmd.Context(), watch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().BoolVar(&watch, "watch", true, "Apply backend changes when the config file is edited")
	return cmd
}

// requestLogLevel picks the default per-request HTTP log level.
func requestLogLevel(level string) string {
	if level == "debug" || level == "trace" {
		return "info"
	}
	return "error"
}

func (a *app) serve(ctx context.Context, watch bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			a.log.Warn().Err(err).Msg("serve event=close_failed")
		}
	}()

	handler := httpapi.NewMux(d, httpapi.Options{
		Logger:          a.log,
		BaseContext:     ctx,
		GenerateTimeout: a.cfg.GenerateTimeout(),
		CORSOrigins:     a.cfg.CORSOrigins,
		RequestLogLevel: requestLogLevel(a.cfg.LogLevel),
	})
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if watch && a.configPath != "" {
		go func() {
			err := config.Watch(ctx, a.configPath, a.log, func(c config.Config) {
				if err := d.Reload(ctx, c); err != nil {
					a.log.Warn().Err(err).Msg("serve event=reload_failed")
				}
			})
			if err != nil {
				a.log.Warn().Err(err).Msg("serve event=watch_failed")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Str("models_dir", a.cfg.ModelsDir).Msg("serve event=listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	a.log.Info().Msg("serve event=shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("serve event=shutdown_error")
	}
	return nil
}
