package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cabildo/internal/platform/config"
	"cabildo/internal/platform/httpserver"
	"cabildo/internal/platform/logger"
	httptransport "cabildo/internal/transport/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logger.New(cfg.IsProduction())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.SeedOnStart {
		if err := svc.citizens.SeedDev(ctx); err != nil {
			log.Warn("seed failed", "error", err)
		}
	}

	router, err := httptransport.NewRouter(httptransport.Config{
		Citizens:     svc.citizens,
		Verification: svc.verification,
		Certificates: svc.certificates,
		Admins:       svc.admins,
		Sessions:     svc.sessions,
		LoginLimiter: svc.limiter,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.HTTPAddr, router)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server_started", "addr", cfg.HTTPAddr, "mode", cfg.AppMode, "timezone", cfg.Timezone)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server_stopped")
	return nil
}
