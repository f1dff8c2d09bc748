package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"donation-platform/internal/app"
	"donation-platform/internal/config"
	"donation-platform/internal/logger"
	"donation-platform/internal/server"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	lg := logger.New(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("init billing")
	}

	go a.Webhooks.RunRedrive(ctx, cfg.Inbox.RedriveInterval)

	srv := server.NewServer(a.Checkout, a.Access, a.Webhooks, server.Options{
		BaseURL:         cfg.BaseURL,
		JWTSecret:       cfg.Auth.JWTSecret,
		WebhookMaxBytes: cfg.Stripe.WebhookMaxBodyBytes,
	}, lg)

	go func() {
		if err := srv.Start(cfg.HTTP.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal().Err(err).Msg("http server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	lg.Info().Msg("signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("http server shutdown")
	}
	cancel()

	if err := a.Close(); err != nil {
		lg.Error().Err(err).Msg("close resources")
	}
	lg.Info().Msg("shutdown complete")
}
