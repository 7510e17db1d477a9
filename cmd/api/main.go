package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"finvoice-go/internal/app"
	"finvoice-go/internal/config"
	"finvoice-go/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".env")
	if err != nil {
		logger.New().WithError(err).Fatal("invalid configuration")
	}
	log := logger.NewWithOptions(logger.Options{Environment: cfg.Environment, Level: cfg.LogLevel})
	log.WithField("service", "finvoice").Info("starting service")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil {
		log.WithError(err).Fatal("server terminated")
	}
}
