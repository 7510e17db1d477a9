package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"finvoice-go/internal/diagnostics"
)

const shutdownGrace = 30 * time.Second

// Serve runs the HTTP API and the worker pool until ctx is done, then
// drains both.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + a.Config.Server.Port,
		Handler:      a.Server().Handler(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}

	report := a.Diagnose(ctx)
	for _, item := range report.Items {
		if item.Status != diagnostics.StatusPass {
			a.log.WithField("check", item.ID).WithField("status", item.Status).Warn(item.Message)
		}
	}

	a.Pool.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http shutdown incomplete")
	}
	if err := a.Pool.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("workers interrupted, unfinished jobs will be redelivered")
	}
	return serveErr
}
