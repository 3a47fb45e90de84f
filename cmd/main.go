package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/edulution-io/installer/internal/app"
	"github.com/edulution-io/installer/internal/install"
	"github.com/edulution-io/installer/internal/logger"
)

func main() {
	// Load environment variables from .env file if present
	_ = godotenv.Load()

	logger.Initialize()

	settings := install.LoadSettings()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := app.New(app.Options{
		Settings: settings,
		Shutdown: cancel,
	})

	// A signal or a /shutdown request both end up cancelling ctx.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Infof("Received signal %s, shutting down", sig)
	case <-ctx.Done():
		logger.Info("Shutdown requested, stopping server")
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("Server error: %v", err)
		}
		return
	}

	cancel()
	if err := a.Stop(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("Graceful shutdown failed: %v", err)
	}
}
