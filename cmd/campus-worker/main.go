package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campuschain/internal/cli"
	"campuschain/internal/log"
	"campuschain/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	logger.Info("Starting campus-worker")

	cfg, err := cli.LoadConfig()
	if err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := cli.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer app.Close()

	app.Caches.StartCleanup(time.Minute)

	g, gctx := errgroup.WithContext(ctx)

	if err := app.Reconciler.Start(gctx); err != nil {
		logger.Error("Failed to start reconciler", log.FieldError, err.Error())
		os.Exit(1)
	}

	if app.AMQP != nil {
		pending := worker.NewPendingWorker(app.Reconciler)
		g.Go(func() error {
			if err := pending.StartupCheck(gctx); err != nil {
				// The reconcile loop retries on its own schedule.
				logger.ErrorContext(gctx, "Failed startup pending check", log.FieldError, err.Error())
			}
			err := app.AMQP.ConsumeTransferPending(gctx, pending.HandlePendingMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.Info("Skipping AMQP message consumption - no AMQP_URL provided")
	}

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-gctx.Done():
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err.Error())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down worker...", log.FieldOperation, log.OpShutdown)
	if err := app.Reconciler.Stop(shutdownCtx); err != nil {
		logger.Warn("Reconciler stop timed out", log.FieldError, err.Error())
	}
	logger.Info("Worker shutdown complete")
}
