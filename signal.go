package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext derives a context canceled by the first SIGINT or SIGTERM,
// giving in-flight remote writes a chance to finish. A repeat signal skips
// the grace period and exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	notices := make(chan os.Signal, 2)
	signal.Notify(notices, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(notices)

		graceful := false

		for {
			select {
			case sig := <-notices:
				if !graceful {
					graceful = true

					logger.Info("shutting down after signal",
						slog.String("signal", sig.String()),
					)
					cancel()

					continue
				}

				logger.Warn("second signal received, exiting immediately",
					slog.String("signal", sig.String()),
				)
				os.Exit(1)
			case <-parent.Done():
				cancel()

				return
			}
		}
	}()

	return ctx
}
