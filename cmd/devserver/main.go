// Local stand-in for the Tandem document API.
//
// Usage: go run ./cmd/devserver --token dev-token [--listen 127.0.0.1:7313]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tandemapp/tandem-go/internal/devserver"
)

func main() {
	listen := flag.String("listen", devserver.DefaultListen, "address to listen on")
	token := flag.String("token", "", "bearer token clients must present (required)")
	latency := flag.Duration("latency", 0, "artificial delay added to every request")
	failRate := flag.Float64("fail-rate", 0, "probability of an injected 503 per request (0..1)")
	verbose := flag.Bool("verbose", false, "log every request at debug level")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "devserver: --token is required")
		os.Exit(2)
	}

	if *failRate < 0 || *failRate > 1 {
		fmt.Fprintln(os.Stderr, "devserver: --fail-rate must be between 0 and 1")
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	srv := devserver.New(devserver.Options{
		Token:    *token,
		Latency:  *latency,
		FailRate: *failRate,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "devserver: %v\n", err)
		os.Exit(1)
	}

	logger.Info("devserver stopped")
}
