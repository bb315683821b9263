package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kudoprotocol/kudo-x402/config"
)

const shutdownTimeout = 10 * time.Second

func loadEnv(cmd *cobra.Command) error {
	files, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil {
		return err
	}
	return config.LoadDotEnv(files...)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// serve runs handler on port until ctx is cancelled, then drains in-flight
// requests and runs the cleanup funcs in order
func serve(ctx context.Context, logger *slog.Logger, name string, port int, handler http.Handler, cleanup ...func(context.Context) error) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "service", name, "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", "service", name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	for _, fn := range cleanup {
		if cerr := fn(shutdownCtx); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}
