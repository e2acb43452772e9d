package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// shutdownTimeout bounds a graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Listen opens a TCP listener. An empty or ":0" address picks a random port.
func Listen(addr string) (net.Listener, error) {
	if addr == "" {
		addr = ":0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return listener, nil
}

// Serve runs an HTTP server on listener until ctx is cancelled, then shuts
// it down gracefully.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	logger.Info("Listening", zap.String("addr", listener.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
			return err
		}
		return nil
	}
}
