package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/loykin/respawn/internal/logger"
)

const shutdownTimeout = 5 * time.Second

func newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// stop requests may wait out a kill timeout
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// ListenUnix listens on socketPath with owner-only permissions. A stale
// socket file left by a dead supervisor is replaced; a live one is an error.
func ListenUnix(socketPath string) (net.Listener, error) {
	if _, err := os.Stat(socketPath); err == nil {
		conn, derr := net.DialTimeout("unix", socketPath, 500*time.Millisecond)
		if derr == nil {
			_ = conn.Close()
			return nil, fmt.Errorf("control socket %s is in use by another supervisor", socketPath)
		}
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("remove stale socket %s: %w", socketPath, err)
		}
	}
	if err := logger.EnsureDir(socketPath); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return nil, err
	}
	return ln, nil
}

// Serve runs h on ln until ctx is cancelled, then shuts the server down
// gracefully.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, log *slog.Logger) error {
	srv := newHTTPServer(h)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info("control API listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	<-errCh
	return nil
}

// ServeUnix listens on socketPath and serves h until ctx is cancelled. The
// socket file is removed afterwards.
func ServeUnix(ctx context.Context, socketPath string, h http.Handler, log *slog.Logger) error {
	ln, err := ListenUnix(socketPath)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(socketPath) }()
	return Serve(ctx, ln, h, log)
}

// ServeTCP serves h on a TCP address, used for the optional metrics listener.
func ServeTCP(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return Serve(ctx, ln, h, log)
}
