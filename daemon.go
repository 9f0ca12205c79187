package respawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/respawn/internal/env"
	"github.com/loykin/respawn/internal/history"
	"github.com/loykin/respawn/internal/history/factory"
	"github.com/loykin/respawn/internal/logger"
	"github.com/loykin/respawn/internal/manager"
	"github.com/loykin/respawn/internal/metrics"
	"github.com/loykin/respawn/internal/server"
)

// Daemon is a supervisor assembled from a Config: the managed apps, the
// control socket and the optional metrics listener.
type Daemon struct {
	cfg       *Config
	log       *slog.Logger
	logCloser io.Closer
	gatherer  prometheus.Gatherer
	inner     *manager.Manager
}

type daemonOptions struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// DaemonOption customizes NewDaemon.
type DaemonOption func(*daemonOptions)

// WithDaemonLogger overrides the logger built from the config's log section.
func WithDaemonLogger(l *slog.Logger) DaemonOption {
	return func(o *daemonOptions) { o.logger = l }
}

// WithRegistry registers metrics on r and serves them from g.
func WithRegistry(r prometheus.Registerer, g prometheus.Gatherer) DaemonOption {
	return func(o *daemonOptions) { o.registerer, o.gatherer = r, g }
}

// NewDaemon registers every app in c. Nothing is spawned until Run.
func NewDaemon(c *Config, opts ...DaemonOption) (*Daemon, error) {
	o := daemonOptions{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
	for _, fn := range opts {
		fn(&o)
	}
	d := &Daemon{cfg: c, gatherer: o.gatherer, log: o.logger, logCloser: io.NopCloser(nil)}
	if d.log == nil {
		d.log, d.logCloser = logger.New(c.Log)
	}
	for _, w := range c.Warnings {
		d.log.Warn("config", "file", c.Path, "warning", w)
	}
	if err := metrics.Register(o.registerer); err != nil {
		d.log.Warn("failed to register metrics", "error", err)
	}

	var rec *history.Recorder
	if c.History.Enabled && len(c.History.DSN) > 0 {
		sinks, err := factory.NewSinks(c.History.DSN)
		if err != nil {
			_ = d.logCloser.Close()
			return nil, err
		}
		rec = history.NewRecorder(sinks, d.log)
	}

	e := env.New()
	e.FromOS()
	for k, v := range c.Env {
		e.Set(k, v)
	}
	d.inner = manager.NewManager(
		manager.WithLogger(d.log),
		manager.WithEnv(e),
		manager.WithHistory(rec),
	)
	for _, spec := range c.Apps {
		if err := d.inner.Register(spec); err != nil {
			_ = d.inner.Shutdown(0)
			_ = d.logCloser.Close()
			return nil, err
		}
	}
	return d, nil
}

// Manager exposes the daemon's processes for embedding.
func (d *Daemon) Manager() *Manager { return &Manager{inner: d.inner} }

// Run claims the control socket, starts every app and serves until ctx is
// cancelled. All processes are stopped before Run returns. A launch failure
// leaves that app errored; it does not stop the daemon.
func (d *Daemon) Run(ctx context.Context) error {
	defer func() { _ = d.logCloser.Close() }()

	ln, err := server.ListenUnix(d.cfg.Socket)
	if err != nil {
		_ = d.inner.Shutdown(0)
		return err
	}
	defer func() { _ = os.Remove(d.cfg.Socket) }()

	d.log.Info("supervisor starting", "config", d.cfg.Path, "apps", len(d.cfg.Apps), "pid", os.Getpid())
	if err := d.inner.StartAll(); err != nil {
		d.log.Error("some apps failed to start", "error", err)
	}

	gin.SetMode(gin.ReleaseMode)
	metricsHandler := metrics.HandlerFor(d.gatherer)
	api := server.NewRouter(d.inner, "", metricsHandler).Handler()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	var metricsErr error
	if d.cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeTCP(ctx, d.cfg.MetricsListen, mux, d.log); err != nil {
				metricsErr = fmt.Errorf("metrics listener: %w", err)
				cancel()
			}
		}()
	}

	serveErr := server.Serve(ctx, ln, api, d.log)
	cancel()
	wg.Wait()

	d.log.Info("shutting down")
	start := time.Now()
	shutdownErr := d.inner.Shutdown(0)
	d.log.Debug("shutdown complete", "took", time.Since(start))
	return errors.Join(serveErr, metricsErr, shutdownErr)
}
