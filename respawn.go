package respawn

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/respawn/internal/config"
	"github.com/loykin/respawn/internal/history"
	"github.com/loykin/respawn/internal/manager"
	"github.com/loykin/respawn/internal/metrics"
	"github.com/loykin/respawn/internal/process"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type State = process.State

type Config = cfg.Config

type TransitionEvent = manager.TransitionEvent

type HistorySink = history.Sink

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.
type Manager struct{ inner *manager.Manager }

// New returns a Manager logging to slog.Default with no history sinks.
func New() *Manager { return &Manager{inner: manager.NewManager()} }

func (m *Manager) Register(s Spec) error   { return m.inner.Register(s) }
func (m *Manager) Start(name string) error { return m.inner.Start(name) }
func (m *Manager) StartAll() error         { return m.inner.StartAll() }
func (m *Manager) Restart(name string) error {
	return m.inner.Restart(name)
}
func (m *Manager) Stop(name string, wait time.Duration) error {
	return m.inner.Stop(name, wait)
}
func (m *Manager) StopMatch(pattern string, wait time.Duration) error {
	return m.inner.StopMatch(pattern, wait)
}
func (m *Manager) Remove(name string, wait time.Duration) error {
	return m.inner.Remove(name, wait)
}
func (m *Manager) Status(name string) (Status, error) { return m.inner.Status(name) }
func (m *Manager) StatusAll() []Status                { return m.inner.StatusAll() }
func (m *Manager) Names() []string                    { return m.inner.Names() }
func (m *Manager) Shutdown(wait time.Duration) error  { return m.inner.Shutdown(wait) }

// Subscribe calls fn for every state transition until the returned
// function is called.
func (m *Manager) Subscribe(fn func(TransitionEvent)) func() { return m.inner.Subscribe(fn) }

// LoadConfig reads and validates a TOML, YAML or JSON config file.
func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }
