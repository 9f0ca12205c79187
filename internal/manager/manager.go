package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/respawn/internal/env"
	"github.com/loykin/respawn/internal/history"
	"github.com/loykin/respawn/internal/process"
)

var (
	ErrUnknownProcess   = errors.New("unknown process")
	ErrDuplicateProcess = errors.New("process already registered")
	ErrShuttingDown     = errors.New("supervisor shutting down")
)

// Manager owns the mapping from name to supervision unit. Units run
// independently; the manager only routes operator requests.
type Manager struct {
	mu       sync.RWMutex
	procs    map[string]*ManagedProcess
	closed   bool
	envM     *env.Env
	logger   *slog.Logger
	bus      *Bus
	recorder *history.Recorder
}

type Option func(*Manager)

// WithLogger sets the supervisor logger. Units derive theirs from it.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithEnv sets the global environment layered under each process's env.
func WithEnv(e *env.Env) Option {
	return func(m *Manager) { m.envM = e }
}

// WithHistory exports every transition through r. The manager closes r on
// Shutdown.
func WithHistory(r *history.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		procs:  make(map[string]*ManagedProcess),
		envM:   env.New(),
		logger: slog.Default(),
		bus:    NewBus(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register adds a stopped unit for spec.
func (m *Manager) Register(spec process.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShuttingDown
	}
	if _, ok := m.procs[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProcess, spec.Name)
	}
	envM := m.envM
	perProc := spec.Env
	m.procs[spec.Name] = newManagedProcess(spec, unitDeps{
		environ:  func() []string { return envM.Merge(perProc) },
		logger:   m.logger,
		bus:      m.bus,
		recorder: m.recorder,
	})
	return nil
}

// Remove stops the process and forgets it.
func (m *Manager) Remove(name string, wait time.Duration) error {
	m.mu.Lock()
	mp, ok := m.procs[name]
	if ok {
		delete(m.procs, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProcess, name)
	}
	return mp.Shutdown(wait)
}

func (m *Manager) get(name string) (*ManagedProcess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrShuttingDown
	}
	mp, ok := m.procs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, name)
	}
	return mp, nil
}

// Start spawns name. A *process.LaunchError is returned when the launch failed.
func (m *Manager) Start(name string) error {
	mp, err := m.get(name)
	if err != nil {
		return err
	}
	return mp.Start()
}

// Stop stops name; wait <= 0 uses the process's kill timeout.
func (m *Manager) Stop(name string, wait time.Duration) error {
	mp, err := m.get(name)
	if err != nil {
		return err
	}
	return mp.Stop(wait)
}

func (m *Manager) Restart(name string) error {
	mp, err := m.get(name)
	if err != nil {
		return err
	}
	return mp.Restart()
}

func (m *Manager) Status(name string) (process.Status, error) {
	mp, err := m.get(name)
	if err != nil {
		return process.Status{}, err
	}
	return mp.Status(), nil
}

// Spec returns the registered spec of name.
func (m *Manager) Spec(name string) (process.Spec, error) {
	mp, err := m.get(name)
	if err != nil {
		return process.Spec{}, err
	}
	return mp.Spec(), nil
}

// Names returns registered names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.procs))
	for n := range m.procs {
		names = append(names, n)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (m *Manager) match(pattern string) []*ManagedProcess {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ManagedProcess
	for name, mp := range m.procs {
		if wildcardMatch(name, pattern) {
			out = append(out, mp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// StatusAll returns the status of every process, sorted by name.
func (m *Manager) StatusAll() []process.Status {
	return m.StatusMatch("*")
}

// StatusMatch returns statuses of processes whose names match the
// wildcard pattern.
func (m *Manager) StatusMatch(pattern string) []process.Status {
	units := m.match(pattern)
	res := make([]process.Status, 0, len(units))
	for _, mp := range units {
		res = append(res, mp.Status())
	}
	return res
}

// StopMatch stops all processes with names that match the wildcard pattern.
// Returns the first error encountered, if any.
func (m *Manager) StopMatch(pattern string, wait time.Duration) error {
	var firstErr error
	for _, mp := range m.match(pattern) {
		if err := mp.Stop(wait); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartAll starts every registered process concurrently. A launch failure
// of one process does not prevent the others from starting.
func (m *Manager) StartAll() error {
	units := m.match("*")
	errs := make([]error, len(units))
	var wg sync.WaitGroup
	for i, mp := range units {
		wg.Add(1)
		go func(i int, mp *ManagedProcess) {
			defer wg.Done()
			errs[i] = mp.Start()
		}(i, mp)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Subscribe registers fn for every transition of every process. The
// returned function cancels the subscription.
func (m *Manager) Subscribe(fn func(TransitionEvent)) func() {
	return m.bus.Subscribe(fn)
}

// Shutdown stops every process concurrently, then flushes history.
func (m *Manager) Shutdown(wait time.Duration) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	units := make([]*ManagedProcess, 0, len(m.procs))
	for _, mp := range m.procs {
		units = append(units, mp)
	}
	m.mu.Unlock()

	errs := make([]error, len(units)+2)
	var wg sync.WaitGroup
	for i, mp := range units {
		wg.Add(1)
		go func(i int, mp *ManagedProcess) {
			defer wg.Done()
			errs[i] = mp.Shutdown(wait)
		}(i, mp)
	}
	wg.Wait()
	errs[len(units)] = m.recorder.Close()
	errs[len(units)+1] = m.bus.Close()
	m.logger.Info("supervisor stopped", "processes", len(units))
	return errors.Join(errs...)
}

// wildcardMatch matches name against a pattern with '*' wildcard (glob-like, case-sensitive).
// It returns true if the sequence of non-* segments appear in order in name.
func wildcardMatch(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	// fast path: no '*'
	if !strings.Contains(pattern, "*") {
		return name == pattern
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	if parts[0] != "" {
		if !strings.HasPrefix(name, parts[0]) {
			return false
		}
		idx = len(parts[0])
	}
	for i := 1; i < len(parts)-1; i++ {
		p := parts[i]
		if p == "" {
			continue
		}
		j := strings.Index(name[idx:], p)
		if j < 0 {
			return false
		}
		idx += j + len(p)
	}
	last := parts[len(parts)-1]
	if last != "" {
		return strings.HasSuffix(name, last) && idx <= len(name)-len(last)
	}
	return true
}
