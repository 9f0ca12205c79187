package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/respawn/internal/history"
	"github.com/loykin/respawn/internal/logger"
	"github.com/loykin/respawn/internal/metrics"
	"github.com/loykin/respawn/internal/policy"
	"github.com/loykin/respawn/internal/process"
)

// killWait bounds how long a stop waits for the exit after SIGKILL.
const killWait = 5 * time.Second

// ManagedProcess is one supervision unit. A single goroutine owns the child
// handle, the restart timer and the policy history; other goroutines talk to
// it through cmdChan and read state through status snapshots.
//
// State machine:
// Stopped -> Starting -> Running -> (Stopping | Crashed) -> (Starting | Errored | Stopped)
type ManagedProcess struct {
	spec    process.Spec
	limits  policy.Limits
	environ func() []string
	logger  *slog.Logger
	sink    *logger.Sink
	bus     *Bus
	history *history.Recorder

	mu     sync.RWMutex
	status process.Status

	// loop-owned
	handle *process.Handle
	hist   policy.History
	timer  *time.Timer

	cmdChan  chan command
	exitChan chan exitEvent
	doneChan chan struct{}
}

type command struct {
	action commandAction
	wait   time.Duration
	reply  chan error
}

type commandAction int

const (
	ActionStart commandAction = iota
	ActionStop
	ActionRestart
	ActionShutdown
)

// exitEvent is sent by the output pump once a run's output is fully drained.
type exitEvent struct {
	runID     string
	startedAt time.Time
	info      process.ExitInfo
}

type unitDeps struct {
	environ  func() []string
	logger   *slog.Logger
	bus      *Bus
	recorder *history.Recorder
}

// newManagedProcess creates a stopped unit and starts its loop. Nothing is
// spawned until Start.
func newManagedProcess(spec process.Spec, deps unitDeps) *ManagedProcess {
	if deps.logger == nil {
		deps.logger = slog.Default()
	}
	if deps.environ == nil {
		deps.environ = func() []string { return nil }
	}
	mp := &ManagedProcess{
		spec: spec,
		limits: policy.Limits{
			AutoRestart:            spec.AutoRestart,
			MaxRestarts:            spec.MaxRestarts,
			MinUptime:              spec.MinUptime,
			RestartDelay:           spec.RestartDelay,
			ExpBackoffRestartDelay: spec.ExpBackoffRestartDelay,
		},
		environ:  deps.environ,
		logger:   deps.logger.With("process", spec.Name),
		bus:      deps.bus,
		history:  deps.recorder,
		status:   process.Status{Name: spec.Name, State: process.StateStopped},
		cmdChan:  make(chan command, 16),
		exitChan: make(chan exitEvent, 1),
		doneChan: make(chan struct{}),
	}
	mp.sink = logger.NewSink(spec.Name, spec.Log, mp.logger, logger.WithErrorHook(func(we *logger.WriteError) {
		metrics.IncLogWriteError(spec.Name, string(we.Stream), string(we.Reason))
	}))
	metrics.SetCurrentState(spec.Name, string(process.StateStopped), true)

	go mp.run()
	return mp
}

func (mp *ManagedProcess) Name() string       { return mp.spec.Name }
func (mp *ManagedProcess) Spec() process.Spec { return mp.spec }

// Start spawns the process unless it is already running. An operator start
// resets the consecutive restart counter and clears Errored.
func (mp *ManagedProcess) Start() error {
	return mp.send(command{action: ActionStart})
}

// Stop terminates the process, waiting up to wait (KillTimeout
// when zero) before escalating to SIGKILL. A pending restart is cancelled.
func (mp *ManagedProcess) Stop(wait time.Duration) error {
	return mp.send(command{action: ActionStop, wait: wait})
}

func (mp *ManagedProcess) Restart() error {
	return mp.send(command{action: ActionRestart})
}

// Shutdown stops the process and ends the unit. Later commands fail with
// ErrShuttingDown.
func (mp *ManagedProcess) Shutdown(wait time.Duration) error {
	select {
	case <-mp.doneChan:
		return nil
	default:
	}
	err := mp.send(command{action: ActionShutdown, wait: wait})
	if errors.Is(err, ErrShuttingDown) {
		return nil
	}
	return err
}

func (mp *ManagedProcess) send(c command) error {
	c.reply = make(chan error, 1)
	select {
	case mp.cmdChan <- c:
	case <-mp.doneChan:
		return ErrShuttingDown
	}
	select {
	case err := <-c.reply:
		return err
	case <-mp.doneChan:
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrShuttingDown
		}
	}
}

// Status returns a snapshot. Resource usage is sampled while running.
func (mp *ManagedProcess) Status() process.Status {
	mp.mu.RLock()
	st := mp.status
	mp.mu.RUnlock()
	if st.State == process.StateRunning && st.PID > 0 {
		if u, err := process.SampleUsage(st.PID); err == nil {
			st.Usage = u
			metrics.SetUsage(st.Name, u.CPUPercent, u.MemoryRSS)
		}
	}
	return st
}

func (mp *ManagedProcess) State() process.State {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.status.State
}

// Done is closed when the unit loop has ended.
func (mp *ManagedProcess) Done() <-chan struct{} { return mp.doneChan }

func (mp *ManagedProcess) run() {
	defer close(mp.doneChan)
	for {
		var timerC <-chan time.Time
		if mp.timer != nil {
			timerC = mp.timer.C
		}
		select {
		case cmd := <-mp.cmdChan:
			if mp.handleCommand(cmd) {
				return
			}
		case ev := <-mp.exitChan:
			mp.handleExit(ev)
		case <-timerC:
			mp.timer = nil
			mp.handleRestartTimer()
		}
	}
}

// handleCommand executes one command and reports whether the loop must end.
func (mp *ManagedProcess) handleCommand(cmd command) bool {
	var err error
	done := false
	switch cmd.action {
	case ActionStart:
		err = mp.handleStart()
	case ActionStop:
		err = mp.doStop(cmd.wait)
	case ActionRestart:
		if err = mp.doStop(0); err == nil {
			err = mp.handleStart()
		}
	case ActionShutdown:
		err = mp.doStop(cmd.wait)
		if cerr := mp.sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
		done = true
	}
	cmd.reply <- err
	return done
}

func (mp *ManagedProcess) handleStart() error {
	if mp.State().Alive() {
		return nil
	}
	mp.cancelTimer()
	mp.hist.ConsecutiveRestarts = 0
	mp.update(func(s *process.Status) { s.Restarts = 0 })
	return mp.spawn()
}

// spawn launches a new run. Launch failures are fatal for the unit and do
// not count as restarts.
func (mp *ManagedProcess) spawn() error {
	mp.transition(process.StateStarting, nil)
	h, err := process.Launch(mp.spec, mp.environ())
	if err != nil {
		reason := string(process.ReasonFailed)
		if le, ok := process.AsLaunchError(err); ok {
			reason = string(le.Reason)
		}
		metrics.IncLaunchFailure(mp.spec.Name, reason)
		mp.transition(process.StateErrored, func(s *process.Status) {
			s.PID = 0
			s.RunID = ""
			s.LastError = err.Error()
		})
		return err
	}
	mp.handle = h
	mp.hist.LastStart = h.StartedAt()
	metrics.IncStart(mp.spec.Name)
	mp.transition(process.StateRunning, func(s *process.Status) {
		s.PID = h.PID()
		s.RunID = h.RunID()
		s.StartedAt = h.StartedAt()
		s.ExitCode = 0
		s.ExitSignal = ""
		s.LastError = ""
	})
	go mp.pump(h)
	return nil
}

// pump drains the run's output into the sink, then reports the exit. The
// exit is only delivered after the last chunk has been written.
func (mp *ManagedProcess) pump(h *process.Handle) {
	for c := range h.Output() {
		_ = mp.sink.Write(c.Stream, c.Data)
	}
	<-h.Done()
	ev := exitEvent{runID: h.RunID(), startedAt: h.StartedAt(), info: h.Exit()}
	select {
	case mp.exitChan <- ev:
	case <-mp.doneChan:
	}
}

// handleExit processes an exit nobody asked for.
func (mp *ManagedProcess) handleExit(ev exitEvent) {
	if mp.handle == nil || mp.handle.RunID() != ev.runID {
		mp.logger.Debug("ignoring stale exit", "run_id", ev.runID)
		return
	}
	mp.handle = nil
	metrics.IncCrash(mp.spec.Name)
	metrics.ObserveUptime(mp.spec.Name, ev.info.ExitedAt.Sub(ev.startedAt).Seconds())
	mp.transition(process.StateCrashed, exitUpdate(ev.info))

	d := policy.Decide(mp.limits, mp.hist, ev.info.ExitedAt)
	mp.hist.ConsecutiveRestarts = d.Count
	mp.update(func(s *process.Status) { s.Restarts = d.Count })
	switch {
	case d.Restart:
		mp.scheduleRestart(d.Delay)
	case d.Exhausted:
		metrics.IncExhausted(mp.spec.Name)
		mp.transition(process.StateErrored, func(s *process.Status) {
			s.LastError = fmt.Sprintf("restart limit reached (%d restarts)", mp.limits.MaxRestarts)
		})
	}
}

func (mp *ManagedProcess) scheduleRestart(d time.Duration) {
	at := time.Now().Add(d)
	mp.timer = time.NewTimer(d)
	mp.update(func(s *process.Status) { s.NextRestartAt = &at })
	mp.logger.Info("restart scheduled", "delay", d, "restarts", mp.hist.ConsecutiveRestarts)
}

func (mp *ManagedProcess) cancelTimer() {
	if mp.timer == nil {
		return
	}
	mp.timer.Stop()
	mp.timer = nil
	mp.update(func(s *process.Status) { s.NextRestartAt = nil })
	mp.logger.Debug("pending restart cancelled")
}

func (mp *ManagedProcess) handleRestartTimer() {
	mp.update(func(s *process.Status) { s.NextRestartAt = nil })
	if mp.State() != process.StateCrashed {
		return
	}
	metrics.IncRestart(mp.spec.Name)
	mp.update(func(s *process.Status) { s.TotalRestarts++ })
	_ = mp.spawn()
}

// doStop brings the unit to Stopped from any state.
func (mp *ManagedProcess) doStop(wait time.Duration) error {
	mp.cancelTimer()
	switch mp.State() {
	case process.StateStopped:
		return nil
	case process.StateCrashed, process.StateErrored:
		mp.transition(process.StateStopped, nil)
		return nil
	}
	h := mp.handle
	if h == nil {
		mp.transition(process.StateStopped, nil)
		return nil
	}
	if wait <= 0 {
		wait = mp.spec.GracePeriod()
	}

	mp.transition(process.StateStopping, nil)
	if err := h.Terminate(); err != nil {
		mp.logger.Warn("terminate failed", "pid", h.PID(), "error", err)
	}
	forced := false
	ev, ok := mp.awaitExit(h.RunID(), wait)
	if !ok {
		forced = true
		mp.logger.Warn("grace period elapsed, killing", "pid", h.PID(), "wait", wait)
		if err := h.Kill(); err != nil {
			mp.logger.Warn("kill failed", "pid", h.PID(), "error", err)
		}
		ev, ok = mp.awaitExit(h.RunID(), killWait)
	}
	mp.handle = nil
	metrics.IncStop(mp.spec.Name, forced)
	if !ok {
		err := fmt.Errorf("process %s (pid %d) did not exit after SIGKILL", mp.spec.Name, h.PID())
		mp.transition(process.StateStopped, func(s *process.Status) {
			s.PID = 0
			s.StoppedAt = time.Now()
			s.LastError = err.Error()
		})
		return err
	}
	mp.transition(process.StateStopped, exitUpdate(ev.info))
	return nil
}

// awaitExit waits for the exit of runID, discarding stale exits.
func (mp *ManagedProcess) awaitExit(runID string, d time.Duration) (exitEvent, bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case ev := <-mp.exitChan:
			if ev.runID == runID {
				return ev, true
			}
		case <-t.C:
			return exitEvent{}, false
		}
	}
}

func exitUpdate(info process.ExitInfo) func(*process.Status) {
	return func(s *process.Status) {
		s.PID = 0
		s.StoppedAt = info.ExitedAt
		s.ExitCode = info.Code
		s.ExitSignal = info.Signal
		if info.Err != nil {
			s.LastError = info.Err.Error()
		}
	}
}

func (mp *ManagedProcess) update(fn func(*process.Status)) {
	mp.mu.Lock()
	fn(&mp.status)
	mp.mu.Unlock()
}

// transition moves to state to, applying fn to the snapshot under the same
// lock, then logs, counts, publishes and records the change.
func (mp *ManagedProcess) transition(to process.State, fn func(*process.Status)) {
	mp.mu.Lock()
	from := mp.status.State
	pid := mp.status.PID
	mp.status.State = to
	mp.status.Running = to == process.StateRunning
	if fn != nil {
		fn(&mp.status)
	}
	snap := mp.status
	mp.mu.Unlock()

	if snap.PID != 0 {
		pid = snap.PID
	}
	name := mp.spec.Name
	attrs := []any{"from", string(from), "to", string(to), "pid", pid, "restarts", snap.Restarts}
	switch to {
	case process.StateCrashed:
		mp.logger.Warn("state transition", append(attrs, "exit_code", snap.ExitCode, "signal", snap.ExitSignal)...)
	case process.StateErrored:
		mp.logger.Error("state transition", append(attrs, "error", snap.LastError)...)
	default:
		mp.logger.Info("state transition", attrs...)
	}

	metrics.RecordStateTransition(name, string(from), string(to))
	metrics.SetCurrentState(name, string(from), false)
	metrics.SetCurrentState(name, string(to), true)

	now := time.Now()
	if mp.bus != nil {
		mp.bus.Publish(TransitionEvent{
			Name:     name,
			From:     from,
			To:       to,
			PID:      pid,
			RunID:    snap.RunID,
			Restarts: snap.Restarts,
			ExitCode: snap.ExitCode,
			Signal:   snap.ExitSignal,
			Err:      snap.LastError,
			At:       now,
		})
	}
	mp.history.Record(history.Event{
		Type:       history.TypeFor(string(from), string(to)),
		Name:       name,
		RunID:      snap.RunID,
		PID:        pid,
		From:       string(from),
		To:         string(to),
		ExitCode:   snap.ExitCode,
		Signal:     snap.ExitSignal,
		Restarts:   snap.Restarts,
		Error:      snap.LastError,
		OccurredAt: now.UTC(),
	})
}
