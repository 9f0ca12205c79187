package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/respawn/internal/logger"
)

const (
	// chunkBuffer bounds how far output capture may run ahead of the consumer.
	chunkBuffer = 64
	// outputWaitDelay bounds how long output is drained after the child was
	// reaped, for descendants that left the process group and kept the pipes.
	outputWaitDelay = 2 * time.Second
)

// Chunk is one read from a child's output stream. Data is owned by the chunk.
type Chunk struct {
	Stream logger.Stream
	Data   []byte
	At     time.Time
}

// ExitInfo describes how a run ended. Code is -1 when the process was killed
// by a signal or never produced a wait status.
type ExitInfo struct {
	Code     int
	Signal   string
	Err      error
	ExitedAt time.Time
}

// Handle is a running child process produced by Launch.
type Handle struct {
	name      string
	runID     string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	pidFile   string

	pipes     []*os.File
	readers   sync.WaitGroup
	outMu     sync.RWMutex
	outClosed bool
	abandon   chan struct{}
	chunks    chan Chunk
	done      chan struct{}
	exit      ExitInfo
}

// Launch spawns the process described by spec with the given environment
// (nil inherits the supervisor's). It performs no retries; any failure is a
// *LaunchError.
func Launch(spec Spec, env []string) (*Handle, error) {
	if err := checkWorkDir(spec); err != nil {
		return nil, err
	}
	if script := spec.scriptPath(); script != "" {
		if _, err := os.Stat(script); err != nil {
			return nil, classifyStartError(spec.Name, err)
		}
	}

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd)

	h := &Handle{
		name:    spec.Name,
		runID:   uuid.NewString(),
		cmd:     cmd,
		pidFile: spec.PIDFile,
		abandon: make(chan struct{}),
		chunks:  make(chan Chunk, chunkBuffer),
		done:    make(chan struct{}),
	}
	// The child writes straight into OS pipes, so Wait returns as soon as it
	// is reaped instead of when every descendant has closed them.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &LaunchError{Name: spec.Name, Reason: ReasonFailed, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, &LaunchError{Name: spec.Name, Reason: ReasonFailed, Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	err = cmd.Start()
	_ = outW.Close()
	_ = errW.Close()
	if err != nil {
		_ = outR.Close()
		_ = errR.Close()
		return nil, classifyStartError(spec.Name, err)
	}
	h.pipes = []*os.File{outR, errR}
	h.readers.Add(2)
	go h.read(outR, logger.Stdout)
	go h.read(errR, logger.Stderr)
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	if h.pidFile != "" {
		// A missing PID file does not make the run invalid.
		_ = WritePIDFile(h.pidFile, h.pid)
	}
	go h.wait()
	return h, nil
}

func checkWorkDir(spec Spec) error {
	if spec.WorkDir == "" {
		return nil
	}
	fi, err := os.Stat(spec.WorkDir)
	if err != nil {
		return &LaunchError{Name: spec.Name, Reason: ReasonInvalidWorkDir, Err: err}
	}
	if !fi.IsDir() {
		return &LaunchError{Name: spec.Name, Reason: ReasonInvalidWorkDir, Err: fmt.Errorf("%s is not a directory", spec.WorkDir)}
	}
	return nil
}

// wait reaps the child. The exit time is taken at reap, then whatever is
// left of the process group is killed so it cannot outlive the run. Output
// is closed before Done so consumers that range over Output have seen every
// byte by the time they observe the exit.
func (h *Handle) wait() {
	err := h.cmd.Wait()
	info := exitInfo(h.cmd.ProcessState, err)
	info.ExitedAt = time.Now()
	h.exit = info
	killGroup(h.pid)
	h.closeOutput()
	if h.pidFile != "" {
		_ = os.Remove(h.pidFile)
	}
	close(h.done)
}

func (h *Handle) read(r *os.File, stream logger.Stream) {
	defer h.readers.Done()
	_, _ = io.Copy(&chunkWriter{stream: stream, h: h}, r)
}

func (h *Handle) Name() string         { return h.name }
func (h *Handle) PID() int             { return h.pid }
func (h *Handle) RunID() string        { return h.runID }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Output yields captured stdout/stderr chunks. It is closed once the process
// has exited and both pipes are drained. The caller must keep draining it.
func (h *Handle) Output() <-chan Chunk { return h.chunks }

// Done is closed exactly once, after Output has been closed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exit returns the exit information. Only valid after Done is closed.
func (h *Handle) Exit() ExitInfo { return h.exit }

// Terminate asks the process group to exit.
func (h *Handle) Terminate() error { return terminate(h.cmd.Process) }

// Kill forcibly stops the process group.
func (h *Handle) Kill() error { return kill(h.cmd.Process) }

// closeOutput waits for both readers to hit EOF and then closes the chunk
// channel. Readers still blocked after outputWaitDelay are cut loose, and
// any write they attempt afterwards is dropped.
func (h *Handle) closeOutput() {
	drained := make(chan struct{})
	go func() {
		h.readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(outputWaitDelay):
	}
	close(h.abandon)
	for _, f := range h.pipes {
		_ = f.Close()
	}
	h.outMu.Lock()
	h.outClosed = true
	close(h.chunks)
	h.outMu.Unlock()
}

type chunkWriter struct {
	stream logger.Stream
	h      *Handle
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.h.outMu.RLock()
	defer w.h.outMu.RUnlock()
	if w.h.outClosed {
		return 0, io.ErrClosedPipe
	}
	data := make([]byte, len(p))
	copy(data, p)
	select {
	case w.h.chunks <- Chunk{Stream: w.stream, Data: data, At: time.Now()}:
		return len(p), nil
	case <-w.h.abandon:
		return 0, io.ErrClosedPipe
	}
}
