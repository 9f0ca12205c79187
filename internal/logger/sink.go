package logger

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"syscall"
	"time"
)

// WriteReason classifies a failed log write.
type WriteReason string

const (
	ReasonDiskFull         WriteReason = "disk_full"
	ReasonPermissionDenied WriteReason = "permission_denied"
	ReasonIO               WriteReason = "io"
)

// WriteError reports a failed append. It never affects the managed process.
type WriteError struct {
	Stream Stream
	Path   string
	Reason WriteReason
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s log %s: %s: %v", e.Stream, e.Path, e.Reason, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func classifyWriteError(err error) WriteReason {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return ReasonDiskFull
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermissionDenied
	default:
		return ReasonIO
	}
}

// target is one log file. Both streams share a target when merged, and its
// mutex keeps each chunk a single uninterrupted write.
type target struct {
	path string
	mu   sync.Mutex
	w    io.WriteCloser
}

// Sink appends a process's captured output to its log files.
type Sink struct {
	name      string
	stdout    *target
	stderr    *target
	timestamp bool
	layout    string
	fallback  *slog.Logger
	onError   func(*WriteError)
	now       func() time.Time
}

// SinkOption customizes a Sink.
type SinkOption func(*Sink)

// WithErrorHook registers a callback invoked for every failed write.
func WithErrorHook(fn func(*WriteError)) SinkOption {
	return func(s *Sink) { s.onError = fn }
}

// NewSink builds the sink for one process. Parent directories are created
// eagerly; failures surface on the first write.
func NewSink(name string, cfg FileConfig, fallback *slog.Logger, opts ...SinkOption) *Sink {
	if fallback == nil {
		fallback = slog.Default()
	}
	s := &Sink{
		name:      name,
		timestamp: cfg.Timestamp,
		layout:    cfg.TimeFormat,
		fallback:  fallback,
		now:       time.Now,
	}
	if s.layout == "" {
		s.layout = DefaultTimeFormat
	}
	for _, o := range opts {
		o(s)
	}
	byPath := map[string]*target{}
	open := func(path string) *target {
		if path == "" {
			return nil
		}
		if t, ok := byPath[path]; ok {
			return t
		}
		if err := EnsureDir(path); err != nil {
			fallback.Warn("log directory unavailable", "process", name, "path", path, "error", err)
		}
		t := &target{path: path, w: cfg.rotating(path)}
		byPath[path] = t
		return t
	}
	outPath, errPath := cfg.Paths()
	s.stdout = open(outPath)
	s.stderr = open(errPath)
	return s
}

// Write appends p to the file of stream. A chunk is written whole or not at all
// with respect to other chunks on the same file.
func (s *Sink) Write(stream Stream, p []byte) error {
	t := s.stdout
	if stream == Stderr {
		t = s.stderr
	}
	if t == nil || len(p) == 0 {
		return nil
	}
	buf := p
	if s.timestamp {
		prefix := s.now().Format(s.layout) + ": "
		buf = make([]byte, 0, len(prefix)+len(p))
		buf = append(buf, prefix...)
		buf = append(buf, p...)
	}

	t.mu.Lock()
	_, err := t.w.Write(buf)
	t.mu.Unlock()
	if err == nil {
		return nil
	}
	werr := &WriteError{Stream: stream, Path: t.path, Reason: classifyWriteError(err), Err: err}
	s.fallback.Warn("log write failed",
		"process", s.name, "stream", string(stream), "path", t.path, "reason", string(werr.Reason), "error", err)
	if s.onError != nil {
		s.onError(werr)
	}
	return werr
}

// Close releases the underlying files.
func (s *Sink) Close() error {
	var errs []error
	seen := map[*target]bool{}
	for _, t := range []*target{s.stdout, s.stderr} {
		if t == nil || seen[t] {
			continue
		}
		seen[t] = true
		t.mu.Lock()
		errs = append(errs, t.w.Close())
		t.mu.Unlock()
	}
	return errors.Join(errs...)
}
