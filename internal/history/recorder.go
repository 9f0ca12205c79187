package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/respawn/internal/metrics"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 5 * time.Second
)

// NamedSink pairs a sink with a label used in logs and metrics.
type NamedSink struct {
	Name string
	Sink Sink
}

// Recorder fans events out to sinks from a background goroutine so that a
// slow or unreachable sink never blocks supervision. Events that do not fit
// in the queue are dropped and logged.
type Recorder struct {
	sinks   []NamedSink
	queue   chan Event
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts a recorder over sinks. It returns nil when sinks is empty;
// a nil *Recorder accepts and discards events.
func NewRecorder(sinks []NamedSink, logger *slog.Logger) *Recorder {
	if len(sinks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sinks:   sinks,
		queue:   make(chan Event, defaultQueueSize),
		logger:  logger,
		timeout: defaultSendTimeout,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues e without blocking.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("history queue full, dropping event", "process", e.Name, "to", e.To)
	}
}

func (r *Recorder) run() {
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := s.Sink.Send(ctx, e); err != nil {
				r.logger.Warn("history sink send failed", "sink", s.Name, "process", e.Name, "error", err)
				metrics.IncHistoryError(s.Name)
			}
			cancel()
		}
	}
	close(r.done)
}

// Close drains queued events and closes every sink.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	var errs []error
	for _, s := range r.sinks {
		if err := s.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
