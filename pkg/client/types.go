package client

import (
	"fmt"
	"net/http"
	"time"
)

// StopRequest selects processes to stop by name or wildcard.
type StopRequest struct {
	Name     string        `json:"name,omitempty"`
	Wildcard string        `json:"wildcard,omitempty"`
	Wait     time.Duration `json:"wait,omitempty"`
}

// StatusQuery represents query parameters for status endpoint.
// Both empty lists every process.
type StatusQuery struct {
	Name     string
	Wildcard string
}

// LogsQuery selects the tail of a process's log file.
type LogsQuery struct {
	Name   string
	Lines  int
	Stderr bool
}

// Usage is a resource sample of a running process.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
}

// ProcessStatus represents the status of a single process
type ProcessStatus struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Running       bool       `json:"running"`
	PID           int        `json:"pid,omitempty"`
	RunID         string     `json:"run_id,omitempty"`
	Restarts      int        `json:"restarts"`
	TotalRestarts int        `json:"total_restarts"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     time.Time  `json:"stopped_at"`
	ExitCode      int        `json:"exit_code"`
	ExitSignal    string     `json:"exit_signal,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	NextRestartAt *time.Time `json:"next_restart_at,omitempty"`
	Usage         *Usage     `json:"usage,omitempty"`
}

// LogsResponse carries the requested log lines, oldest first.
type LogsResponse struct {
	Name   string   `json:"name"`
	Stream string   `json:"stream"`
	Path   string   `json:"path"`
	Lines  []string `json:"lines"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Message    string
	// Reason is the launch failure class on 422 responses.
	Reason string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("API error %d: %s (%s)", e.StatusCode, e.Message, e.Reason)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// NotFound reports an unknown process name.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// LaunchFailed reports that the process could not be spawned.
func (e *APIError) LaunchFailed() bool { return e.StatusCode == http.StatusUnprocessableEntity }
