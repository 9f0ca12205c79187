package process

import "time"

// State is the supervision state of a managed process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
	StateErrored  State = "errored"
)

// States lists every state, used to reset per-state gauges.
var States = []State{StateStopped, StateStarting, StateRunning, StateStopping, StateCrashed, StateErrored}

func (s State) String() string { return string(s) }

// Alive reports whether an OS process exists in this state.
func (s State) Alive() bool { return s == StateRunning || s == StateStopping }

// Status is a point-in-time snapshot of a managed process.
type Status struct {
	Name          string     `json:"name"`
	State         State      `json:"state"`
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
