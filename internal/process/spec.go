package process

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/respawn/internal/logger"
)

// DefaultKillTimeout is the grace period between SIGTERM and SIGKILL.
const DefaultKillTimeout = 1600 * time.Millisecond

// InterpreterNone disables interpreter wrapping.
const InterpreterNone = "none"

const shellMeta = "|&;<>*?`$\"'(){}[]~"

// Spec describes a process to be supervised. It is immutable once registered.
type Spec struct {
	Name                   string            `json:"name"`
	Command                string            `json:"command"`
	Args                   []string          `json:"args,omitempty"`
	Interpreter            string            `json:"interpreter,omitempty"`
	InterpreterArgs        []string          `json:"interpreter_args,omitempty"`
	WorkDir                string            `json:"work_dir,omitempty"`
	Env                    map[string]string `json:"env,omitempty"`
	AutoRestart            bool              `json:"autorestart"`
	MaxRestarts            int               `json:"max_restarts"`
	MinUptime              time.Duration     `json:"min_uptime"`
	RestartDelay           time.Duration     `json:"restart_delay"`
	ExpBackoffRestartDelay time.Duration     `json:"exp_backoff_restart_delay,omitempty"`
	KillTimeout            time.Duration     `json:"kill_timeout"`
	PIDFile                string            `json:"pid_file,omitempty"`
	Log                    logger.FileConfig `json:"log"`
}

// ValidName reports whether s may be used as a process name. Names end up in
// file paths, so only [A-Za-z0-9._-] is accepted and ".." is rejected.
func ValidName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// Validate checks the static parts of a spec. Filesystem checks happen at launch.
func (s *Spec) Validate() error {
	var errs []error
	if !ValidName(s.Name) {
		errs = append(errs, fmt.Errorf("invalid process name %q", s.Name))
	}
	if strings.TrimSpace(s.Command) == "" {
		errs = append(errs, errors.New("command is required"))
	}
	if s.WorkDir != "" && !filepath.IsAbs(s.WorkDir) {
		errs = append(errs, fmt.Errorf("work_dir must be absolute: %s", s.WorkDir))
	}
	if s.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("max_restarts must be >= 0, got %d", s.MaxRestarts))
	}
	if s.MinUptime < 0 || s.RestartDelay < 0 || s.ExpBackoffRestartDelay < 0 || s.KillTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("process %s: %w", s.Name, err)
	}
	return nil
}

// GracePeriod returns KillTimeout, or DefaultKillTimeout when unset.
func (s *Spec) GracePeriod() time.Duration {
	if s.KillTimeout > 0 {
		return s.KillTimeout
	}
	return DefaultKillTimeout
}

func (s *Spec) interpreter() string {
	in := strings.TrimSpace(s.Interpreter)
	if in == InterpreterNone {
		return ""
	}
	return in
}

// BuildCommand constructs the *exec.Cmd for this spec.
//
// With an interpreter the argv is interpreter, interpreter args, command, args.
// Without one, an explicit Args list executes Command directly. A bare command
// string is split on whitespace unless it carries shell metacharacters, in which
// case it runs under the platform shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if in := s.interpreter(); in != "" {
		argv := make([]string, 0, len(s.InterpreterArgs)+1+len(s.Args))
		argv = append(argv, s.InterpreterArgs...)
		argv = append(argv, cmdStr)
		argv = append(argv, s.Args...)
		// #nosec G204
		return exec.Command(in, argv...)
	}
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(cmdStr, s.Args...)
	}
	if script, ok := parseExplicitShell(cmdStr); ok {
		return shellCommand(script)
	}
	if strings.ContainsAny(cmdStr, shellMeta) {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// scriptPath returns the script an interpreter will be asked to run, resolved
// against WorkDir. Empty when no interpreter is configured.
func (s *Spec) scriptPath() string {
	if s.interpreter() == "" {
		return ""
	}
	p := strings.TrimSpace(s.Command)
	if !filepath.IsAbs(p) && s.WorkDir != "" {
		p = filepath.Join(s.WorkDir, p)
	}
	return p
}

// parseExplicitShell detects "sh -c <script>" style commands so they are not
// wrapped in a second shell. One pair of outer quotes around the script is
// stripped.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
