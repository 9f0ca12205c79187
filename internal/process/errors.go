package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// LaunchReason classifies why a process could not be spawned.
type LaunchReason string

const (
	ReasonNotFound         LaunchReason = "not_found"
	ReasonPermissionDenied LaunchReason = "permission_denied"
	ReasonInvalidWorkDir   LaunchReason = "invalid_work_dir"
	ReasonFailed           LaunchReason = "failed"
)

// LaunchError is returned by Launch when the OS refused to start the process.
// It is never retried by the launcher.
type LaunchError struct {
	Name   string
	Reason LaunchReason
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %s: %v", e.Name, e.Reason, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// AsLaunchError unwraps err into a *LaunchError if it carries one.
func AsLaunchError(err error) (*LaunchError, bool) {
	var le *LaunchError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

func classifyStartError(name string, err error) *LaunchError {
	reason := ReasonFailed
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		reason = ReasonNotFound
	case errors.Is(err, fs.ErrPermission):
		reason = ReasonPermissionDenied
	}
	return &LaunchError{Name: name, Reason: reason, Err: err}
}
